package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/beamdrop/beamdrop/internal/config"
	"github.com/beamdrop/beamdrop/internal/httpserver"
	"github.com/beamdrop/beamdrop/internal/metrics"
	"github.com/beamdrop/beamdrop/internal/pubsub"
	"github.com/beamdrop/beamdrop/internal/room"
	"github.com/beamdrop/beamdrop/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

const memorySweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting beamdrop-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"room_ttl", cfg.RoomTTL,
		"redis", cfg.RedisURL != "",
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms, cleanup, err := newRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure room store", "err", err)
		os.Exit(2)
	}
	defer cleanup()

	m := metrics.New()
	bus := pubsub.New(cfg.SubscriberBufferSize, func(string) {
		m.Inc(metrics.PublishDropped)
	})

	sig := signaling.NewServer(logger, rooms, bus, m, signaling.Options{
		RoomTTL:           cfg.RoomTTL,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: int64(cfg.MaxSignalingMessagesPerSecond),
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.Mux().Handle("GET /ws", sig)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// newRepository selects the room store: Redis when configured, otherwise an
// in-process store with a periodic expiry sweep.
func newRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (room.Repository, func(), error) {
	if cfg.RedisURL != "" {
		client, err := room.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("room store: redis")
		return room.NewRedisRepository(client), func() { _ = client.Close() }, nil
	}

	repo := room.NewMemoryRepository()
	sweepCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(memorySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := repo.Sweep(); n > 0 {
					logger.Debug("swept expired rooms", "count", n)
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()
	logger.Info("room store: in-memory")
	return repo, cancel, nil
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
