package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/beamdrop/beamdrop/internal/config"
)

func startTestServer(t *testing.T, cfg config.Config) string {
	t.Helper()

	srv := New(cfg, discardLogger(), BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return "http://" + l.Addr().String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	base := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	var health map[string]any
	if code := getJSON(t, base+"/healthz", &health); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if health["ok"] != true {
		t.Fatalf("healthz body %v", health)
	}

	var ready map[string]any
	if code := getJSON(t, base+"/readyz", &ready); code != http.StatusOK {
		t.Fatalf("readyz status %d", code)
	}

	var version BuildInfo
	if code := getJSON(t, base+"/version", &version); code != http.StatusOK {
		t.Fatalf("version status %d", code)
	}
	if version.Commit != "abc123" {
		t.Fatalf("version body %+v", version)
	}
}

func TestICEEndpointReturnsConfiguredServers(t *testing.T) {
	cfg := config.Config{
		ListenAddr: "127.0.0.1:0",
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	}
	base := startTestServer(t, cfg)

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if code := getJSON(t, base+"/ice", &body); code != http.StatusOK {
		t.Fatalf("ice status %d", code)
	}
	if len(body.ICEServers) != 2 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ice body %+v", body)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	base := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	req, _ := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	req.Header.Set("X-Request-ID", "test-req-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "test-req-1" {
		t.Fatalf("request id not echoed, got %q", got)
	}

	// A generated id appears when the client sends none.
	resp2, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing generated request id")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	cfg := config.Config{ListenAddr: "127.0.0.1:0"}
	srv := New(cfg, discardLogger(), BuildInfo{})
	srv.Mux().HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	resp, err := http.Get("http://" + l.Addr().String() + "/boom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", resp.StatusCode)
	}
}
