// Package signaling implements the WebSocket relay that pairs two
// participants in a room and shuttles opaque handshake payloads and public
// keys between them. The relay never inspects signal contents and never sees
// file data.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamdrop/beamdrop/internal/metrics"
	"github.com/beamdrop/beamdrop/internal/pubsub"
	"github.com/beamdrop/beamdrop/internal/ratelimit"
	"github.com/beamdrop/beamdrop/internal/room"
)

const (
	writeWait = 5 * time.Second

	// outboundBuffer bounds the per-connection write queue. A client that
	// cannot drain it stalls only its own read loop.
	outboundBuffer = 32
)

// Server owns the signaling endpoint. One ServeHTTP call handles one
// participant connection for its whole lifetime.
type Server struct {
	log     *slog.Logger
	rooms   room.Repository
	bus     *pubsub.Bus
	metrics *metrics.Metrics

	roomTTL           time.Duration
	maxMessageBytes   int64
	messagesPerSecond int64

	clock    ratelimit.Clock
	upgrader websocket.Upgrader
}

type Options struct {
	RoomTTL           time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int64

	// Clock is used by per-connection rate limiters. Nil means wall clock.
	Clock ratelimit.Clock
}

func NewServer(log *slog.Logger, rooms room.Repository, bus *pubsub.Bus, m *metrics.Metrics, opts Options) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		log:               log,
		rooms:             rooms,
		bus:               bus,
		metrics:           m,
		roomTTL:           opts.RoomTTL,
		maxMessageBytes:   opts.MaxMessageBytes,
		messagesPerSecond: opts.MessagesPerSecond,
		clock:             opts.Clock,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// clientConn is one participant's connection plus its room binding. The
// binding is set on successful join (or duplicate join, so a later close
// still announces the departure) and cleared on close.
type clientConn struct {
	conn *websocket.Conn

	out  chan []byte
	done chan struct{}
	once sync.Once

	// Set while bound to a room.
	roomID   string
	userID   string
	username string
	sub      *pubsub.Subscription
}

func (c *clientConn) send(payload []byte) {
	select {
	case c.out <- payload:
	case <-c.done:
	}
}

func (c *clientConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.metrics.Inc(metrics.ConnOpened)
	s.log.Debug("connection opened", "remote", conn.RemoteAddr().String())

	c := &clientConn{
		conn: conn,
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.send(connectedMessage())
	s.readLoop(r.Context(), c)

	s.leaveRoom(r.Context(), c)
	c.shutdown()
	_ = conn.Close()
	wg.Wait()

	s.metrics.Inc(metrics.ConnClosed)
	s.log.Debug("connection closed", "remote", conn.RemoteAddr().String())
}

func (c *clientConn) writePump() {
	for {
		select {
		case payload := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			// Drain anything queued before the close so replies sent just
			// before shutdown still reach the client.
			for {
				select {
				case payload := <-c.out:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *clientConn) {
	if s.maxMessageBytes > 0 {
		c.conn.SetReadLimit(s.maxMessageBytes)
	}

	limiter := ratelimit.NewTokenBucket(s.clock, s.messagesPerSecond, s.messagesPerSecond)

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			writeClose(c.conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.InvalidMessage)
			c.send(errorMessage(ErrInvalidMessageFormat))
			continue
		}

		env, err := ParseClientMessage(raw)
		if err != nil {
			s.metrics.Inc(metrics.InvalidMessage)
			s.log.Debug("invalid message", "err", err)
			c.send(errorMessage(ErrInvalidMessageFormat))
			continue
		}

		switch env.Type {
		case TypeJoinRoom:
			s.handleJoin(ctx, c, env.Data)
		case TypePeerSignal:
			s.handlePeerSignal(c, raw, env.Data)
		case TypeSendPublicKey:
			s.handleSendPublicKey(c, env.Data)
		}
	}
}

// handleJoin runs the join sequence. Capacity is re-validated here on the
// freshly loaded room; there is no compare-and-swap on the write, so two
// racing joins can in rare cases both pass the check. That window is accepted.
func (s *Server) handleJoin(ctx context.Context, c *clientConn, raw json.RawMessage) {
	var data JoinRoomData
	if err := decodeStrict(raw, &data); err != nil {
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	if c.roomID != "" {
		s.metrics.Inc(metrics.InvalidMessage)
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	rm, err := s.rooms.Get(ctx, data.RoomID)
	if errors.Is(err, room.ErrNotFound) {
		s.metrics.Inc(metrics.JoinRejected)
		c.send(errorMessage(ErrRoomNotFound))
		return
	}
	if err != nil {
		s.metrics.Inc(metrics.StoreFailure)
		s.log.Error("room load failed", "roomId", data.RoomID, "err", err)
		c.send(errorMessage(ErrJoinFailed))
		return
	}

	user := room.User{ID: data.ID, Username: data.Username}

	switch err := rm.Add(user); {
	case errors.Is(err, room.ErrAlreadyJoined):
		// Bind anyway so a clean close still announces peer-left.
		c.roomID = data.RoomID
		c.userID = data.ID
		c.username = data.Username
		s.metrics.Inc(metrics.JoinRejected)
		c.send(errorMessage(ErrAlreadyInRoom))
		return
	case errors.Is(err, room.ErrFull):
		s.metrics.Inc(metrics.JoinRejected)
		c.send(errorMessage(ErrRoomFull))
		return
	case err != nil:
		s.metrics.Inc(metrics.JoinRejected)
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	if err := s.rooms.Put(ctx, data.RoomID, rm, s.roomTTL); err != nil {
		s.metrics.Inc(metrics.StoreFailure)
		s.log.Error("room write failed", "roomId", data.RoomID, "err", err)
		c.send(errorMessage(ErrJoinFailed))
		return
	}

	c.sub = s.bus.Subscribe(room.Key(data.RoomID))
	c.roomID = data.RoomID
	c.userID = data.ID
	c.username = data.Username
	go forwardSubscription(c, c.sub)

	c.send(roomJoinedMessage(user, data.RoomID, rm.IsHost(data.ID)))

	// Re-read so the announcement reflects the post-write state, then tell
	// both sides about each other. The personal peer-joined covers the case
	// where the broadcast raced this connection's subscribe.
	current, err := s.rooms.Get(ctx, data.RoomID)
	if err != nil {
		s.metrics.Inc(metrics.StoreFailure)
		s.log.Error("room re-read failed", "roomId", data.RoomID, "err", err)
		c.send(errorMessage(ErrJoinFailed))
		return
	}
	if occupant, ok := current.Occupant(data.ID); ok {
		s.bus.PublishExcept(room.Key(data.RoomID), peerJoinedMessage(user, data.RoomID, false), c.sub)
		c.send(peerJoinedMessage(occupant, data.RoomID, true))
	}

	s.metrics.Inc(metrics.RoomJoined)
	s.log.Info("user joined room", "roomId", data.RoomID, "userId", data.ID)
}

func (s *Server) handlePeerSignal(c *clientConn, raw []byte, data json.RawMessage) {
	if c.roomID == "" {
		s.metrics.Inc(metrics.InvalidMessage)
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	var sig PeerSignalData
	if err := decodeStrict(data, &sig); err != nil {
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	// The inbound frame is republished byte for byte; the signal blob is
	// never reserialized.
	s.bus.PublishExcept(room.Key(sig.RoomID), raw, c.sub)
	s.metrics.Inc(metrics.SignalForwarded)
	s.log.Debug("signal forwarded", "roomId", sig.RoomID, "from", sig.From, "to", sig.To)
}

func (s *Server) handleSendPublicKey(c *clientConn, data json.RawMessage) {
	if c.roomID == "" {
		s.metrics.Inc(metrics.InvalidMessage)
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	var key PublicKeyData
	if err := decodeStrict(data, &key); err != nil {
		c.send(errorMessage(ErrInvalidMessageFormat))
		return
	}

	s.bus.PublishExcept(room.Key(key.RoomID), republish(TypePublicKeyReceived, data), c.sub)
	s.metrics.Inc(metrics.PublicKeyRelayed)
	s.log.Debug("public key relayed", "roomId", key.RoomID, "from", key.From)
}

// leaveRoom runs the close path for a bound connection: remove the user,
// promote a new host if needed, write back with a fresh TTL, announce the
// departure, drop the subscription. An absent room (expired or raced away)
// skips the store update but still announces.
func (s *Server) leaveRoom(ctx context.Context, c *clientConn) {
	if c.roomID == "" {
		return
	}

	rm, err := s.rooms.Get(ctx, c.roomID)
	switch {
	case err == nil:
		rm.Remove(c.userID)
		if err := s.rooms.Put(ctx, c.roomID, rm, s.roomTTL); err != nil {
			s.metrics.Inc(metrics.StoreFailure)
			s.log.Error("room write failed on leave", "roomId", c.roomID, "err", err)
		}
	case errors.Is(err, room.ErrNotFound):
	default:
		s.metrics.Inc(metrics.StoreFailure)
		s.log.Error("room load failed on leave", "roomId", c.roomID, "err", err)
	}

	s.bus.PublishExcept(room.Key(c.roomID), peerLeftMessage(c.roomID, c.userID, c.username), c.sub)
	if c.sub != nil {
		c.sub.Cancel()
	}

	s.metrics.Inc(metrics.PeerLeft)
	s.log.Info("user left room", "roomId", c.roomID, "userId", c.userID)

	c.roomID = ""
	c.userID = ""
	c.username = ""
	c.sub = nil
}

// forwardSubscription copies room fan-out into the connection's write queue.
// It exits when the subscription is cancelled.
func forwardSubscription(c *clientConn, sub *pubsub.Subscription) {
	for payload := range sub.C() {
		c.send(payload)
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
