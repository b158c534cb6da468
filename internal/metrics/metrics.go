package metrics

import "sync"

// Relay event names. Names are intentionally simple; a follow-up metrics task
// can standardize and export these via OTel.
const (
	ConnOpened       = "conn_opened"
	ConnClosed       = "conn_closed"
	RoomJoined       = "room_joined"
	JoinRejected     = "join_rejected"
	SignalForwarded  = "signal_forwarded"
	PublicKeyRelayed = "public_key_relayed"
	PeerLeft         = "peer_left"
	PublishDropped   = "publish_dropped"
	InvalidMessage   = "invalid_message"
	RateLimited      = "rate_limited"
	StoreFailure     = "store_failure"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep protocol logic testable while still exposing counters
// for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
