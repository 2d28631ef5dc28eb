package metrics

import "sync"

// Counter names. Kept as flat event strings; the Prometheus handler exposes
// them under a single counter with an `event` label.
const (
	RoomCreated  = "room_created"
	RoomDeleted  = "room_deleted"
	RoomExpired  = "room_expired"
	RoomNotFound = "room_not_found"
	RoomFull     = "room_full"

	OfferAccepted    = "offer_accepted"
	OfferSuppressed  = "offer_suppressed"
	AnswerAccepted   = "answer_accepted"
	AnswerSuppressed = "answer_suppressed"
	CandidateAdded   = "candidate_added"

	PushJoined    = "push_joined"
	PushRelayed   = "push_relayed"
	PushRateLimit = "push_rate_limited"
	PushBadMsg    = "push_bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry. It exists so the
// coordinator's enforcement paths stay observable and testable without
// dragging in a metrics backend dependency.
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
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
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
