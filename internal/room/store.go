package room

import (
	"errors"
	"time"

	"github.com/go4org/hashtriemap"

	"github.com/ibrahimalee/Binary-Bond/internal/metrics"
)

// Clock abstracts time for TTL tests. A nil Clock means wall-clock time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config carries the store's tunables. Zero values fall back to defaults.
type Config struct {
	// TTL is the maximum room age before SweepExpired removes it.
	TTL time.Duration

	// CodeLength is the generated room code length.
	CodeLength int
}

const DefaultTTL = time.Hour

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	return c
}

// Store maps canonical room codes to rooms. The map itself is a concurrent
// hash-trie; per-room field mutation is serialized by the room's own mutex, so
// operations on distinct rooms never contend.
type Store struct {
	cfg     Config
	metrics *metrics.Metrics
	clock   Clock

	rooms hashtriemap.HashTrieMap[string, *Room]
}

func NewStore(cfg Config, m *metrics.Metrics, clock Clock) *Store {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Store{
		cfg:     cfg.withDefaults(),
		metrics: m,
		clock:   clock,
	}
}

func (s *Store) Metrics() *metrics.Metrics { return s.metrics }

// Create allocates a room under the canonicalized code. It fails with
// ErrRoomExists when the code is already taken.
func (s *Store) Create(code string) (*Room, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrRoomNotFound
	}
	r := &Room{
		Code:      code,
		CreatedAt: s.clock.Now(),
	}
	if _, loaded := s.rooms.LoadOrStore(code, r); loaded {
		return nil, ErrRoomExists
	}
	s.metrics.Inc(metrics.RoomCreated)
	return r, nil
}

// CreateWithGeneratedCode allocates a room under a fresh random code. A
// collision is retried once with a new code; a second collision is reported
// as an internal failure.
func (s *Store) CreateWithGeneratedCode() (*Room, error) {
	for attempt := 0; attempt < 2; attempt++ {
		code, err := GenerateCode(s.cfg.CodeLength)
		if err != nil {
			return nil, err
		}
		r, err := s.Create(code)
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, errors.New("room: could not allocate a unique code")
}

// Get looks up a room case-insensitively.
func (s *Store) Get(code string) (*Room, error) {
	r, ok := s.rooms.Load(Normalize(code))
	if !ok {
		s.metrics.Inc(metrics.RoomNotFound)
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// SetOffer stores the room's offer. First write wins: a repeat call is a
// silent no-op reported as success, whether or not the payload matches.
func (s *Store) SetOffer(code string, desc SessionDescription) error {
	r, err := s.Get(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offer != nil {
		s.metrics.Inc(metrics.OfferSuppressed)
		return nil
	}
	r.offer = &desc
	s.metrics.Inc(metrics.OfferAccepted)
	return nil
}

// SetAnswer stores the room's answer with the same first-write-wins contract
// as SetOffer.
func (s *Store) SetAnswer(code string, desc SessionDescription) error {
	r, err := s.Get(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answer != nil {
		s.metrics.Inc(metrics.AnswerSuppressed)
		return nil
	}
	r.answer = &desc
	s.metrics.Inc(metrics.AnswerAccepted)
	return nil
}

// AddCandidate appends a candidate record. Duplicates are stored as submitted;
// deduplication is the consuming peer's job, keyed by Candidate.Signature.
func (s *Store) AddCandidate(code string, c Candidate) error {
	r, err := s.Get(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
	s.metrics.Inc(metrics.CandidateAdded)
	return nil
}

// Candidates returns every candidate in submission order. The result is a
// copy; it is never nil for an existing room.
func (s *Store) Candidates(code string) ([]Candidate, error) {
	return s.CandidatesFor(code, "")
}

// CandidatesFor returns candidates in submission order, excluding those the
// given role submitted itself so a peer never sees its own candidates echoed
// back. An empty or unknown role returns everything.
func (s *Store) CandidatesFor(code string, self Role) ([]Candidate, error) {
	r, err := s.Get(code)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		if self.Valid() && c.From == self {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove deletes a room. Removing an absent room is a no-op.
func (s *Store) Remove(code string) {
	if _, ok := s.rooms.LoadAndDelete(Normalize(code)); ok {
		s.metrics.Inc(metrics.RoomDeleted)
	}
}

// Len reports the number of live rooms.
func (s *Store) Len() int {
	n := 0
	s.rooms.Range(func(string, *Room) bool {
		n++
		return true
	})
	return n
}

// SweepExpired removes every room older than the configured TTL and returns
// how many were removed. It is cheap enough to run before every external
// request; deployments with a steady process may additionally run it on an
// interval via Sweeper.
func (s *Store) SweepExpired() int {
	now := s.clock.Now()
	removed := 0
	s.rooms.Range(func(code string, r *Room) bool {
		if r.Age(now) > s.cfg.TTL {
			if s.rooms.CompareAndDelete(code, r) {
				removed++
				s.metrics.Inc(metrics.RoomExpired)
			}
		}
		return true
	})
	return removed
}

// Join registers a push-transport participant. The first participant becomes
// the creator, the second the joiner; a third is rejected with ErrRoomFull.
func (s *Store) Join(code string, p Participant) (Role, error) {
	r, err := s.Get(code)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.ID() == p.ID() {
			return roleForSlot(slotOf(r.participants, p.ID())), nil
		}
	}
	if len(r.participants) >= 2 {
		s.metrics.Inc(metrics.RoomFull)
		return "", ErrRoomFull
	}
	r.participants = append(r.participants, p)
	return roleForSlot(len(r.participants) - 1), nil
}

// Leave removes a participant. It returns the remaining peer, if any, so the
// transport can deliver a departure notice, and whether the now-empty room
// was deleted. Leaving a room one is not in is a no-op.
func (s *Store) Leave(code string, p Participant) (remaining Participant, deleted bool) {
	r, err := s.Get(code)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	slot := slotOf(r.participants, p.ID())
	if slot < 0 {
		r.mu.Unlock()
		return nil, false
	}
	r.participants = append(r.participants[:slot], r.participants[slot+1:]...)
	if len(r.participants) > 0 {
		remaining = r.participants[0]
	}
	empty := len(r.participants) == 0
	r.mu.Unlock()

	// Last participant gone: no TTL wait needed, liveness is tracked directly.
	if empty {
		s.Remove(code)
		return nil, true
	}
	return remaining, false
}

// Peer returns the other live participant in the room, if one is connected.
func (s *Store) Peer(code, selfID string) (Participant, bool) {
	r, err := s.Get(code)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.ID() != selfID {
			return p, true
		}
	}
	return nil, false
}

func slotOf(participants []Participant, id string) int {
	for i, p := range participants {
		if p.ID() == id {
			return i
		}
	}
	return -1
}

func roleForSlot(slot int) Role {
	if slot == 0 {
		return RoleCreator
	}
	return RoleJoiner
}
