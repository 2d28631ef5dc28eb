package room

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ibrahimalee/Binary-Bond/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testPeer string

func (p testPeer) ID() string { return string(p) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(Config{}, metrics.New(), clock), clock
}

func TestStore_CreateAndGetCaseInsensitive(t *testing.T) {
	s, _ := newTestStore(t)

	r, err := s.Create("ab12cd")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Code != "AB12CD" {
		t.Fatalf("code=%q, want canonical uppercase", r.Code)
	}

	for _, code := range []string{"AB12CD", "ab12cd", "  Ab12Cd  "} {
		got, err := s.Get(code)
		if err != nil {
			t.Fatalf("Get(%q): %v", code, err)
		}
		if got != r {
			t.Fatalf("Get(%q) returned a different room", code)
		}
	}

	if _, err := s.Get("NOPE99"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Get unknown: err=%v, want ErrRoomNotFound", err)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Create("DUPDUP"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("dupdup"); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("duplicate Create: err=%v, want ErrRoomExists", err)
	}
}

func TestStore_CreateWithGeneratedCode(t *testing.T) {
	s, _ := newTestStore(t)

	r, err := s.CreateWithGeneratedCode()
	if err != nil {
		t.Fatalf("CreateWithGeneratedCode: %v", err)
	}
	if len(r.Code) != DefaultCodeLength {
		t.Fatalf("code=%q, want length %d", r.Code, DefaultCodeLength)
	}
	if got, err := s.Get(r.Code); err != nil || got != r {
		t.Fatalf("Get(%q)=%v, %v", r.Code, got, err)
	}
}

func TestStore_OfferFirstWriteWins(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM01"); err != nil {
		t.Fatal(err)
	}

	first := SessionDescription{Type: "offer", SDP: "v=0 first"}
	if err := s.SetOffer("room01", first); err != nil {
		t.Fatalf("SetOffer: %v", err)
	}

	// A repeat submit succeeds but never replaces the stored offer, whether
	// the payload matches or not.
	if err := s.SetOffer("ROOM01", first); err != nil {
		t.Fatalf("repeat SetOffer: %v", err)
	}
	if err := s.SetOffer("ROOM01", SessionDescription{Type: "offer", SDP: "v=0 second"}); err != nil {
		t.Fatalf("conflicting SetOffer: %v", err)
	}

	r, err := s.Get("ROOM01")
	if err != nil {
		t.Fatal(err)
	}
	got := r.Offer()
	if got == nil || got.SDP != first.SDP {
		t.Fatalf("offer=%+v, want the first submission", got)
	}
	if s.Metrics().Get(metrics.OfferAccepted) != 1 {
		t.Fatalf("accepted=%d, want 1", s.Metrics().Get(metrics.OfferAccepted))
	}
	if s.Metrics().Get(metrics.OfferSuppressed) != 2 {
		t.Fatalf("suppressed=%d, want 2", s.Metrics().Get(metrics.OfferSuppressed))
	}
}

func TestStore_AnswerFirstWriteWins(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM02"); err != nil {
		t.Fatal(err)
	}

	first := SessionDescription{Type: "answer", SDP: "v=0 a1"}
	if err := s.SetAnswer("ROOM02", first); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if err := s.SetAnswer("ROOM02", SessionDescription{Type: "answer", SDP: "v=0 a2"}); err != nil {
		t.Fatalf("conflicting SetAnswer: %v", err)
	}

	r, _ := s.Get("ROOM02")
	if got := r.Answer(); got == nil || got.SDP != first.SDP {
		t.Fatalf("answer=%+v, want the first submission", got)
	}
}

func TestStore_SetOfferUnknownRoom(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.SetOffer("MISSIN", SessionDescription{Type: "offer", SDP: "v=0"})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want ErrRoomNotFound", err)
	}
}

func TestStore_CandidatesOrderAndRoleFilter(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM03"); err != nil {
		t.Fatal(err)
	}

	mid := "0"
	for i, c := range []Candidate{
		{Candidate: "candidate:1 host", SDPMid: &mid, From: RoleCreator},
		{Candidate: "candidate:2 srflx", From: RoleJoiner},
		{Candidate: "candidate:3 relay", From: RoleCreator},
	} {
		if err := s.AddCandidate("ROOM03", c); err != nil {
			t.Fatalf("AddCandidate %d: %v", i, err)
		}
	}

	all, err := s.Candidates("room03")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Candidate != "candidate:1 host" || all[2].Candidate != "candidate:3 relay" {
		t.Fatalf("all=%+v, want 3 candidates in submission order", all)
	}

	// The joiner reading its peer's candidates must not see its own echoed
	// back.
	forJoiner, err := s.CandidatesFor("ROOM03", RoleJoiner)
	if err != nil {
		t.Fatal(err)
	}
	if len(forJoiner) != 2 {
		t.Fatalf("forJoiner=%+v, want only the creator's candidates", forJoiner)
	}
	for _, c := range forJoiner {
		if c.From == RoleJoiner {
			t.Fatalf("joiner saw its own candidate: %+v", c)
		}
	}

	forCreator, err := s.CandidatesFor("ROOM03", RoleCreator)
	if err != nil {
		t.Fatal(err)
	}
	if len(forCreator) != 1 || forCreator[0].From != RoleJoiner {
		t.Fatalf("forCreator=%+v, want only the joiner's candidate", forCreator)
	}
}

func TestStore_CandidatesEmptyRoomNotNil(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM04"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Candidates("ROOM04")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("candidates=%v, want empty non-nil slice", got)
	}
}

func TestStore_SweepExpired(t *testing.T) {
	s, clock := newTestStore(t)
	if _, err := s.Create("OLDOLD"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Minute)
	if _, err := s.Create("NEWNEW"); err != nil {
		t.Fatal(err)
	}

	// 61 minutes after the first room, 31 after the second.
	clock.Advance(31 * time.Minute)
	if removed := s.SweepExpired(); removed != 1 {
		t.Fatalf("removed=%d, want 1", removed)
	}
	if _, err := s.Get("OLDOLD"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expired room still reachable: %v", err)
	}
	if _, err := s.Get("NEWNEW"); err != nil {
		t.Fatalf("fresh room swept: %v", err)
	}

	clock.Advance(time.Hour)
	if removed := s.SweepExpired(); removed != 1 {
		t.Fatalf("second sweep removed=%d, want 1", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("Len=%d, want 0", s.Len())
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM05"); err != nil {
		t.Fatal(err)
	}
	s.Remove("room05")
	s.Remove("room05")
	if s.Metrics().Get(metrics.RoomDeleted) != 1 {
		t.Fatalf("deleted=%d, want 1", s.Metrics().Get(metrics.RoomDeleted))
	}
}

func TestStore_JoinAssignsSlots(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM06"); err != nil {
		t.Fatal(err)
	}

	role, err := s.Join("ROOM06", testPeer("a"))
	if err != nil || role != RoleCreator {
		t.Fatalf("first join: role=%q err=%v, want creator", role, err)
	}
	role, err = s.Join("ROOM06", testPeer("b"))
	if err != nil || role != RoleJoiner {
		t.Fatalf("second join: role=%q err=%v, want joiner", role, err)
	}
	if _, err := s.Join("ROOM06", testPeer("c")); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join: err=%v, want ErrRoomFull", err)
	}

	// Rejoining with the same identity keeps the existing slot.
	role, err = s.Join("ROOM06", testPeer("a"))
	if err != nil || role != RoleCreator {
		t.Fatalf("rejoin: role=%q err=%v, want creator", role, err)
	}

	if _, err := s.Join("GHOST1", testPeer("a")); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join unknown: err=%v, want ErrRoomNotFound", err)
	}
}

func TestStore_LeaveNotifiesAndDeletesEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM07"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join("ROOM07", testPeer("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join("ROOM07", testPeer("b")); err != nil {
		t.Fatal(err)
	}

	remaining, deleted := s.Leave("ROOM07", testPeer("a"))
	if deleted {
		t.Fatal("room deleted while a peer remains")
	}
	if remaining == nil || remaining.ID() != "b" {
		t.Fatalf("remaining=%v, want peer b", remaining)
	}

	remaining, deleted = s.Leave("ROOM07", testPeer("b"))
	if !deleted || remaining != nil {
		t.Fatalf("final leave: remaining=%v deleted=%v, want empty room deleted", remaining, deleted)
	}
	if _, err := s.Get("ROOM07"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("emptied room still reachable: %v", err)
	}

	// Leaving a room one is not in, or that no longer exists, is a no-op.
	if _, deleted := s.Leave("ROOM07", testPeer("b")); deleted {
		t.Fatal("leave on missing room reported a deletion")
	}
}

func TestStore_Peer(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Create("ROOM08"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join("ROOM08", testPeer("a")); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Peer("ROOM08", "a"); ok {
		t.Fatal("Peer reported a peer in a one-participant room")
	}

	if _, err := s.Join("ROOM08", testPeer("b")); err != nil {
		t.Fatal(err)
	}
	p, ok := s.Peer("ROOM08", "a")
	if !ok || p.ID() != "b" {
		t.Fatalf("Peer=%v ok=%v, want peer b", p, ok)
	}
}

func TestCandidate_SignatureIgnoresOrigin(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	a := Candidate{Candidate: "candidate:1 host", SDPMid: &mid, SDPMLineIndex: &idx, From: RoleCreator}
	b := a
	b.From = RoleJoiner
	if a.Signature() != b.Signature() {
		t.Fatal("signature depends on origin role")
	}

	c := a
	c.Candidate = "candidate:2 srflx"
	if a.Signature() == c.Signature() {
		t.Fatal("distinct candidates share a signature")
	}
}

func TestRole_Other(t *testing.T) {
	if RoleCreator.Other() != RoleJoiner || RoleJoiner.Other() != RoleCreator {
		t.Fatal("Other does not swap roles")
	}
}
