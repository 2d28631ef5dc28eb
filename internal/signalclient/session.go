package signalclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
	"github.com/ibrahimalee/Binary-Bond/internal/signaling"
)

var (
	// ErrAlreadyApplied reports a second WaitForOffer or WaitForAnswer on
	// the same session. Descriptions are applied to a peer connection at
	// most once per call.
	ErrAlreadyApplied = errors.New("signalclient: description already applied")

	ErrSessionClosed = errors.New("signalclient: session closed")
)

// CallSession tracks one call's client-side signaling state: which
// descriptions have been applied and which candidates have been seen. State
// is scoped to the session and discarded on Close, so a retried call starts
// clean.
type CallSession struct {
	client *Client
	code   string
	role   room.Role

	mu            sync.Mutex
	closed        bool
	offerApplied  bool
	answerApplied bool
	seen          map[string]struct{}
}

// NewCallSession starts a session for the given room. The role identifies
// which side of the call this client is, so candidate polls exclude its own
// submissions.
func (c *Client) NewCallSession(code string, role room.Role) *CallSession {
	return &CallSession{
		client: c,
		code:   room.Normalize(code),
		role:   role,
		seen:   make(map[string]struct{}),
	}
}

func (s *CallSession) Code() string { return s.code }

func (s *CallSession) SubmitOffer(ctx context.Context, offer room.SessionDescription) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.SubmitOffer(ctx, s.code, offer)
}

func (s *CallSession) SubmitAnswer(ctx context.Context, answer room.SessionDescription) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.SubmitAnswer(ctx, s.code, answer)
}

// SubmitCandidate publishes a local candidate and remembers its signature so
// the candidate stream never hands it back, even if a poll races the
// server-side role filter.
func (s *CallSession) SubmitCandidate(ctx context.Context, cand signaling.WireCandidate) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.AddCandidate(ctx, s.code, s.role, cand); err != nil {
		return err
	}
	s.mu.Lock()
	s.seen[cand.Tagged("").Signature()] = struct{}{}
	s.mu.Unlock()
	return nil
}

// WaitForOffer polls until the room carries an offer or ctx is done. It
// succeeds at most once per session.
func (s *CallSession) WaitForOffer(ctx context.Context) (*room.SessionDescription, error) {
	return s.waitForDescription(ctx, &s.offerApplied, s.client.GetOffer)
}

// WaitForAnswer is WaitForOffer's counterpart for the answer.
func (s *CallSession) WaitForAnswer(ctx context.Context) (*room.SessionDescription, error) {
	return s.waitForDescription(ctx, &s.answerApplied, s.client.GetAnswer)
}

func (s *CallSession) waitForDescription(
	ctx context.Context,
	applied *bool,
	fetch func(context.Context, string) (*room.SessionDescription, error),
) (*room.SessionDescription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if *applied {
		s.mu.Unlock()
		return nil, ErrAlreadyApplied
	}
	s.mu.Unlock()

	for {
		desc, err := fetch(ctx, s.code)
		if err != nil {
			if definiteFailure(ctx, err) {
				return nil, err
			}
			s.client.log.Debug("description poll failed, retrying", "code", s.code, "err", err)
			if err := s.sleep(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if desc != nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return nil, ErrSessionClosed
			}
			if *applied {
				s.mu.Unlock()
				return nil, ErrAlreadyApplied
			}
			*applied = true
			s.mu.Unlock()
			return desc, nil
		}
		if err := s.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// Candidates polls the room and sends each remote candidate exactly once.
// Transient poll failures are logged and retried on the next interval; the
// channel closes when ctx is done, the session is closed, or the room is
// definitively gone.
func (s *CallSession) Candidates(ctx context.Context) <-chan signaling.WireCandidate {
	out := make(chan signaling.WireCandidate)
	go func() {
		defer close(out)
		for {
			if s.checkOpen() != nil {
				return
			}
			cands, err := s.client.Candidates(ctx, s.code, s.role)
			if err != nil {
				if definiteFailure(ctx, err) {
					if ctx.Err() == nil {
						s.client.log.Debug("candidate stream ended", "code", s.code, "err", err)
					}
					return
				}
				s.client.log.Debug("candidate poll failed, retrying", "code", s.code, "err", err)
				if err := s.sleep(ctx); err != nil {
					return
				}
				continue
			}
			for _, cand := range cands {
				if !s.markSeen(cand) {
					continue
				}
				select {
				case out <- cand:
				case <-ctx.Done():
					return
				}
			}
			if err := s.sleep(ctx); err != nil {
				return
			}
		}
	}()
	return out
}

// definiteFailure separates errors worth retrying from ones that cannot
// resolve themselves. Network hiccups and 5xx responses are transient; a
// cancelled context or a room the coordinator no longer knows is final.
func definiteFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrRoomFull)
}

// markSeen records the candidate's content signature, reporting whether it
// was new. A closed session accepts nothing.
func (s *CallSession) markSeen(cand signaling.WireCandidate) bool {
	sig := cand.Tagged("").Signature()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.seen[sig]; ok {
		return false
	}
	s.seen[sig] = struct{}{}
	return true
}

func (s *CallSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *CallSession) sleep(ctx context.Context) error {
	t := time.NewTimer(s.client.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close discards the session's dedup and application state. In-flight
// candidate streams drain and close.
func (s *CallSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.seen = nil
}
