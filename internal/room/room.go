// Package room owns the in-memory room state shared by every delivery
// transport: creation, offer/answer/candidate bookkeeping, participant
// occupancy for push transports, and TTL expiry.
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Role identifies which side of the call a peer is on. The creator publishes
// the offer; the joiner publishes the answer.
type Role string

const (
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
)

func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleJoiner
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleCreator {
		return RoleJoiner
	}
	return RoleCreator
}

// SessionDescription is the JSON-friendly SDP payload exchanged through a
// room. The store treats the SDP body as opaque.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func DescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (d SessionDescription) ToPion() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

// Candidate is a single ICE candidate record. From tags the submitting peer so
// reads can exclude a peer's own candidates.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`

	From Role `json:"from,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit, from Role) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
		From:             from,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Signature returns a canonical content key for deduplication. The origin tag
// is excluded: the same candidate payload redelivered across polls must map to
// the same signature.
func (c Candidate) Signature() string {
	b, _ := json.Marshal(struct {
		Candidate        string  `json:"candidate"`
		SDPMid           *string `json:"sdpMid"`
		SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
		UsernameFragment *string `json:"usernameFragment"`
	}{c.Candidate, c.SDPMid, c.SDPMLineIndex, c.UsernameFragment})
	return string(b)
}

// Participant is a live push-transport connection registered in a room. The
// transport layer supplies the concrete type; the store only tracks identity
// and slot order.
type Participant interface {
	ID() string
}

// Room is the shared negotiation context for one call. All field access goes
// through Store methods, which hold mu.
type Room struct {
	Code      string
	CreatedAt time.Time

	mu         sync.Mutex
	offer      *SessionDescription
	answer     *SessionDescription
	candidates []Candidate

	// Push transport only. Slot order fixes roles: participants[0] is the
	// creator.
	participants []Participant
}

// Offer returns the stored offer, or nil when none has been published yet.
func (r *Room) Offer() *SessionDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offer
}

// Answer returns the stored answer, or nil when none has been published yet.
func (r *Room) Answer() *SessionDescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer
}

// Age reports how long ago the room was created.
func (r *Room) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
