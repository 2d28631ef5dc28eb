package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
)

// MessageType enumerates the WebSocket wire message names. Client to server:
// create-room, join-room, offer, answer, ice-candidate, leave-room. Server to
// client: room-created, room-joined, room-error, offer, answer,
// ice-candidate, peer-disconnected.
type MessageType string

const (
	MessageTypeCreateRoom   MessageType = "create-room"
	MessageTypeJoinRoom     MessageType = "join-room"
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice-candidate"
	MessageTypeLeaveRoom    MessageType = "leave-room"

	MessageTypeRoomCreated      MessageType = "room-created"
	MessageTypeRoomJoined       MessageType = "room-joined"
	MessageTypeRoomError        MessageType = "room-error"
	MessageTypePeerDisconnected MessageType = "peer-disconnected"
)

// WireCandidate is the ICE candidate shape exchanged with clients. It is the
// room.Candidate payload without the server-side origin tag.
type WireCandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Tagged converts the wire candidate into a stored record attributed to the
// submitting role.
func (c WireCandidate) Tagged(from room.Role) room.Candidate {
	return room.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
		From:             from,
	}
}

func WireCandidateFrom(c room.Candidate) WireCandidate {
	return WireCandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type Message struct {
	Type     MessageType              `json:"type"`
	RoomCode string                   `json:"roomCode,omitempty"`
	Offer    *room.SessionDescription `json:"offer,omitempty"`
	Answer   *room.SessionDescription `json:"answer,omitempty"`
	// Candidate carries ice-candidate payloads. An empty candidate string is
	// the end-of-candidates marker and is relayed like any other.
	Candidate *WireCandidate `json:"candidate,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ParseMessage decodes one wire message strictly: unknown fields and trailing
// data are rejected, and the payload must match the message type.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageTypeCreateRoom:
		// RoomCode is optional: the server generates one when absent.
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Error != "" {
			return fmt.Errorf("create-room message has unexpected fields")
		}
	case MessageTypeJoinRoom, MessageTypeRoomCreated, MessageTypeRoomJoined:
		if m.RoomCode == "" {
			return fmt.Errorf("%s message missing roomCode", m.Type)
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Error != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeOffer:
		if m.Offer == nil {
			return fmt.Errorf("offer message missing offer")
		}
		if m.Offer.Type != "offer" {
			return fmt.Errorf("offer message has offer.type=%q", m.Offer.Type)
		}
		if m.RoomCode != "" || m.Answer != nil || m.Candidate != nil || m.Error != "" {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case MessageTypeAnswer:
		if m.Answer == nil {
			return fmt.Errorf("answer message missing answer")
		}
		if m.Answer.Type != "answer" {
			return fmt.Errorf("answer message has answer.type=%q", m.Answer.Type)
		}
		if m.RoomCode != "" || m.Offer != nil || m.Candidate != nil || m.Error != "" {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case MessageTypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.RoomCode != "" || m.Offer != nil || m.Answer != nil || m.Error != "" {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case MessageTypeLeaveRoom, MessageTypePeerDisconnected:
		if m.RoomCode != "" || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Error != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case MessageTypeRoomError:
		if m.Error == "" {
			return fmt.Errorf("room-error message missing error")
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("room-error message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
