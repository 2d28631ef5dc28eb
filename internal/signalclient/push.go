package signalclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
	"github.com/ibrahimalee/Binary-Bond/internal/signaling"
)

const (
	pushWriteWait    = 5 * time.Second
	pushPongWait     = 60 * time.Second
	pushPingInterval = 20 * time.Second
)

// PushConfig configures a push-transport session.
type PushConfig struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:8080/ws".
	URL string

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Log *slog.Logger
}

// PushSession is a live connection to the push transport. Server messages
// arrive on Events; sends go through the typed methods. The session owns the
// connection and its pumps.
type PushSession struct {
	conn *websocket.Conn
	log  *slog.Logger

	events chan signaling.Message

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// DialPush connects and starts the read and ping pumps.
func DialPush(ctx context.Context, cfg PushConfig) (*PushSession, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("signalclient: push URL is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signalclient: dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signalclient: dial %s: %w", cfg.URL, err)
	}

	s := &PushSession{
		conn:   conn,
		log:    log,
		events: make(chan signaling.Message, 16),
		done:   make(chan struct{}),
	}
	go s.readPump()
	go s.pingPump()
	return s, nil
}

// Events delivers server messages in arrival order. The channel closes when
// the connection ends.
func (s *PushSession) Events() <-chan signaling.Message {
	return s.events
}

// CreateRoom asks the server to allocate a room. An empty code lets the
// server generate one; the room-created event carries the result.
func (s *PushSession) CreateRoom(code string) error {
	return s.send(signaling.Message{Type: signaling.MessageTypeCreateRoom, RoomCode: code})
}

func (s *PushSession) JoinRoom(code string) error {
	return s.send(signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomCode: room.Normalize(code)})
}

func (s *PushSession) SendOffer(offer room.SessionDescription) error {
	return s.send(signaling.Message{Type: signaling.MessageTypeOffer, Offer: &offer})
}

func (s *PushSession) SendAnswer(answer room.SessionDescription) error {
	return s.send(signaling.Message{Type: signaling.MessageTypeAnswer, Answer: &answer})
}

func (s *PushSession) SendCandidate(cand signaling.WireCandidate) error {
	return s.send(signaling.Message{Type: signaling.MessageTypeICECandidate, Candidate: &cand})
}

// Leave exits the current room but keeps the connection usable.
func (s *PushSession) Leave() error {
	return s.send(signaling.Message{Type: signaling.MessageTypeLeaveRoom})
}

// Close sends a close frame and tears the connection down. The Events
// channel closes once the read pump drains.
func (s *PushSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(pushWriteWait),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *PushSession) readPump() {
	defer close(s.events)
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pushWriteWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pushPongWait))

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("undecodable push message", "err", err)
			continue
		}
		select {
		case s.events <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *PushSession) pingPump() {
	t := time.NewTicker(pushPingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *PushSession) send(msg signaling.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("signalclient: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signalclient: marshal message: %w", err)
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signalclient: write: %w", err)
	}
	return nil
}
