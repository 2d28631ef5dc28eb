package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ibrahimalee/Binary-Bond/internal/metrics"
	"github.com/ibrahimalee/Binary-Bond/internal/room"
)

const wsWriteWait = 1 * time.Second

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// Origin enforcement lives in the route wiring, which mounts this
		// handler behind the same origin middleware as the polling API. The
		// upgrader itself accepts any origin so the handler can also be
		// served bare.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsClient{
		srv:     s,
		conn:    conn,
		id:      uuid.NewString(),
		limiter: rate.NewLimiter(rate.Limit(s.msgRate()), s.msgRate()),
		done:    make(chan struct{}),
	}
	c.run()
}

func (s *Server) idleTimeout() time.Duration {
	if s.wsIdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.wsIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.wsPingInterval <= 0 {
		return 20 * time.Second
	}
	return s.wsPingInterval
}

func (s *Server) readLimit() int64 {
	if s.maxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.maxMessageBytes
}

func (s *Server) msgRate() int {
	if s.maxMessagesPerSecond <= 0 {
		return 50
	}
	return s.maxMessagesPerSecond
}

// wsClient is one live push-transport connection. It implements
// room.Participant so the store can track occupancy and hand the relay path
// its peer.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	id   string

	limiter *rate.Limiter

	writeMu sync.Mutex

	// roomCode and role are only touched from the read loop.
	roomCode string
	role     room.Role

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) run() {
	defer c.close()

	s := c.srv
	idle := s.idleTimeout()

	c.conn.SetReadLimit(s.readLimit())
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	go c.pingLoop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Check the rate limit after reading so bytes already buffered by the
		// OS are consumed; closing with unread data risks an abortive close
		// that hides the close reason from the client.
		if !c.limiter.Allow() {
			s.store.Metrics().Inc(metrics.PushRateLimit)
			c.fail("rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.fail("expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))

		msg, err := ParseMessage(data)
		if err != nil {
			s.store.Metrics().Inc(metrics.PushBadMsg)
			c.fail(err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		switch msg.Type {
		case MessageTypeCreateRoom:
			c.handleCreateRoom(msg)
		case MessageTypeJoinRoom:
			c.handleJoinRoom(msg)
		case MessageTypeOffer:
			if !c.requireRoom() {
				continue
			}
			if err := s.store.SetOffer(c.roomCode, *msg.Offer); err != nil {
				c.handleStoreError(err)
				continue
			}
			c.relay(msg)
		case MessageTypeAnswer:
			if !c.requireRoom() {
				continue
			}
			if err := s.store.SetAnswer(c.roomCode, *msg.Answer); err != nil {
				c.handleStoreError(err)
				continue
			}
			c.relay(msg)
		case MessageTypeICECandidate:
			if !c.requireRoom() {
				continue
			}
			if err := s.store.AddCandidate(c.roomCode, msg.Candidate.Tagged(c.role)); err != nil {
				c.handleStoreError(err)
				continue
			}
			c.relay(msg)
		case MessageTypeLeaveRoom:
			c.leave()
		default:
			// Server-to-client types arriving from a client.
			s.store.Metrics().Inc(metrics.PushBadMsg)
			c.fail("unexpected message type", websocket.ClosePolicyViolation, "bad message")
			return
		}
	}
}

func (c *wsClient) handleCreateRoom(msg Message) {
	if c.roomCode != "" {
		c.sendError("Already in a room")
		return
	}

	s := c.srv
	var (
		rm  *room.Room
		err error
	)
	if msg.RoomCode != "" {
		rm, err = s.store.Create(msg.RoomCode)
		if errors.Is(err, room.ErrRoomExists) {
			c.sendError("Room already exists")
			return
		}
	} else {
		rm, err = s.store.CreateWithGeneratedCode()
	}
	if err != nil {
		s.log.Error("room allocation failed", "err", err)
		c.sendError("Could not create room")
		return
	}

	role, err := s.store.Join(rm.Code, c)
	if err != nil {
		c.handleStoreError(err)
		return
	}
	c.roomCode, c.role = rm.Code, role
	s.store.Metrics().Inc(metrics.PushJoined)
	s.log.Info("room created", "code", rm.Code, "participant", c.id)

	_ = c.send(Message{Type: MessageTypeRoomCreated, RoomCode: rm.Code})
}

func (c *wsClient) handleJoinRoom(msg Message) {
	if c.roomCode != "" {
		c.sendError("Already in a room")
		return
	}

	s := c.srv
	code := room.Normalize(msg.RoomCode)
	role, err := s.store.Join(code, c)
	if err != nil {
		c.handleStoreError(err)
		return
	}
	c.roomCode, c.role = code, role
	s.store.Metrics().Inc(metrics.PushJoined)
	s.log.Info("room joined", "code", code, "participant", c.id)

	joined := Message{Type: MessageTypeRoomJoined, RoomCode: code}
	_ = c.send(joined)
	if peer, ok := s.store.Peer(code, c.id); ok {
		if pc, ok := peer.(*wsClient); ok {
			_ = pc.send(joined)
		}
	}
}

// relay forwards a validated message to the other live participant. The
// sender never receives its own message back.
func (c *wsClient) relay(msg Message) {
	peer, ok := c.srv.store.Peer(c.roomCode, c.id)
	if !ok {
		return
	}
	pc, ok := peer.(*wsClient)
	if !ok {
		return
	}
	if pc.send(msg) == nil {
		c.srv.store.Metrics().Inc(metrics.PushRelayed)
	}
}

func (c *wsClient) requireRoom() bool {
	if c.roomCode == "" {
		c.sendError("Not in a room")
		return false
	}
	return true
}

func (c *wsClient) handleStoreError(err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.sendError("Room not found")
	case errors.Is(err, room.ErrRoomFull):
		c.sendError("Room is full")
	default:
		c.srv.log.Error("store operation failed", "err", err, "participant", c.id)
		c.sendError("internal error")
	}
}

// leave detaches from the current room, tells the remaining peer, and lets
// the store delete the room once it is empty. Safe to call when not in a
// room.
func (c *wsClient) leave() {
	if c.roomCode == "" {
		return
	}
	code := c.roomCode
	c.roomCode, c.role = "", ""

	remaining, deleted := c.srv.store.Leave(code, c)
	if remaining != nil {
		if pc, ok := remaining.(*wsClient); ok {
			_ = pc.send(Message{Type: MessageTypePeerDisconnected})
		}
	}
	if deleted {
		c.srv.log.Debug("room emptied", "code", code)
	}
}

func (c *wsClient) pingLoop() {
	t := time.NewTicker(c.srv.pingInterval())
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsClient) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) sendError(message string) {
	_ = c.send(Message{Type: MessageTypeRoomError, Error: message})
}

func (c *wsClient) fail(message string, closeCode int, closeReason string) {
	c.sendError(message)
	c.closeWith(closeCode, closeReason)
}

func (c *wsClient) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.leave()
		_ = c.conn.Close()
	})
}
