package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
)

func newWSTest(t *testing.T, cfg Config) (*httptest.Server, *room.Store) {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = room.NewStore(room.Config{}, nil, nil)
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := httptest.NewServer(NewServer(cfg).Handler())
	t.Cleanup(srv.Close)
	return srv, cfg.Store
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func wsRecv(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func wsExpect(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	msg := wsRecv(t, conn)
	if msg.Type != want {
		t.Fatalf("received %q (error %q), want %q", msg.Type, msg.Error, want)
	}
	return msg
}

func TestWebSocketSignalingFlow(t *testing.T) {
	srv, store := newWSTest(t, Config{})

	creator := dialWS(t, srv)
	wsSend(t, creator, Message{Type: MessageTypeCreateRoom})
	created := wsExpect(t, creator, MessageTypeRoomCreated)
	if created.RoomCode == "" {
		t.Fatal("room-created carried no roomCode")
	}

	// Joining is case-insensitive.
	joiner := dialWS(t, srv)
	wsSend(t, joiner, Message{Type: MessageTypeJoinRoom, RoomCode: strings.ToLower(created.RoomCode)})
	joined := wsExpect(t, joiner, MessageTypeRoomJoined)
	if joined.RoomCode != created.RoomCode {
		t.Fatalf("room-joined code = %q, want %q", joined.RoomCode, created.RoomCode)
	}
	// The creator learns the peer arrived.
	wsExpect(t, creator, MessageTypeRoomJoined)

	offer := &room.SessionDescription{Type: "offer", SDP: "v=0 ws offer"}
	wsSend(t, creator, Message{Type: MessageTypeOffer, Offer: offer})
	got := wsExpect(t, joiner, MessageTypeOffer)
	if got.Offer == nil || got.Offer.SDP != offer.SDP {
		t.Fatalf("relayed offer = %+v", got.Offer)
	}

	answer := &room.SessionDescription{Type: "answer", SDP: "v=0 ws answer"}
	wsSend(t, joiner, Message{Type: MessageTypeAnswer, Answer: answer})
	got = wsExpect(t, creator, MessageTypeAnswer)
	if got.Answer == nil || got.Answer.SDP != answer.SDP {
		t.Fatalf("relayed answer = %+v", got.Answer)
	}

	wsSend(t, joiner, Message{Type: MessageTypeICECandidate, Candidate: &WireCandidate{Candidate: "candidate:ws-1"}})
	got = wsExpect(t, creator, MessageTypeICECandidate)
	if got.Candidate == nil || got.Candidate.Candidate != "candidate:ws-1" {
		t.Fatalf("relayed candidate = %+v", got.Candidate)
	}

	// The push transport writes through the same store the polling
	// endpoints read.
	rm, err := store.Get(created.RoomCode)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rm.Offer() == nil || rm.Offer().SDP != offer.SDP {
		t.Fatalf("stored offer = %+v", rm.Offer())
	}
	if rm.Answer() == nil || rm.Answer().SDP != answer.SDP {
		t.Fatalf("stored answer = %+v", rm.Answer())
	}
	cands, err := store.CandidatesFor(created.RoomCode, room.RoleCreator)
	if err != nil {
		t.Fatalf("CandidatesFor: %v", err)
	}
	if len(cands) != 1 || cands[0].From != room.RoleJoiner {
		t.Fatalf("stored candidates = %+v", cands)
	}
}

func TestWebSocketRoomFull(t *testing.T) {
	srv, _ := newWSTest(t, Config{})

	creator := dialWS(t, srv)
	wsSend(t, creator, Message{Type: MessageTypeCreateRoom})
	created := wsExpect(t, creator, MessageTypeRoomCreated)

	joiner := dialWS(t, srv)
	wsSend(t, joiner, Message{Type: MessageTypeJoinRoom, RoomCode: created.RoomCode})
	wsExpect(t, joiner, MessageTypeRoomJoined)
	wsExpect(t, creator, MessageTypeRoomJoined)

	third := dialWS(t, srv)
	wsSend(t, third, Message{Type: MessageTypeJoinRoom, RoomCode: created.RoomCode})
	msg := wsExpect(t, third, MessageTypeRoomError)
	if msg.Error != "Room is full" {
		t.Fatalf("error = %q", msg.Error)
	}

	// The connection survives a domain error; the client can try another
	// room.
	wsSend(t, third, Message{Type: MessageTypeCreateRoom})
	wsExpect(t, third, MessageTypeRoomCreated)
}

func TestWebSocketJoinUnknownRoom(t *testing.T) {
	srv, _ := newWSTest(t, Config{})

	conn := dialWS(t, srv)
	wsSend(t, conn, Message{Type: MessageTypeJoinRoom, RoomCode: "ZZZZZZ"})
	msg := wsExpect(t, conn, MessageTypeRoomError)
	if msg.Error != "Room not found" {
		t.Fatalf("error = %q", msg.Error)
	}
}

func TestWebSocketOfferOutsideRoom(t *testing.T) {
	srv, _ := newWSTest(t, Config{})

	conn := dialWS(t, srv)
	wsSend(t, conn, Message{Type: MessageTypeOffer, Offer: &room.SessionDescription{Type: "offer", SDP: "v=0"}})
	msg := wsExpect(t, conn, MessageTypeRoomError)
	if msg.Error != "Not in a room" {
		t.Fatalf("error = %q", msg.Error)
	}
}

func TestWebSocketLeaveNotifiesPeer(t *testing.T) {
	srv, store := newWSTest(t, Config{})

	creator := dialWS(t, srv)
	wsSend(t, creator, Message{Type: MessageTypeCreateRoom})
	created := wsExpect(t, creator, MessageTypeRoomCreated)

	joiner := dialWS(t, srv)
	wsSend(t, joiner, Message{Type: MessageTypeJoinRoom, RoomCode: created.RoomCode})
	wsExpect(t, joiner, MessageTypeRoomJoined)
	wsExpect(t, creator, MessageTypeRoomJoined)

	wsSend(t, joiner, Message{Type: MessageTypeLeaveRoom})
	wsExpect(t, creator, MessageTypePeerDisconnected)

	// A fresh joiner can take the vacated slot.
	rejoiner := dialWS(t, srv)
	wsSend(t, rejoiner, Message{Type: MessageTypeJoinRoom, RoomCode: created.RoomCode})
	wsExpect(t, rejoiner, MessageTypeRoomJoined)
	wsExpect(t, creator, MessageTypeRoomJoined)

	if store.Len() != 1 {
		t.Fatalf("store holds %d rooms, want 1", store.Len())
	}
}

func TestWebSocketDisconnectDeletesEmptyRoom(t *testing.T) {
	srv, store := newWSTest(t, Config{})

	creator := dialWS(t, srv)
	wsSend(t, creator, Message{Type: MessageTypeCreateRoom})
	wsExpect(t, creator, MessageTypeRoomCreated)
	if store.Len() != 1 {
		t.Fatalf("store holds %d rooms, want 1", store.Len())
	}

	creator.Close()

	deadline := time.Now().Add(3 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room not deleted after disconnect, store holds %d", store.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketRejectsMalformedMessage(t *testing.T) {
	srv, _ := newWSTest(t, Config{})

	conn := dialWS(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"shutdown"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := wsExpect(t, conn, MessageTypeRoomError)
	if msg.Error == "" {
		t.Fatal("room-error carried no error text")
	}

	// The server closes after a protocol violation.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after malformed message")
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	srv, _ := newWSTest(t, Config{MaxMessagesPerSecond: 5})

	conn := dialWS(t, srv)
	wsSend(t, conn, Message{Type: MessageTypeCreateRoom})
	wsExpect(t, conn, MessageTypeRoomCreated)

	// Burst past the limiter. The server answers with room-error and then
	// closes.
	for i := 0; i < 50; i++ {
		data, _ := json.Marshal(Message{Type: MessageTypeICECandidate, Candidate: &WireCandidate{Candidate: "candidate:burst"}})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	sawError := false
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == MessageTypeRoomError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no room-error before close")
	}
}
