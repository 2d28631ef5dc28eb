package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Store *room.Store
	Log   *slog.Logger

	// WebSocket hardening knobs for the push transport.
	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server implements the signaling surface for pairing two WebRTC peers
// through a shared room code.
//
// Endpoints:
//   - POST     /api/createRoom   : allocate a room under a generated code
//   - POST     /api/submitOffer  : publish the creator's offer (first write wins)
//   - GET/POST /api/getOffer     : poll for the offer
//   - POST     /api/submitAnswer : publish the joiner's answer (first write wins)
//   - GET/POST /api/getAnswer    : poll for the answer
//   - POST     /api/addIce       : append an ICE candidate
//   - GET/POST /api/getIce       : poll candidates, optionally excluding one role's own
//   - GET      /ws               : WebSocket push transport
type Server struct {
	store *room.Store
	log   *slog.Logger

	wsIdleTimeout  time.Duration
	wsPingInterval time.Duration

	maxMessageBytes      int64
	maxMessagesPerSecond int
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: cfg.Store,
		log:   log,

		wsIdleTimeout:  cfg.WSIdleTimeout,
		wsPingInterval: cfg.WSPingInterval,

		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/createRoom", s.sweeping(s.handleCreateRoom))
	mux.HandleFunc("POST /api/submitOffer", s.sweeping(s.handleSubmitOffer))
	mux.HandleFunc("GET /api/getOffer", s.sweeping(s.handleGetOffer))
	mux.HandleFunc("POST /api/getOffer", s.sweeping(s.handleGetOffer))
	mux.HandleFunc("POST /api/submitAnswer", s.sweeping(s.handleSubmitAnswer))
	mux.HandleFunc("GET /api/getAnswer", s.sweeping(s.handleGetAnswer))
	mux.HandleFunc("POST /api/getAnswer", s.sweeping(s.handleGetAnswer))
	mux.HandleFunc("POST /api/addIce", s.sweeping(s.handleAddIce))
	mux.HandleFunc("GET /api/getIce", s.sweeping(s.handleGetIce))
	mux.HandleFunc("POST /api/getIce", s.sweeping(s.handleGetIce))

	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// sweeping reaps expired rooms before the handler runs, so a process that
// never starts the background sweeper still enforces the TTL on every
// request path.
func (s *Server) sweeping(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if removed := s.store.SweepExpired(); removed > 0 {
			s.log.Debug("expired rooms swept", "removed", removed)
		}
		next(w, r)
	}
}

const maxRequestBodyBytes = 2 << 20

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.store.CreateWithGeneratedCode()
	if err != nil {
		s.log.Error("room allocation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}

	s.log.Info("room created", "code", rm.Code)
	// Both keys carry the code: older clients read "code", newer ones
	// "roomCode".
	writeJSON(w, http.StatusOK, map[string]any{
		"code":     rm.Code,
		"roomCode": rm.Code,
	})
}

type submitOfferRequest struct {
	Code  string                   `json:"code"`
	Offer *room.SessionDescription `json:"offer"`
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req submitOfferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Offer == nil || req.Offer.SDP == "" {
		writeError(w, http.StatusBadRequest, "code and offer are required")
		return
	}

	if err := s.store.SetOffer(req.Code, *req.Offer); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	code, ok := s.roomCode(w, r)
	if !ok {
		return
	}

	rm, err := s.store.Get(code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": rm.Offer()})
}

type submitAnswerRequest struct {
	Code   string                   `json:"code"`
	Answer *room.SessionDescription `json:"answer"`
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Answer == nil || req.Answer.SDP == "" {
		writeError(w, http.StatusBadRequest, "code and answer are required")
		return
	}

	if err := s.store.SetAnswer(req.Code, *req.Answer); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	code, ok := s.roomCode(w, r)
	if !ok {
		return
	}

	rm, err := s.store.Get(code)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": rm.Answer()})
}

type addIceRequest struct {
	Code      string         `json:"code"`
	Candidate *WireCandidate `json:"candidate"`
	// Role attributes the candidate to its submitter so getIce?role= can
	// exclude it. Untagged candidates are returned to both peers.
	Role string `json:"role,omitempty"`
}

func (s *Server) handleAddIce(w http.ResponseWriter, r *http.Request) {
	var req addIceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Candidate == nil {
		writeError(w, http.StatusBadRequest, "code and candidate are required")
		return
	}
	from := room.Role(req.Role)
	if req.Role != "" && !from.Valid() {
		writeError(w, http.StatusBadRequest, "role must be creator or joiner")
		return
	}

	if err := s.store.AddCandidate(req.Code, req.Candidate.Tagged(from)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type getIceRequest struct {
	Code string `json:"code"`
	Role string `json:"role,omitempty"`
}

func (s *Server) handleGetIce(w http.ResponseWriter, r *http.Request) {
	var code, role string
	if r.Method == http.MethodGet {
		code = r.URL.Query().Get("code")
		role = r.URL.Query().Get("role")
	} else {
		var req getIceRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		code, role = req.Code, req.Role
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	self := room.Role(role)
	if role != "" && !self.Valid() {
		writeError(w, http.StatusBadRequest, "role must be creator or joiner")
		return
	}

	candidates, err := s.store.CandidatesFor(code, self)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]WireCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, WireCandidateFrom(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// roomCode extracts the room code from a GET query or a POST {"code": ...}
// body. The poll endpoints accept both so minimal clients can use plain GETs.
func (s *Server) roomCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var code string
	if r.Method == http.MethodGet {
		code = r.URL.Query().Get("code")
	} else {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return "", false
		}
		code = req.Code
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return "", false
	}
	return code, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, room.ErrRoomFull):
		writeError(w, http.StatusConflict, "Room is full")
	default:
		s.log.Error("store operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
