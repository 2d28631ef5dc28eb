// Package signalclient is the Go client for the signaling service. Client
// wraps the polling HTTP API, CallSession layers per-call bookkeeping on top
// of it, and PushSession speaks the WebSocket push transport.
package signalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ibrahimalee/Binary-Bond/internal/room"
	"github.com/ibrahimalee/Binary-Bond/internal/signaling"
)

const (
	DefaultPollInterval = 1 * time.Second
	DefaultHTTPTimeout  = 10 * time.Second
)

type Config struct {
	// BaseURL is the service root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// HTTPClient overrides the default client. Nil means a client with
	// DefaultHTTPTimeout.
	HTTPClient *http.Client

	// PollInterval is the delay between polls in CallSession. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	Log *slog.Logger
}

type Client struct {
	baseURL      string
	hc           *http.Client
	pollInterval time.Duration
	log          *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signalclient: BaseURL is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		hc:           hc,
		pollInterval: interval,
		log:          log,
	}, nil
}

// CreateRoom allocates a room and returns its code.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	if err := c.post(ctx, "/api/createRoom", struct{}{}, &out); err != nil {
		return "", err
	}
	if out.Code == "" {
		return "", fmt.Errorf("signalclient: createRoom returned no code")
	}
	return out.Code, nil
}

func (c *Client) SubmitOffer(ctx context.Context, code string, offer room.SessionDescription) error {
	return c.post(ctx, "/api/submitOffer", map[string]any{
		"code":  code,
		"offer": offer,
	}, nil)
}

func (c *Client) SubmitAnswer(ctx context.Context, code string, answer room.SessionDescription) error {
	return c.post(ctx, "/api/submitAnswer", map[string]any{
		"code":   code,
		"answer": answer,
	}, nil)
}

// GetOffer returns the room's offer, or nil when none has been submitted
// yet.
func (c *Client) GetOffer(ctx context.Context, code string) (*room.SessionDescription, error) {
	var out struct {
		Offer *room.SessionDescription `json:"offer"`
	}
	if err := c.post(ctx, "/api/getOffer", map[string]any{"code": code}, &out); err != nil {
		return nil, err
	}
	return out.Offer, nil
}

func (c *Client) GetAnswer(ctx context.Context, code string) (*room.SessionDescription, error) {
	var out struct {
		Answer *room.SessionDescription `json:"answer"`
	}
	if err := c.post(ctx, "/api/getAnswer", map[string]any{"code": code}, &out); err != nil {
		return nil, err
	}
	return out.Answer, nil
}

// AddCandidate submits an ICE candidate. A non-empty role attributes it so
// the submitter's own polls can exclude it.
func (c *Client) AddCandidate(ctx context.Context, code string, role room.Role, cand signaling.WireCandidate) error {
	body := map[string]any{
		"code":      code,
		"candidate": cand,
	}
	if role != "" {
		body["role"] = string(role)
	}
	return c.post(ctx, "/api/addIce", body, nil)
}

// Candidates fetches the room's candidates. A non-empty role excludes the
// caller's own submissions.
func (c *Client) Candidates(ctx context.Context, code string, role room.Role) ([]signaling.WireCandidate, error) {
	body := map[string]any{"code": code}
	if role != "" {
		body["role"] = string(role)
	}
	var out []signaling.WireCandidate
	if err := c.post(ctx, "/api/getIce", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signalclient: marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("signalclient: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("signalclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("signalclient: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) statusError(path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("signalclient: %s: %w", path, room.ErrRoomNotFound)
	case http.StatusConflict:
		return fmt.Errorf("signalclient: %s: %w", path, room.ErrRoomFull)
	}
	if body.Error != "" {
		return fmt.Errorf("signalclient: %s: %s (status %d)", path, body.Error, resp.StatusCode)
	}
	return fmt.Errorf("signalclient: %s: unexpected status %d", path, resp.StatusCode)
}
