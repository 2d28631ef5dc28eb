package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/ibrahimalee/Binary-Bond/internal/config"
	"github.com/ibrahimalee/Binary-Bond/internal/httpserver"
	"github.com/ibrahimalee/Binary-Bond/internal/metrics"
	"github.com/ibrahimalee/Binary-Bond/internal/room"
	"github.com/ibrahimalee/Binary-Bond/internal/signaling"
)

func startSignalingRoutes(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httpserver.New(cfg, log, httpserver.BuildInfo{})
	m := metrics.New()
	store := room.NewStore(room.Config{}, m, nil)
	sig := signaling.NewServer(signaling.Config{Store: store, Log: log})
	mountSignaling(srv, sig, m)

	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts
}

func TestSignalingRoutesEnforceOriginAllowlist(t *testing.T) {
	ts := startSignalingRoutes(t, config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"https://app.example.com"},
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	t.Run("polling api rejects disallowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/createRoom", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", "https://evil.example.com")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
		}
	})

	t.Run("websocket rejects disallowed origin", func(t *testing.T) {
		header := http.Header{"Origin": {"https://evil.example.com"}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err == nil {
			conn.Close()
			t.Fatal("dial with disallowed origin succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("handshake response = %v, want status %d", resp, http.StatusForbidden)
		}
	})

	t.Run("websocket accepts allowed origin", func(t *testing.T) {
		header := http.Header{"Origin": {"https://app.example.com"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial with allowed origin: %v", err)
		}
		conn.Close()
	})

	t.Run("websocket accepts non-browser client without origin", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial without origin: %v", err)
		}
		conn.Close()
	})
}
