package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/ibrahimalee/Binary-Bond/internal/config"
	"github.com/ibrahimalee/Binary-Bond/internal/httpserver"
	"github.com/ibrahimalee/Binary-Bond/internal/metrics"
	"github.com/ibrahimalee/Binary-Bond/internal/room"
	"github.com/ibrahimalee/Binary-Bond/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting binarybond",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"room_ttl", cfg.RoomTTL,
		"room_sweep_interval", cfg.RoomSweepInterval,
		"room_code_length", cfg.RoomCodeLength,
		"ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	m := metrics.New()
	store := room.NewStore(room.Config{
		TTL:        cfg.RoomTTL,
		CodeLength: cfg.RoomCodeLength,
	}, m, nil)

	sig := signaling.NewServer(signaling.Config{
		Store: store,
		Log:   logger,

		WSIdleTimeout:  cfg.SignalingWSIdleTimeout,
		WSPingInterval: cfg.SignalingWSPingInterval,

		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})

	mountSignaling(srv, sig, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RoomSweepInterval > 0 {
		sweeper := room.NewSweeper(store, cfg.RoomSweepInterval, logger)
		go sweeper.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// mountSignaling attaches the signaling routes to the server mux. Both the
// polling API and the WebSocket endpoint are browser-facing, so both go
// through the origin policy.
func mountSignaling(srv *httpserver.Server, sig *signaling.Server, m *metrics.Metrics) {
	sigMux := http.NewServeMux()
	sig.RegisterRoutes(sigMux)
	guarded := srv.OriginMiddleware()(sigMux)
	srv.Mux().Handle("/api/", guarded)
	srv.Mux().Handle("GET /ws", guarded)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
