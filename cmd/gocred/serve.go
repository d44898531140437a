package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/metrics/export/prometheus"
	"github.com/MrEthical07/goCred/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	var noCleanup bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve token rotation, revocation and API key checks over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, s, !noCleanup)
		},
	}
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Do not run the cleanup scheduler in this process")
	return cmd
}

func runServe(ctx context.Context, s settings, withCleanup bool) error {
	rt, err := newRuntime(ctx, s)
	if err != nil {
		return err
	}
	defer rt.Close()

	if withCleanup {
		sched, err := rt.engine.NewCleanupScheduler()
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				rt.logger.Warn("cleanup did not stop in time", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.Listen,
		Handler:           newHandler(rt.engine, rt.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("listening", zap.String("addr", s.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	rt.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Reason       string `json:"reason,omitempty"`
}

func newHandler(engine *goCred.Engine, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(engine).Handler())

	mux.Handle("GET /v1/me", middleware.Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := goCred.PrincipalFromContext(r.Context())
		writeJSON(w, logger, http.StatusOK, p)
	})))

	mux.HandleFunc("POST /v1/tokens/rotate", func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req); err != nil || req.RefreshToken == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sess, err := engine.Rotate(r.Context(), req.RefreshToken, remoteIP(r), r.UserAgent())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, sess)
	})

	mux.HandleFunc("POST /v1/tokens/revoke", func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req); err != nil || req.RefreshToken == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := engine.Revoke(r.Context(), req.RefreshToken, remoteIP(r), req.Reason); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("GET /v1/keys/self", middleware.APIKeyGuard(engine, middleware.APIKeyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _ := goCred.APIKeyFromContext(r.Context())
		writeJSON(w, logger, http.StatusOK, key)
	})))

	return mux
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, goCred.ErrOperationFailed):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, goCred.ErrRefreshReplay), errors.Is(err, goCred.ErrRefreshRevoked),
		errors.Is(err, goCred.ErrRefreshExpired), errors.Is(err, goCred.ErrRefreshNotFound):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
}
