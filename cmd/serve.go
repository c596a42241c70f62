package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/firmsync/internal/crmsync"
	"github.com/sells-group/firmsync/internal/ingest"
	"github.com/sells-group/firmsync/internal/model"
	"github.com/sells-group/firmsync/internal/producer"
	"github.com/sells-group/firmsync/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering ingest and sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		syncer, err := newSyncer(st)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(&api{store: st, engine: newEngine(st), syncer: syncer}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api holds the dependencies of the HTTP handlers. A nil syncer disables the
// sync endpoint.
type api struct {
	store  store.Store
	engine *ingest.Engine
	syncer *crmsync.Syncer
}

func newRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest/{source}", a.ingest)
		r.Post("/sync/{source}", a.sync)
		r.Get("/runs", a.runs)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) ingest(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	batch, err := producer.JSON{}.Decode(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}

	sum, err := ingestBatch(r.Context(), a.engine, source, batch, false)
	if err != nil {
		zap.L().Error("ingest request failed", zap.String("source", source), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, eris.New("sync: no CRM configured"))
		return
	}
	source := chi.URLParam(r, "source")

	sum, err := a.syncer.Run(r.Context(), source)
	if err != nil {
		zap.L().Error("sync request failed", zap.String("source", source), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *api) runs(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, ingest.ErrNoSession)
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Source: q.Get("source"),
		Status: model.RunStatus(q.Get("status")),
		Limit:  50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNoSession):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
