package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the submission HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", handleSubmit(env))
			r.Get("/", handleListSubmissions(env))
			r.Get("/{id}", handleGetSubmission(env))
			r.Post("/{id}/outcome", handleOutcome(env))
			r.Post("/{id}/feedback", handleFeedback(env))
		})
		r.Get("/vendors/{id}/trust", handleVendorTrust(env))
	})

	return r
}

// handleSubmit accepts a submission and runs the pipeline in the background,
// returning 202 with the submission ID for polling. ?wait=1 runs it
// synchronously and returns the decision in the response.
func handleSubmit(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VendorID string          `json:"vendor_id"`
			GeoJSON  json.RawMessage `json:"geojson"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.VendorID == "" || len(req.GeoJSON) == 0 {
			writeError(w, http.StatusBadRequest, "vendor_id and geojson are required")
			return
		}

		sub, err := env.Service.Accept(r.Context(), req.VendorID, req.GeoJSON)
		if err != nil {
			zap.L().Error("submission accept failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "accept failed")
			return
		}

		if r.URL.Query().Get("wait") == "1" {
			done, err := env.Service.Process(r.Context(), sub)
			if err != nil {
				var extErr *model.ExtractionError
				if errors.As(err, &extErr) {
					writeError(w, http.StatusUnprocessableEntity, extErr.Error())
					return
				}
				zap.L().Error("submission run failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "pipeline run failed")
				return
			}
			writeJSON(w, http.StatusCreated, done)
			return
		}

		go func() {
			if _, err := env.Service.Process(context.Background(), sub); err != nil {
				zap.L().Error("background submission run failed",
					zap.String("submission_id", sub.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, sub)
	}
}

func handleGetSubmission(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := env.Service.Submission(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleListSubmissions(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.SubmissionFilter{
			VendorID: r.URL.Query().Get("vendor_id"),
			State:    model.SubmissionState(r.URL.Query().Get("state")),
			Limit:    50,
		}
		subs, err := env.Service.Submissions(r.Context(), filter)
		if err != nil {
			zap.L().Error("list submissions failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func handleOutcome(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action   model.AnalystAction  `json:"action"`
			Override model.Recommendation `json:"override_recommendation,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sub, err := env.Service.RecordAnalystOutcome(r.Context(), chi.URLParam(r, "id"), req.Action, req.Override)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleFeedback(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Verdict model.FieldVerdict `json:"verdict"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := env.Service.RecordFieldFeedback(r.Context(), chi.URLParam(r, "id"), req.Verdict); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

func handleVendorTrust(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := env.Service.TrustScore(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			zap.L().Error("trust lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "trust lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
