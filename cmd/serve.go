package main

import (
	"context"
	"encoding/json"
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

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline JSON API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// buildRouter wires the REST API over the store.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stages", handleListStages(st))
		r.Get("/deals", handleListDeals(st))
		r.Post("/deals", handleCreateDeal(st))
		r.Get("/deals/{id}", handleGetDeal(st))
		r.Put("/deals/{id}", handleUpdateDeal(st))
		r.Patch("/deals/{id}/stage", handleMoveDeal(st))
		r.Delete("/deals/{id}", handleDeleteDeal(st))
		r.Get("/deals/{id}/activities", handleListActivities(st))
	})

	return r
}

func handleListStages(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stages, err := st.ListStages(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stages)
	}
}

func handleListDeals(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.DealFilter{
			StageID: r.URL.Query().Get("stage_id"),
			Company: r.URL.Query().Get("company"),
		}
		deals, err := st.ListDeals(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, deals)
	}
}

func handleCreateDeal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var deal model.Deal
		if err := json.NewDecoder(r.Body).Decode(&deal); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode deal"))
			return
		}
		created, err := st.CreateDeal(r.Context(), deal)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleGetDeal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deal, err := st.GetDeal(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if deal == nil {
			writeError(w, http.StatusNotFound, eris.New("deal not found"))
			return
		}
		writeJSON(w, http.StatusOK, deal)
	}
}

func handleUpdateDeal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var deal model.Deal
		if err := json.NewDecoder(r.Body).Decode(&deal); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode deal"))
			return
		}
		deal.ID = chi.URLParam(r, "id")
		if err := st.UpdateDeal(r.Context(), deal); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, deal)
	}
}

func handleMoveDeal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StageID string `json:"stage_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StageID == "" {
			writeError(w, http.StatusBadRequest, eris.New("stage_id is required"))
			return
		}
		dealID := chi.URLParam(r, "id")
		if err := st.UpdateDealStage(r.Context(), dealID, req.StageID, time.Now().UTC()); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		deal, err := st.GetDeal(r.Context(), dealID)
		if err != nil || deal == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
			return
		}
		writeJSON(w, http.StatusOK, deal)
	}
}

func handleDeleteDeal(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.DeleteDeal(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListActivities(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activities, err := st.ListActivities(r.Context(), chi.URLParam(r, "id"), 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, activities)
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
