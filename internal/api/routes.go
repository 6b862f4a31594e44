package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/subhash199/kaninify-Pos-sub002/internal/config"
	"github.com/subhash199/kaninify-Pos-sub002/internal/logger"
	syncengine "github.com/subhash199/kaninify-Pos-sub002/internal/sync"
)

// Handler exposes the read-only diagnostic surface plus the two operator
// actions: triggering a cycle and resolving a parked conflict.
type Handler struct {
	manager *syncengine.Manager
	cfg     config.ServerConfig
}

func NewHandler(manager *syncengine.Manager, cfg config.ServerConfig) *Handler {
	return &Handler{
		manager: manager,
		cfg:     cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(h.cfg.CorsOrigins))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(h.cfg.AuthToken))

		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/stats", h.GetSyncStats)
		r.Get("/sync/pending", h.GetPendingCounts)
		r.Get("/sync/failures", h.GetRecentFailures)
		r.Get("/ledger", h.GetLedger)
		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.manager.IsRunning() {
		respondError(w, http.StatusConflict, "a sync cycle is already in progress")
		return
	}

	// The cycle outlives the request; it must not ride the request context.
	go func() {
		if _, err := h.manager.RunCycle(context.Background()); err != nil {
			logger.Log.Error("Triggered sync cycle failed", zap.Error(err))
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": h.manager.Status(),
	}
	if last := h.manager.LastSession(); last != nil {
		resp["last_session"] = map[string]interface{}{
			"id":         last.ID,
			"start_time": last.StartTime,
			"end_time":   last.EndTime,
			"processed":  last.TotalProcessed(),
			"succeeded":  last.TotalSucceeded(),
			"failed":     last.TotalFailed(),
			"conflicts":  last.TotalConflicts(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSyncStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.Tracker().Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) GetPendingCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.manager.Store().CountByStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handler) GetRecentFailures(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	failures, err := h.manager.Store().RecentFailures(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, failures)
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.Store().ListLedger(r.Context(),
		r.URL.Query().Get("table"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	resolved := r.URL.Query().Get("resolved") == "true"
	conflicts, err := h.manager.Store().ListConflicts(r.Context(), resolved,
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	strategy, err := syncengine.ParseStrategy(body.Strategy)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.ResolveConflict(r.Context(), id, strategy); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Error("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed["*"] || allowed[origin] {
				if allowed["*"] {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				respondError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
