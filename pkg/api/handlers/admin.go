package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/store"
	"chatcore/pkg/utils"
)

// RegisterAdmin registers admin-only routes onto the admin subrouter.
func RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/health", adminHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", adminStats).Methods(http.MethodGet)
	r.HandleFunc("/purge", adminPurge).Methods(http.MethodPost)
	logger.Info("admin_routes_registered")
}

func adminHealth(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","service":"chatcore"}`))
}

func adminStats(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	total, deleted, err := store.CountMessages()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	users, err := store.CountUsers()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Messages int64 `json:"messages"`
		Deleted  int64 `json:"deleted"`
		Users    int   `json:"users"`
	}{Messages: total, Deleted: deleted, Users: users})
}

// adminPurge permanently removes messages soft-deleted longer ago than
// the given period. Request JSON:
// { "older_than": "30d", "batch_size": 1000, "batch_budget": "64MB", "dry_run": false }
func adminPurge(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req struct {
		OlderThan   string `json:"older_than"`
		BatchSize   int    `json:"batch_size"`
		BatchBudget string `json:"batch_budget"`
		DryRun      bool   `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.OlderThan == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing older_than")
		return
	}
	period, err := config.ParsePeriod(req.OlderThan)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid older_than: "+err.Error())
		return
	}
	budget, err := config.ParseBytes(req.BatchBudget)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid batch_budget: "+err.Error())
		return
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()
	n, err := store.PurgeDeletedBefore(cutoff, req.BatchSize, budget, req.DryRun)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("admin_purge", "purged", n, "dry_run", req.DryRun)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"purged": n, "dry_run": req.DryRun})
}

// isAdmin checks if the request is from an admin or backend.
func isAdmin(r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	return role == "admin" || role == "backend"
}
