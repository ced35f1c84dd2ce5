package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatcore/pkg/auth"
	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// RegisterSigning registers the signing endpoint onto the provided
// router. The endpoint is protected by the security middleware (backend
// API keys) and uses the caller's API key value as the signing secret.
func RegisterSigning(r *mux.Router) {
	r.HandleFunc("/_sign", signHandler).Methods(http.MethodPost)
}

// signHandler computes the HMAC-SHA256 signature a frontend must
// present in X-User-Signature for a given user id. Only backend roles
// may request signatures.
func signHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	role := r.Header.Get("X-Role-Name")
	if role != "backend" {
		logger.Warn("forbidden_sign_attempt", "role", role, "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	// the API key used by the caller doubles as the signing secret
	authz := r.Header.Get("Authorization")
	var key string
	if len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
		key = authz[7:]
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		logger.Warn("missing_api_key_for_sign", "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusUnauthorized, "missing api key")
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	sig := auth.SignUserID(key, payload.UserID)
	if err := json.NewEncoder(w).Encode(map[string]string{"userId": payload.UserID, "signature": sig}); err != nil {
		logger.Error("sign_response_encode_failed", "error", err, "remote", r.RemoteAddr)
	}
}
