package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatcore/pkg/chat"
	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// writeChatError maps the chat error taxonomy onto HTTP statuses.
func writeChatError(w http.ResponseWriter, err error) {
	var ve *chat.ValidationError
	var se *chat.StorageError
	switch {
	case errors.As(err, &ve):
		utils.JSONError(w, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, chat.ErrUnauthorized):
		utils.JSONError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, chat.ErrForbidden):
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, chat.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, chat.ErrEditWindowExpired):
		utils.JSONError(w, http.StatusConflict, "edit window expired")
	case errors.As(err, &se):
		// persistence failures surface as a client-visible bad request
		utils.JSONError(w, http.StatusBadRequest, se.Error())
	default:
		logger.Error("unclassified_handler_error", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// queryTime accepts RFC 3339 or a raw UnixNano integer and returns
// UnixNano, or 0 when absent or unparsable. A malformed range narrows
// nothing rather than erroring.
func queryTime(r *http.Request, name string) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC().UnixNano()
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return 0
}
