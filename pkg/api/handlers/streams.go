package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatcore/pkg/feed"
	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 25 * time.Second

// streamEvents serves GET /v1/threads/{threadID}/events/{kind} as a
// server-sent event stream. The feed is scoped to the thread for every
// kind; a feed opened after N events never replays them. The connection
// ends when the client goes away.
func (h *Chat) streamEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	threadID := vars["threadID"]
	kind, err := feed.ParseKind(vars["kind"])
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	f, err := h.gw.Open(kind, threadID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Info("feed_stream_opened", "kind", string(kind), "thread", threadID, "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("feed_stream_closed", "kind", string(kind), "thread", threadID, "dropped", f.Dropped())
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-f.C:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
