// Package api exposes the chat core over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatcore/pkg/api/handlers"
	"chatcore/pkg/chat"
	"chatcore/pkg/feed"
)

// Deps carries the wired components handlers need.
type Deps struct {
	Svc     *chat.Service
	Gateway *feed.Gateway
}

// Handler builds the full API router.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	ch := handlers.NewChat(d.Svc, d.Gateway)
	ch.Register(v1)
	handlers.RegisterSigning(v1)

	admin := r.PathPrefix("/admin").Subrouter()
	handlers.RegisterAdmin(admin)

	// Simple root help
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"endpoints":["POST /v1/messages","GET /v1/messages","GET /v1/messages/search","GET /v1/messages/stats","PUT /v1/messages/{id}","DELETE /v1/messages/{id}","POST /v1/messages/{id}/reactions","POST /v1/messages/read","POST /v1/typing","GET /v1/agents","GET /v1/threads/{id}/events/{kind}"]}`))
	})

	return r
}
