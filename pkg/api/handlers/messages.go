package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatcore/pkg/auth"
	"chatcore/pkg/chat"
	"chatcore/pkg/feed"
	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/telemetry"
	"chatcore/pkg/utils"
	"chatcore/pkg/validation"
)

// Chat bundles the wired chat service and feed gateway for the HTTP
// handlers.
type Chat struct {
	svc *chat.Service
	gw  *feed.Gateway
}

func NewChat(svc *chat.Service, gw *feed.Gateway) *Chat {
	return &Chat{svc: svc, gw: gw}
}

// Register mounts the messaging endpoints onto the v1 subrouter.
func (h *Chat) Register(r *mux.Router) {
	// /v1/messages
	r.HandleFunc("/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages", h.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/search", h.searchMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/stats", h.conversationStats).Methods(http.MethodGet)
	r.HandleFunc("/messages/read", h.markAllRead).Methods(http.MethodPost)

	// /v1/messages/{id}
	r.HandleFunc("/messages/{id}", h.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.updateMessage).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/history", h.editHistory).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/reactions", h.listReactions).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/reactions", h.toggleReaction).Methods(http.MethodPost)

	// presence and directory
	r.HandleFunc("/typing", h.typing).Methods(http.MethodPost)
	r.HandleFunc("/agents", h.supportAgents).Methods(http.MethodGet)

	// /v1/threads/{threadID}/events/{kind}
	r.HandleFunc("/threads/{threadID}/events/{kind}", h.streamEvents).Methods(http.MethodGet)
}

type sendRequest struct {
	Content     string              `json:"content"`
	Receiver    string              `json:"receiver,omitempty"`
	Thread      string              `json:"thread,omitempty"`
	Channel     string              `json:"channel,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Guest       *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"guest,omitempty"`
}

func (h *Chat) sendMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id := chat.Authenticated(auth.UserIDFromContext(r.Context()))
	if !id.IsAuthenticated() {
		// guest-tolerant: the store materializes a user row
		name, email := "", ""
		if req.Guest != nil {
			name, email = req.Guest.Name, req.Guest.Email
		}
		id = chat.GuestIdentity(name, email)
	}

	// operator-declared rules on top of the core's hard checks
	if err := validation.ValidateMessage(models.Message{
		Thread:      req.Thread,
		Channel:     req.Channel,
		Receiver:    req.Receiver,
		Content:     req.Content,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	}); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.svc.Send(id, chat.SendInput{
		Content:     req.Content,
		Receiver:    req.Receiver,
		Thread:      req.Thread,
		Channel:     req.Channel,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	telemetry.MessagesCreated.Inc()
	logger.Info("message_created", "thread", m.Thread, "id", m.ID)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(m)
}

func (h *Chat) listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()
	p, err := h.svc.Messages(auth.UserIDFromContext(r.Context()), chat.MessagesFilter{
		Thread:    q.Get("thread"),
		OtherUser: q.Get("other_user"),
		Search:    q.Get("search"),
		Type:      q.Get("type"),
		From:      queryTime(r, "from"),
		To:        queryTime(r, "to"),
		Page:      queryInt(r, "page"),
		Limit:     queryInt(r, "limit"),
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Chat) searchMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()
	p, err := h.svc.Search(auth.UserIDFromContext(r.Context()), q.Get("q"), chat.SearchFilter{
		Thread: q.Get("thread"),
		Sender: q.Get("sender"),
		Type:   q.Get("type"),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Chat) conversationStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()
	st, err := h.svc.Stats(auth.UserIDFromContext(r.Context()), chat.StatsScope{
		Thread:    q.Get("thread"),
		OtherUser: q.Get("other_user"),
		From:      queryTime(r, "from"),
		To:        queryTime(r, "to"),
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}

func (h *Chat) getMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	m, err := h.svc.Get(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	reactions, err := h.svc.Reactions(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	history, err := h.svc.EditHistory(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Message     *models.Message     `json:"message"`
		Reactions   []models.Reaction   `json:"reactions"`
		EditHistory []models.EditRecord `json:"edit_history"`
	}{Message: m, Reactions: reactions, EditHistory: history})
}

func (h *Chat) editMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.svc.Edit(auth.UserIDFromContext(r.Context()), mux.Vars(r)["id"], req.Content)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(m)
}

func (h *Chat) updateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel     *string              `json:"channel"`
		Attachments *[]models.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.svc.Update(auth.UserIDFromContext(r.Context()), mux.Vars(r)["id"], chat.UpdateInput{
		Channel:     req.Channel,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = utils.JSON(w, 0, m)
}

func (h *Chat) deleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	m, err := h.svc.Delete(auth.UserIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(m)
}

func (h *Chat) editHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	if _, err := h.svc.Get(id); err != nil {
		writeChatError(w, err)
		return
	}
	recs, err := h.svc.EditHistory(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		ID      string              `json:"id"`
		History []models.EditRecord `json:"history"`
	}{ID: id, History: recs})
}

func (h *Chat) listReactions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	if _, err := h.svc.Get(id); err != nil {
		writeChatError(w, err)
		return
	}
	rs, err := h.svc.Reactions(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		ID        string            `json:"id"`
		Reactions []models.Reaction `json:"reactions"`
	}{ID: id, Reactions: rs})
}

func (h *Chat) toggleReaction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	reaction, removed, err := h.svc.React(auth.UserIDFromContext(r.Context()), mux.Vars(r)["id"], req.Emoji)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Reaction *models.Reaction `json:"reaction"`
		Removed  bool             `json:"removed"`
	}{Reaction: reaction, Removed: removed})
}

func (h *Chat) markAllRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Sender string `json:"sender,omitempty"`
		Thread string `json:"thread,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	n, err := h.svc.MarkAllRead(auth.UserIDFromContext(r.Context()), req.Sender, req.Thread)
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"updated": n})
}

func (h *Chat) typing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Thread   string `json:"thread"`
		IsTyping bool   `json:"is_typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.svc.Typing(auth.UserIDFromContext(r.Context()), req.Thread, req.IsTyping); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Chat) supportAgents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	p, err := h.svc.SupportAgents(r.URL.Query().Get("agency"), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(p)
}
