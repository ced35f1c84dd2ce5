package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatcore/pkg/auth"
	"chatcore/pkg/bus"
	"chatcore/pkg/chat"
	"chatcore/pkg/config"
	"chatcore/pkg/feed"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *bus.Bus) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	b := bus.New()
	svc := chat.NewService(b, config.ChatConfig{})
	gw := feed.NewGateway(b, 16)
	h := auth.ResolveUser(Handler(Deps{Svc: svc, Gateway: gw}))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, b
}

// doJSON performs a request as a trusted backend acting for userID.
// Empty userID leaves the request unauthenticated.
func doJSON(t *testing.T, srv *httptest.Server, method, path, userID string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role-Name", "backend")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func sendMsg(t *testing.T, srv *httptest.Server, sender, receiver, thread, content string) models.Message {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/v1/messages", sender, map[string]any{
		"content": content, "receiver": receiver, "thread": thread,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d", resp.StatusCode)
	}
	return decode[models.Message](t, resp)
}

func TestSendAndListMessages(t *testing.T) {
	srv, _ := newTestServer(t)

	m := sendMsg(t, srv, "u1", "u2", "t1", "hello there")
	if m.ID == "" || m.Thread != "t1" || m.Sender != "u1" {
		t.Fatalf("bad message: %+v", m)
	}

	resp := doJSON(t, srv, http.MethodGet, "/v1/messages?thread=t1", "u2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	page := decode[chat.Page](t, resp)
	if page.Total != 1 || page.Data[0].Content != "hello there" {
		t.Fatalf("list wrong: %+v", page)
	}

	// unauthenticated listing returns an empty page, not an error
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages?thread=t1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest list: expected 200, got %d", resp.StatusCode)
	}
	if page := decode[chat.Page](t, resp); page.Total != 0 {
		t.Fatalf("guest should see empty page: %+v", page)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/v1/messages", "u1", map[string]any{"content": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGuestSend(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/v1/messages", "", map[string]any{
		"content": "need help",
		"thread":  "t1",
		"guest":   map[string]string{"name": "Visitor", "email": "v@example.com"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	m := decode[models.Message](t, resp)
	if m.Sender == "" {
		t.Fatalf("guest sender missing: %+v", m)
	}
	u, err := store.GetUser(m.Sender)
	if err != nil || !u.Guest {
		t.Fatalf("guest user not materialized: %v %+v", err, u)
	}
}

func TestEditEndpointStatuses(t *testing.T) {
	srv, _ := newTestServer(t)
	m := sendMsg(t, srv, "u1", "u2", "t1", "v1")

	resp := doJSON(t, srv, http.MethodPut, "/v1/messages/"+m.ID, "u1", map[string]string{"content": "v2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d", resp.StatusCode)
	}
	edited := decode[models.Message](t, resp)
	if edited.Content != "v2" || !edited.IsEdited {
		t.Fatalf("edit state wrong: %+v", edited)
	}

	// wrong caller is forbidden
	resp = doJSON(t, srv, http.MethodPut, "/v1/messages/"+m.ID, "u2", map[string]string{"content": "hax"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// expired window conflicts
	old := &models.Message{ID: "old-msg", Thread: "t1", Sender: "u1", Content: "x",
		CreatedTS: time.Now().Add(-20 * time.Minute).UTC().UnixNano()}
	if err := store.SaveMessage(old); err != nil {
		t.Fatalf("save: %v", err)
	}
	resp = doJSON(t, srv, http.MethodPut, "/v1/messages/old-msg", "u1", map[string]string{"content": "y"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// history endpoint shows the append-only record
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/"+m.ID+"/history", "u1", nil)
	out := decode[struct {
		History []models.EditRecord `json:"history"`
	}](t, resp)
	if len(out.History) != 1 || out.History[0].PreviousContent != "v1" {
		t.Fatalf("history wrong: %+v", out.History)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	m := sendMsg(t, srv, "u1", "u2", "t1", "hello")

	resp := doJSON(t, srv, http.MethodPatch, "/v1/messages/"+m.ID, "u1", map[string]any{
		"channel": "support",
		"attachments": []map[string]any{
			{"id": "a1", "type": "image", "url": "http://x/p.png"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	updated := decode[models.Message](t, resp)
	if updated.Channel != "support" || len(updated.Attachments) != 1 {
		t.Fatalf("metadata not applied: %+v", updated)
	}
	if updated.Content != "hello" || updated.IsEdited {
		t.Fatalf("update must not touch content: %+v", updated)
	}

	// wrong caller is forbidden
	resp = doJSON(t, srv, http.MethodPatch, "/v1/messages/"+m.ID, "u2", map[string]any{"channel": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// nothing to apply
	resp = doJSON(t, srv, http.MethodPatch, "/v1/messages/"+m.ID, "u1", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	m := sendMsg(t, srv, "u1", "u2", "t1", "bye")

	// someone else's delete is indistinguishable from missing
	resp := doJSON(t, srv, http.MethodDelete, "/v1/messages/"+m.ID, "u2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/v1/messages/"+m.ID, "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	deleted := decode[models.Message](t, resp)
	if deleted.DeletedTS == 0 {
		t.Fatalf("soft delete missing: %+v", deleted)
	}

	// excluded from listings, still present by id
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages?thread=t1", "u1", nil)
	if page := decode[chat.Page](t, resp); page.Total != 0 {
		t.Fatalf("deleted message listed: %+v", page)
	}
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/"+m.ID, "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("by-id lookup: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReactionEndpointToggle(t *testing.T) {
	srv, _ := newTestServer(t)
	m := sendMsg(t, srv, "u1", "u2", "t1", "hi")

	resp := doJSON(t, srv, http.MethodPost, "/v1/messages/"+m.ID+"/reactions", "u2", map[string]string{"emoji": "👍"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("react: expected 200, got %d", resp.StatusCode)
	}
	out := decode[struct {
		Reaction *models.Reaction `json:"reaction"`
		Removed  bool             `json:"removed"`
	}](t, resp)
	if out.Removed || out.Reaction.Emoji != "👍" {
		t.Fatalf("first toggle wrong: %+v", out)
	}

	resp = doJSON(t, srv, http.MethodPost, "/v1/messages/"+m.ID+"/reactions", "u2", map[string]string{"emoji": "👍"})
	out = decode[struct {
		Reaction *models.Reaction `json:"reaction"`
		Removed  bool             `json:"removed"`
	}](t, resp)
	if !out.Removed {
		t.Fatalf("second toggle should remove: %+v", out)
	}

	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/"+m.ID+"/reactions", "u2", nil)
	list := decode[struct {
		Reactions []models.Reaction `json:"reactions"`
	}](t, resp)
	if len(list.Reactions) != 0 {
		t.Fatalf("reaction set should be empty: %+v", list.Reactions)
	}
}

func TestMarkReadAndStats(t *testing.T) {
	srv, _ := newTestServer(t)
	sendMsg(t, srv, "u1", "u2", "t1", "one")
	sendMsg(t, srv, "u1", "u2", "t1", "two")

	resp := doJSON(t, srv, http.MethodPost, "/v1/messages/read", "u2", map[string]string{"thread": "t1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read: expected 200, got %d", resp.StatusCode)
	}
	out := decode[map[string]int](t, resp)
	if out["updated"] != 2 {
		t.Fatalf("expected 2 updated, got %+v", out)
	}

	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/stats", "u2", nil)
	st := decode[models.ConversationStats](t, resp)
	if st.TotalMessages != 2 || st.UnreadCount != 0 || st.ReceivedMessages != 2 {
		t.Fatalf("stats wrong: %+v", st)
	}

	// stats require a caller
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/stats", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	sendMsg(t, srv, "u1", "u2", "t1", "the quarterly report")
	sendMsg(t, srv, "u2", "u1", "t1", "noted")

	resp := doJSON(t, srv, http.MethodGet, "/v1/messages/search?q=report", "u2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	page := decode[chat.Page](t, resp)
	if page.Total != 1 {
		t.Fatalf("search wrong: %+v", page)
	}

	// no guest fallback
	resp = doJSON(t, srv, http.MethodGet, "/v1/messages/search?q=report", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTypingEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	got := make(chan bus.Event, 4)
	b.Subscribe(func(ev bus.Event) { got <- ev })

	resp := doJSON(t, srv, http.MethodPost, "/v1/typing", "u1", map[string]any{"thread": "t1", "is_typing": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("typing: expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	select {
	case ev := <-got:
		if ev.Type != bus.TypeTyping || ev.Thread != "t1" {
			t.Fatalf("wrong typing event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("typing event missing")
	}
}

func TestAgentsEndpointIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, u := range []models.User{
		{ID: "a1", Name: "Ava", Role: models.RoleAgent, Agency: "north"},
		{ID: "a2", Name: "Ben", Role: models.RoleAgent, Agency: "south"},
	} {
		u := u
		if err := store.SaveUser(&u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	resp := doJSON(t, srv, http.MethodGet, "/v1/agents?agency=north", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agents: expected 200, got %d", resp.StatusCode)
	}
	page := decode[chat.AgentPage](t, resp)
	if page.Total != 1 || page.Data[0].ID != "a1" {
		t.Fatalf("agents wrong: %+v", page)
	}
}

func TestSignEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/_sign",
		strings.NewReader(`{"userId":"u1"}`))
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-API-Key", "backend-key-1")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	out := decode[map[string]string](t, resp)
	if out["signature"] != auth.SignUserID("backend-key-1", "u1") {
		t.Fatalf("signature mismatch: %+v", out)
	}

	// frontend roles may not mint signatures
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/_sign", strings.NewReader(`{"userId":"u1"}`))
	req2.Header.Set("X-Role-Name", "frontend")
	resp2, err := srv.Client().Do(req2)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp2.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	m := sendMsg(t, srv, "u1", "u2", "t1", "hello")
	resp := doJSON(t, srv, http.MethodDelete, "/v1/messages/"+m.ID, "u1", nil)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/stats", nil)
	req.Header.Set("X-Role-Name", "admin")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("admin stats: %v", err)
	}
	st := decode[struct {
		Messages int64 `json:"messages"`
		Deleted  int64 `json:"deleted"`
		Users    int   `json:"users"`
	}](t, resp)
	if st.Messages != 1 || st.Deleted != 1 {
		t.Fatalf("admin stats wrong: %+v", st)
	}

	// purge everything soft-deleted up to now
	body := strings.NewReader(`{"older_than":"0s"}`)
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/purge", body)
	req2.Header.Set("X-Role-Name", "admin")
	resp2, err := srv.Client().Do(req2)
	if err != nil {
		t.Fatalf("admin purge: %v", err)
	}
	out := decode[map[string]any](t, resp2)
	if int(out["purged"].(float64)) != 1 {
		t.Fatalf("purge wrong: %+v", out)
	}

	// non-admin roles are rejected
	req3, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/stats", nil)
	req3.Header.Set("X-Role-Name", "frontend")
	resp3, err := srv.Client().Do(req3)
	if err != nil {
		t.Fatalf("admin stats: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp3.StatusCode)
	}
}

// openStream opens an SSE feed and returns a channel of event payload
// lines (the "data: ..." lines).
func openStream(t *testing.T, srv *httptest.Server, path string) (<-chan string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Role-Name", "frontend")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: expected 200, got %d", resp.StatusCode)
	}
	lines := make(chan string, 16)
	go func() {
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(lines)
	}()
	return lines, cancel
}

func waitLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed early")
		}
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream event")
	}
	return ""
}

func TestMessageStreamThreadFiltering(t *testing.T) {
	srv, _ := newTestServer(t)

	feedA, cancelA := openStream(t, srv, "/v1/threads/tA/events/messages")
	defer cancelA()
	feedB, cancelB := openStream(t, srv, "/v1/threads/tB/events/messages")
	defer cancelB()

	sendMsg(t, srv, "u1", "u2", "tA", "to thread A")

	var ev bus.Event
	if err := json.Unmarshal([]byte(waitLine(t, feedA)), &ev); err != nil {
		t.Fatalf("bad event json: %v", err)
	}
	if ev.Type != bus.TypeMessage || ev.Thread != "tA" {
		t.Fatalf("wrong event on feed A: %+v", ev)
	}

	// feed B must stay silent
	select {
	case s := <-feedB:
		t.Fatalf("feed B received %q", s)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestReadReceiptStreamIsThreadScoped(t *testing.T) {
	srv, _ := newTestServer(t)
	sendMsg(t, srv, "S", "R", "t1", "hi")
	sendMsg(t, srv, "S", "R", "t2", "other")

	receipts, cancel := openStream(t, srv, "/v1/threads/t1/events/reads")
	defer cancel()

	resp := doJSON(t, srv, http.MethodPost, "/v1/messages/read", "R", map[string]string{"thread": "t2"})
	resp.Body.Close()
	resp = doJSON(t, srv, http.MethodPost, "/v1/messages/read", "R", map[string]string{"thread": "t1"})
	resp.Body.Close()

	var ev bus.Event
	if err := json.Unmarshal([]byte(waitLine(t, receipts)), &ev); err != nil {
		t.Fatalf("bad event json: %v", err)
	}
	if ev.Type != bus.TypeMessagesRead || ev.Thread != "t1" {
		t.Fatalf("receipt for wrong thread: %+v", ev)
	}
	payload, _ := json.Marshal(ev.Payload)
	var re bus.ReadEvent
	_ = json.Unmarshal(payload, &re)
	if re.Receiver != "R" || re.Thread != "t1" {
		t.Fatalf("receipt payload wrong: %+v", re)
	}
}

func TestStreamNoReplay(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		sendMsg(t, srv, "u1", "u2", "t1", fmt.Sprintf("early %d", i))
	}

	lines, cancel := openStream(t, srv, "/v1/threads/t1/events/messages")
	defer cancel()

	sendMsg(t, srv, "u1", "u2", "t1", "after open")

	var ev bus.Event
	if err := json.Unmarshal([]byte(waitLine(t, lines)), &ev); err != nil {
		t.Fatalf("bad event json: %v", err)
	}
	payload, _ := json.Marshal(ev.Payload)
	var m models.Message
	_ = json.Unmarshal(payload, &m)
	if m.Content != "after open" {
		t.Fatalf("expected only post-open events, got %q", m.Content)
	}
}

func TestStreamRejectsUnknownKind(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/v1/threads/t1/events/presence")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
