package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contextd/contextd/internal/config"
	"github.com/contextd/contextd/internal/contextmgr"
	"github.com/contextd/contextd/internal/memory"
	"github.com/contextd/contextd/internal/scoring"
)

func newTestServer(t *testing.T) (*Server, *memory.InMemoryStore, *contextmgr.Orchestrator) {
	t.Helper()
	store := memory.NewInMemoryStore()
	repo := memory.NewStateRepository(store)
	orch := contextmgr.New(contextmgr.DefaultPolicy(), repo, store, scoring.NewKeywordStrategy(), nil)
	hub := NewEventHub()
	orch.SetEventSink(hub.Publish)
	return New(config.Config{}, orch, store, nil, hub), store, orch
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateConversation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{
		"conversation_id": "c1", "llm": "claude", "user_id": "u1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	var state memory.ConversationState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.ConversationID != "c1" || state.TotalWordCount != 0 {
		t.Fatalf("state = %+v", state)
	}
}

func TestCreateConversationRejectsMissingID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"llm": "claude"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/conversations", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", rec.Code)
	}
}

func TestGetConversation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"conversation_id": "c1"})

	rec := doJSON(t, router, http.MethodGet, "/v1/conversations/c1/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var status contextmgr.ConversationStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.ConversationID != "c1" || status.MaxWordCount != 2000 {
		t.Fatalf("status = %+v", status)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/conversations/missing/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestListConversations(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/v1/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Conversations []*memory.ConversationState `json:"conversations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Conversations == nil || len(body.Conversations) != 0 {
		t.Fatalf("empty list must encode as [], got %v", body.Conversations)
	}

	doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"conversation_id": "c1"})
	doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"conversation_id": "c2"})
	rec = doJSON(t, router, http.MethodGet, "/v1/conversations", nil)
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Conversations) != 2 {
		t.Fatalf("conversations = %d, want 2", len(body.Conversations))
	}
}

func TestAddMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", map[string]string{
		"text": "hello there", "llm": "claude", "user_id": "u1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp addMessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State.TotalWordCount != 2 || !resp.Applied {
		t.Fatalf("response = %+v", resp)
	}
	if resp.ArchiveDecision.ShouldArchive || resp.RetrievalDecision.ShouldRetrieve {
		t.Fatalf("decisions must be negative on a near-empty window: %+v", resp)
	}
}

func TestAddMessageRejectsEmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", map[string]string{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAddMessageDryRun(t *testing.T) {
	srv, store, _ := newTestServer(t)
	router := srv.Router()

	autoApply := false
	// 1601 of 2000 words crosses the 0.8 archive threshold on the second add.
	doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{
		"text": strings.Repeat("w ", 1600),
	})
	rec := doJSON(t, router, http.MethodPost, "/v1/conversations/c1/messages", map[string]any{
		"text":       "one",
		"auto_apply": autoApply,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp addMessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.ArchiveDecision.ShouldArchive || resp.Applied {
		t.Fatalf("want positive unapplied archive decision: %+v", resp)
	}

	// Dry run: nothing reached the archive.
	items, err := store.QueryItems(context.Background(), memory.ItemQuery{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("QueryItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("dry run must not archive, found %d items", len(items))
	}
}

func TestCreateSummaryEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"conversation_id": "c1"})
	rec := doJSON(t, router, http.MethodPost, "/v1/conversations/c1/summaries", map[string]string{
		"summary_text": "the gist",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", rec.Code, rec.Body)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != string(contextmgr.KindEmptyInput) {
		t.Fatalf("code = %q, want %q", resp.Code, contextmgr.KindEmptyInput)
	}
}

func TestCreateSummaryUnknownConversation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/conversations/missing/summaries", map[string]string{
		"summary_text": "the gist",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body %s", rec.Code, rec.Body)
	}
}

func TestDeleteConversation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/v1/conversations", map[string]string{"conversation_id": "c1"})
	rec := doJSON(t, router, http.MethodDelete, "/v1/conversations/c1/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/v1/conversations/c1/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec.Code)
	}
	// Deleting again stays successful.
	rec = doJSON(t, router, http.MethodDelete, "/v1/conversations/c1/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete status = %d, want 204", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" || body["scorer"] != "keyword" {
		t.Fatalf("health body = %v", body)
	}
}

func TestEventStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// The subscription registers asynchronously with the handler goroutine;
	// poll until the hub sees it before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	body, _ := json.Marshal(map[string]string{"conversation_id": "c1"})
	resp, err := http.Post(ts.URL+"/v1/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()

	var ev contextmgr.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != contextmgr.EventInitialized || ev.ConversationID != "c1" {
		t.Fatalf("event = %+v", ev)
	}
}
