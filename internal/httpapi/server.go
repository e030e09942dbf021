// Package httpapi is the thin dispatch boundary over the orchestrator: it
// validates input, translates core errors, and carries no policy of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/contextd/contextd/internal/config"
	"github.com/contextd/contextd/internal/contextmgr"
	"github.com/contextd/contextd/internal/memory"
	"github.com/contextd/contextd/internal/observability"
)

// Orchestrator is the core surface the HTTP layer dispatches to.
type Orchestrator interface {
	InitializeConversation(ctx context.Context, id, llm, userID string) (*memory.ConversationState, error)
	AddMessage(ctx context.Context, id, text, llm, userID string) (*memory.ConversationState, contextmgr.ArchiveDecision, contextmgr.RetrievalDecision, error)
	EvaluateArchive(ctx context.Context, id string) (*memory.ConversationState, contextmgr.ArchiveDecision, error)
	EvaluateRetrieval(ctx context.Context, id string) (*memory.ConversationState, contextmgr.RetrievalDecision, error)
	ExecuteArchive(ctx context.Context, state *memory.ConversationState, decision contextmgr.ArchiveDecision) error
	ExecuteRetrieval(ctx context.Context, state *memory.ConversationState, decision contextmgr.RetrievalDecision) error
	CreateSummary(ctx context.Context, id, summaryText, llm, userID string) (*memory.ArchivedItem, error)
	GetConversationStatus(ctx context.Context, id string) (*contextmgr.ConversationStatus, error)
	RemoveConversation(ctx context.Context, id string) error
	GetActiveConversations(ctx context.Context) ([]*memory.ConversationState, error)
	ScorerName() string
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        memory.Store
	metrics      *observability.Metrics
	hub          *EventHub
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, store memory.Store, metrics *observability.Metrics, hub *EventHub) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		metrics:      metrics,
		hub:          hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Delete("/", s.handleDeleteConversation)
				r.Post("/messages", s.handleAddMessage)
				r.Post("/archive", s.handleArchive)
				r.Post("/retrieve", s.handleRetrieve)
				r.Post("/summaries", s.handleCreateSummary)
			})
		})
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"store":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"scorer": s.orchestrator.ScorerName(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondCoreError translates an orchestrator failure into kind + cause,
// never a raw stack trace.
func respondCoreError(w http.ResponseWriter, err error) {
	kind := contextmgr.KindOf(err)
	switch kind {
	case contextmgr.KindNotFound:
		respondError(w, http.StatusNotFound, string(kind), err.Error())
	case contextmgr.KindEmptyInput:
		respondError(w, http.StatusUnprocessableEntity, string(kind), err.Error())
	case contextmgr.KindValidation:
		respondError(w, http.StatusBadRequest, string(kind), err.Error())
	case contextmgr.KindStoreFailure:
		respondError(w, http.StatusBadGateway, string(kind), err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
