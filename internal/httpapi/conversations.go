package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/contextd/contextd/internal/contextmgr"
	"github.com/contextd/contextd/internal/memory"
)

type createConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	LLM            string `json:"llm"`
	UserID         string `json:"user_id"`
}

type addMessageRequest struct {
	Text      string `json:"text"`
	LLM       string `json:"llm"`
	UserID    string `json:"user_id"`
	AutoApply *bool  `json:"auto_apply"`
}

type addMessageResponse struct {
	State             *memory.ConversationState    `json:"state"`
	ArchiveDecision   contextmgr.ArchiveDecision   `json:"archive_decision"`
	RetrievalDecision contextmgr.RetrievalDecision `json:"retrieval_decision"`
	Applied           bool                         `json:"applied"`
}

type createSummaryRequest struct {
	SummaryText string `json:"summary_text"`
	LLM         string `json:"llm"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "conversation_id is required")
		return
	}

	state, err := s.orchestrator.InitializeConversation(r.Context(), req.ConversationID, req.LLM, req.UserID)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, state)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	states, err := s.orchestrator.GetActiveConversations(r.Context())
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if states == nil {
		states = []*memory.ConversationState{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": states})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	status, err := s.orchestrator.GetConversationStatus(r.Context(), id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", "no conversation with id "+id)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := s.orchestrator.RemoveConversation(r.Context(), id); err != nil {
		respondCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	state, archiveDec, retrievalDec, err := s.orchestrator.AddMessage(r.Context(), id, req.Text, req.LLM, req.UserID)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	// Decisions are executed here by default; auto_apply=false turns the
	// request into a dry run so the caller can veto.
	apply := req.AutoApply == nil || *req.AutoApply
	if apply {
		if err := s.orchestrator.ExecuteArchive(r.Context(), state, archiveDec); err != nil {
			respondCoreError(w, err)
			return
		}
		if err := s.orchestrator.ExecuteRetrieval(r.Context(), state, retrievalDec); err != nil {
			respondCoreError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, addMessageResponse{
		State:             state,
		ArchiveDecision:   archiveDec,
		RetrievalDecision: retrievalDec,
		Applied:           apply,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	state, decision, err := s.orchestrator.EvaluateArchive(r.Context(), id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if err := s.orchestrator.ExecuteArchive(r.Context(), state, decision); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"decision": decision,
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	state, decision, err := s.orchestrator.EvaluateRetrieval(r.Context(), id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if err := s.orchestrator.ExecuteRetrieval(r.Context(), state, decision); err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"decision": decision,
	})
}

func (s *Server) handleCreateSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req createSummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SummaryText) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "summary_text is required")
		return
	}

	summary, err := s.orchestrator.CreateSummary(r.Context(), id, req.SummaryText, req.LLM, req.UserID)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, summary)
}
