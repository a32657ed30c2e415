package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/store"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	req := createConversationRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	conversation := store.Conversation{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.CreateConversation(r.Context(), conversation); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(conversationResponse(conversation))
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.ListConversations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		results = append(results, conversationResponse(conversation))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"conversations": results})
}

func conversationResponse(conversation store.Conversation) map[string]any {
	return map[string]any{
		"id":         conversation.ID,
		"title":      conversation.Title,
		"created_at": conversation.CreatedAt,
	}
}

type submitMessageRequest struct {
	Content string `json:"content"`
}

// submitMessage records the user message and hands it to the workflow
// service; the response carries the IDs the UI needs to poll status.
func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		http.Error(w, "message content required", http.StatusBadRequest)
		return
	}
	conversation, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conversation == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	msg := store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		Status:         store.MessageStatusQueued,
		Sequence:       time.Now().UnixNano(),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.AddMessage(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runID, err := s.workflows.OnMessageQueued(r.Context(), conversationID, msg.ID, content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, map[string]any{
		"message_id": msg.ID,
		"run_id":     runID,
		"status":     store.MessageStatusQueued,
	}, http.StatusAccepted)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	messages, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		results = append(results, messageResponse(msg))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": results})
}

// getMessage is the status read model the chat UI polls: status plus
// content once the run completed, or the failure reason.
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	msg, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msg == nil {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(messageResponse(*msg))
}

func messageResponse(msg store.Message) map[string]any {
	response := map[string]any{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"status":          msg.Status,
		"content":         msg.Content,
		"created_at":      msg.CreatedAt,
	}
	if msg.Error != "" {
		response["error"] = msg.Error
	}
	return response
}
