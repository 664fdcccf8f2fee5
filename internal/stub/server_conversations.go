package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tpmjs/tests/integration/internal/model"
)

const replyChunkSize = 12

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	uid := chi.URLParam(r, "uid")
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is fine, only malformed JSON is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Conversation"
	}
	conversation := model.Conversation{
		ID:        newID("conversation"),
		AgentUID:  uid,
		Username:  username,
		Title:     title,
		CreatedAt: nowISO(),
	}
	err := s.store.Write(func(state *State) error {
		if _, ok := state.Agents[uid]; !ok {
			return errAgentMissing
		}
		state.Conversations[conversation.ID] = conversation
		return nil
	})
	if errors.Is(err, errAgentMissing) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conversation, ok := s.lookupConversation(r)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := chi.URLParam(r, "uid")
	err := s.store.Write(func(state *State) error {
		conversation, ok := state.Conversations[id]
		if !ok || conversation.AgentUID != uid {
			return errNotFound
		}
		delete(state.Conversations, id)
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// streamConversation echoes the message back as an SSE stream: a chunk
// event per slice of the reply, then a single done event.
func (s *Server) streamConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	conversation, ok := s.lookupConversation(r)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	var agent model.Agent
	s.store.Read(func(state *State) {
		agent = state.Agents[conversation.AgentUID]
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reply := fmt.Sprintf("%s echoes: %s", agent.Name, message)
	chunks := splitReply(reply, replyChunkSize)
	for i, chunk := range chunks {
		payload, _ := json.Marshal(map[string]string{"text": chunk})
		_, _ = fmt.Fprintf(w, "id: %s-%d\nevent: chunk\ndata: %s\n\n", conversation.ID, i+1, payload)
		flusher.Flush()
	}
	donePayload, _ := json.Marshal(map[string]interface{}{
		"conversationId": conversation.ID,
		"chunks":         len(chunks),
	})
	_, _ = fmt.Fprintf(w, "event: done\ndata: %s\n\n", donePayload)
	flusher.Flush()
}

func (s *Server) lookupConversation(r *http.Request) (model.Conversation, bool) {
	id := chi.URLParam(r, "id")
	uid := chi.URLParam(r, "uid")
	var conversation model.Conversation
	found := false
	s.store.Read(func(state *State) {
		conversation, found = state.Conversations[id]
	})
	if !found || conversation.AgentUID != uid {
		return model.Conversation{}, false
	}
	return conversation, true
}

// splitReply slices text into rune-safe chunks of at most size runes.
func splitReply(text string, size int) []string {
	if size <= 0 {
		size = replyChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
