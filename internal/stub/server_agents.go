package stub

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"tpmjs/tests/integration/internal/model"
)

var (
	errAgentExists      = errors.New("agent_exists")
	errAgentMissing     = errors.New("agent_missing")
	errCollectionExists = errors.New("collection_exists")
	errEmptyName        = errors.New("empty_name")
)

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID         string   `json:"uid"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Tools       []string `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UID = strings.TrimSpace(req.UID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	now := nowISO()
	agent := model.Agent{
		ID:          newID("agent"),
		UID:         req.UID,
		Name:        req.Name,
		Description: req.Description,
		Username:    s.cfg.Username,
		Tools:       req.Tools,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.Write(func(state *State) error {
		if _, exists := state.Agents[agent.UID]; exists {
			return errAgentExists
		}
		state.Agents[agent.UID] = agent
		return nil
	})
	if errors.Is(err, errAgentExists) {
		writeError(w, http.StatusConflict, "agent uid already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	var agents []model.Agent
	s.store.Read(func(state *State) {
		agents = make([]model.Agent, 0, len(state.Agents))
		for _, agent := range state.Agents {
			agents = append(agents, agent)
		}
	})
	sort.Slice(agents, func(i, j int) bool { return agents[i].UID < agents[j].UID })
	writeJSON(w, http.StatusOK, model.AgentList{Agents: agents})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	var agent model.Agent
	found := false
	s.store.Read(func(state *State) {
		agent, found = state.Agents[uid]
	})
	if !found {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	var req struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		Tools       *[]string `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var updated model.Agent
	err := s.store.Write(func(state *State) error {
		agent, ok := state.Agents[uid]
		if !ok {
			return errNotFound
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return errEmptyName
			}
			agent.Name = name
		}
		if req.Description != nil {
			agent.Description = *req.Description
		}
		if req.Tools != nil {
			agent.Tools = *req.Tools
		}
		agent.UpdatedAt = nowISO()
		state.Agents[uid] = agent
		updated = agent
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if errors.Is(err, errEmptyName) {
		writeError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteAgent also drops the agent's conversations and pulls it out of any
// collection that references it.
func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	err := s.store.Write(func(state *State) error {
		if _, ok := state.Agents[uid]; !ok {
			return errNotFound
		}
		delete(state.Agents, uid)
		for id, conversation := range state.Conversations {
			if conversation.AgentUID == uid {
				delete(state.Conversations, id)
			}
		}
		for id, collection := range state.Collections {
			collection.AgentUIDs = removeString(collection.AgentUIDs, uid)
			state.Collections[id] = collection
		}
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) addAgentTool(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	var req struct {
		Tool string `json:"tool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}
	var updated model.Agent
	err := s.store.Write(func(state *State) error {
		agent, ok := state.Agents[uid]
		if !ok {
			return errNotFound
		}
		for _, existing := range agent.Tools {
			if existing == tool {
				updated = agent
				return nil
			}
		}
		agent.Tools = append(append([]string(nil), agent.Tools...), tool)
		agent.UpdatedAt = nowISO()
		state.Agents[uid] = agent
		updated = agent
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug        string `json:"slug"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" {
		writeError(w, http.StatusBadRequest, "slug is required")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	now := nowISO()
	collection := model.Collection{
		ID:          newID("collection"),
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		AgentUIDs:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.Write(func(state *State) error {
		for _, existing := range state.Collections {
			if existing.Slug == collection.Slug {
				return errCollectionExists
			}
		}
		state.Collections[collection.ID] = collection
		return nil
	})
	if errors.Is(err, errCollectionExists) {
		writeError(w, http.StatusConflict, "collection slug already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	var collections []model.Collection
	s.store.Read(func(state *State) {
		collections = make([]model.Collection, 0, len(state.Collections))
		for _, collection := range state.Collections {
			collections = append(collections, collection)
		}
	})
	sort.Slice(collections, func(i, j int) bool { return collections[i].Slug < collections[j].Slug })
	writeJSON(w, http.StatusOK, model.CollectionList{Collections: collections})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var collection model.Collection
	found := false
	s.store.Read(func(state *State) {
		collection, found = state.Collections[id]
	})
	if !found {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (s *Server) updateCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var updated model.Collection
	err := s.store.Write(func(state *State) error {
		collection, ok := state.Collections[id]
		if !ok {
			return errNotFound
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return errEmptyName
			}
			collection.Name = name
		}
		if req.Description != nil {
			collection.Description = *req.Description
		}
		collection.UpdatedAt = nowISO()
		state.Collections[id] = collection
		updated = collection
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if errors.Is(err, errEmptyName) {
		writeError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.Write(func(state *State) error {
		if _, ok := state.Collections[id]; !ok {
			return errNotFound
		}
		delete(state.Collections, id)
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) addCollectionAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		UID string `json:"uid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	var updated model.Collection
	err := s.store.Write(func(state *State) error {
		collection, ok := state.Collections[id]
		if !ok {
			return errNotFound
		}
		if _, ok := state.Agents[uid]; !ok {
			return errAgentMissing
		}
		for _, existing := range collection.AgentUIDs {
			if existing == uid {
				updated = collection
				return nil
			}
		}
		collection.AgentUIDs = append(append([]string(nil), collection.AgentUIDs...), uid)
		collection.UpdatedAt = nowISO()
		state.Collections[id] = collection
		updated = collection
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if errors.Is(err, errAgentMissing) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
