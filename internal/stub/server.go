// Package stub is an in-process double of the tpmjs API used by the
// integration harness. It serves the same routes, auth rules, and SSE
// stream shape as the real platform so the suite can run hermetically.
package stub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"tpmjs/tests/integration/internal/model"
)

const testPrefix = "test-"

// Config carries the credentials the stub accepts. Zero-value fields
// disable the matching auth path.
type Config struct {
	SessionToken string
	APIKey       string
	CronSecret   string
	Username     string
	DataDir      string
}

type Server struct {
	cfg   Config
	store *Store
}

func NewServer(cfg Config) (*Server, error) {
	store, err := NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, store: store}, nil
}

// Handler assembles the route tree. Reads are public, writes require a
// session or API key, and the cleanup endpoint only accepts the cron
// secret, mirroring the production API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/agents", s.listAgents)
	r.Get("/api/agents/{uid}", s.getAgent)
	r.Get("/api/collections", s.listCollections)
	r.Get("/api/collections/{id}", s.getCollection)

	r.Group(func(api chi.Router) {
		api.Use(s.requireUser)

		api.Post("/api/agents", s.createAgent)
		api.Patch("/api/agents/{uid}", s.updateAgent)
		api.Delete("/api/agents/{uid}", s.deleteAgent)
		api.Post("/api/agents/{uid}/tools", s.addAgentTool)

		api.Post("/api/collections", s.createCollection)
		api.Patch("/api/collections/{id}", s.updateCollection)
		api.Delete("/api/collections/{id}", s.deleteCollection)
		api.Post("/api/collections/{id}/agents", s.addCollectionAgent)

		api.Post("/api/keys", s.createAPIKey)
		api.Delete("/api/keys/{id}", s.deleteAPIKey)

		api.Route("/api/{username}/agents/{uid}/conversation", func(cr chi.Router) {
			cr.Post("/", s.createConversation)
			cr.Get("/{id}", s.getConversation)
			cr.Delete("/{id}", s.deleteConversation)
			cr.Post("/{id}/stream", s.streamConversation)
		})
	})

	r.Group(func(cron chi.Router) {
		cron.Use(s.requireCron)
		cron.Post("/api/cron/cleanup", s.cronCleanup)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	key := model.APIKey{
		ID:        newID("key"),
		Name:      name,
		Key:       "tpm_" + uuid.NewString(),
		CreatedAt: nowISO(),
	}
	err := s.store.Write(func(state *State) error {
		state.APIKeys[key.ID] = key
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.Write(func(state *State) error {
		if _, ok := state.APIKeys[id]; !ok {
			return errNotFound
		}
		delete(state.APIKeys, id)
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// cronCleanup removes every test-prefixed agent and collection along with
// the conversations that hang off them, like the nightly production job.
func (s *Server) cronCleanup(w http.ResponseWriter, r *http.Request) {
	var removed struct {
		Agents        int `json:"agents"`
		Collections   int `json:"collections"`
		Conversations int `json:"conversations"`
	}
	err := s.store.Write(func(state *State) error {
		for uid, agent := range state.Agents {
			if !strings.HasPrefix(agent.UID, testPrefix) {
				continue
			}
			delete(state.Agents, uid)
			removed.Agents++
			for id, conversation := range state.Conversations {
				if conversation.AgentUID == uid {
					delete(state.Conversations, id)
					removed.Conversations++
				}
			}
			for id, collection := range state.Collections {
				collection.AgentUIDs = removeString(collection.AgentUIDs, uid)
				state.Collections[id] = collection
			}
		}
		for id, collection := range state.Collections {
			if strings.HasPrefix(collection.Slug, testPrefix) {
				delete(state.Collections, id)
				removed.Collections++
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "removed": removed})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNotFound = errors.New("not_found")

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// removeString allocates a fresh slice so copies handed out by earlier
// reads keep their backing array.
func removeString(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
