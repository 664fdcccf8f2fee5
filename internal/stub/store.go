package stub

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"tpmjs/tests/integration/internal/model"
)

type State struct {
	Agents        map[string]model.Agent        `json:"agents"`
	Collections   map[string]model.Collection   `json:"collections"`
	Conversations map[string]model.Conversation `json:"conversations"`
	APIKeys       map[string]model.APIKey       `json:"api_keys"`
}

// Store guards the stub's state behind an RWMutex. Agents are keyed by
// uid, collections and conversations by server id.
type Store struct {
	mu        sync.RWMutex
	state     State
	stateFile string
}

// NewStore keeps everything in memory when dataDir is empty, which is how
// tests run it. A non-empty dataDir persists state across stub restarts.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{state: defaultState()}
	if dataDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s.stateFile = filepath.Join(dataDir, "state.json")
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultState() State {
	return State{
		Agents:        map[string]model.Agent{},
		Collections:   map[string]model.Collection{},
		Conversations: map[string]model.Conversation{},
		APIKeys:       map[string]model.APIKey{},
	}
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return err
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	if state.Agents == nil {
		state.Agents = map[string]model.Agent{}
	}
	if state.Collections == nil {
		state.Collections = map[string]model.Collection{}
	}
	if state.Conversations == nil {
		state.Conversations = map[string]model.Conversation{}
	}
	if state.APIKeys == nil {
		state.APIKeys = map[string]model.APIKey{}
	}
	s.state = state
	return nil
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.stateFile == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.stateFile, b, 0o644)
}

func (s *Store) Read(fn func(state *State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

func (s *Store) Write(fn func(state *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.state); err != nil {
		return err
	}
	return s.saveLocked()
}
