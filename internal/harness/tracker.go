package harness

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"tpmjs/tests/integration/internal/client"
)

// ConversationRef identifies a conversation by everything its nested
// delete route needs.
type ConversationRef struct {
	Username string
	AgentUID string
	ID       string
}

// Tracker registers created entities so Cleanup can delete them in
// dependency order. Safe for use from parallel tests.
type Tracker struct {
	mu            sync.Mutex
	agents        map[string]struct{}
	collections   map[string]struct{}
	conversations map[ConversationRef]struct{}
	apiKeys       map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		agents:        map[string]struct{}{},
		collections:   map[string]struct{}{},
		conversations: map[ConversationRef]struct{}{},
		apiKeys:       map[string]struct{}{},
	}
}

func (t *Tracker) AddAgent(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents[uid] = struct{}{}
}

func (t *Tracker) AddCollection(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collections[id] = struct{}{}
}

func (t *Tracker) AddConversation(ref ConversationRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversations[ref] = struct{}{}
}

func (t *Tracker) AddAPIKey(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiKeys[id] = struct{}{}
}

// Counts reports how many entities of each kind are currently tracked.
type Counts struct {
	Agents        int
	Collections   int
	Conversations int
	APIKeys       int
}

func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{
		Agents:        len(t.agents),
		Collections:   len(t.collections),
		Conversations: len(t.conversations),
		APIKeys:       len(t.apiKeys),
	}
}

// Cleanup deletes every tracked entity through api: conversations first,
// then API keys, then agents, then collections, so nothing is removed
// before its dependents. A delete that 404s counts as done. Any other
// failure aborts and leaves the registry intact, so a retry can finish
// the job.
func (t *Tracker) Cleanup(ctx context.Context, api *client.Client) error {
	t.mu.Lock()
	conversations := make([]ConversationRef, 0, len(t.conversations))
	for ref := range t.conversations {
		conversations = append(conversations, ref)
	}
	apiKeys := sortedKeys(t.apiKeys)
	agents := sortedKeys(t.agents)
	collections := sortedKeys(t.collections)
	t.mu.Unlock()

	sort.Slice(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		if a.AgentUID != b.AgentUID {
			return a.AgentUID < b.AgentUID
		}
		return a.ID < b.ID
	})

	paths := make([]string, 0, len(conversations)+len(apiKeys)+len(agents)+len(collections))
	for _, ref := range conversations {
		paths = append(paths, fmt.Sprintf("/api/%s/agents/%s/conversation/%s", ref.Username, ref.AgentUID, ref.ID))
	}
	for _, id := range apiKeys {
		paths = append(paths, "/api/keys/"+id)
	}
	for _, uid := range agents {
		paths = append(paths, "/api/agents/"+uid)
	}
	for _, id := range collections {
		paths = append(paths, "/api/collections/"+id)
	}

	for _, path := range paths {
		if err := deleteOne(ctx, api, path); err != nil {
			return fmt.Errorf("harness: cleanup: %w", err)
		}
	}

	t.mu.Lock()
	t.agents = map[string]struct{}{}
	t.collections = map[string]struct{}{}
	t.conversations = map[ConversationRef]struct{}{}
	t.apiKeys = map[string]struct{}{}
	t.mu.Unlock()
	return nil
}

func deleteOne(ctx context.Context, api *client.Client, path string) error {
	res, err := client.Delete[struct{}](ctx, api, path, client.Options{})
	if err != nil {
		return err
	}
	if !res.OK && res.Status != http.StatusNotFound {
		return fmt.Errorf("DELETE %s: %s", path, res.Error)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
