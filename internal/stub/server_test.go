package stub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tpmjs/tests/integration/internal/model"
	"tpmjs/tests/integration/internal/sse"
)

const (
	testSessionToken = "sess-tok"
	testAPIKey       = "key-tok"
	testCronSecret   = "cron-tok"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := NewServer(Config{
		SessionToken: testSessionToken,
		APIKey:       testAPIKey,
		CronSecret:   testCronSecret,
		Username:     "tester",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url string, body interface{}, authorize func(*http.Request)) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize != nil {
		authorize(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func withCookie(name, token string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: name, Value: token})
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]bool
	readJSON(t, resp, &body)
	if !body["ok"] {
		t.Fatalf("body=%v want ok=true", body)
	}
}

func TestWriteRoutesRequireAuth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "a", "name": "A"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusUnauthorized)
	}
	var body map[string]string
	readJSON(t, resp, &body)
	if body["error"] != "Unauthorized" {
		t.Fatalf("error=%q want=%q", body["error"], "Unauthorized")
	}
}

func TestSessionCookieAcceptedUnderBothNames(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for i, name := range []string{sessionCookieName, secureSessionCookieName} {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
			map[string]string{"uid": fmt.Sprintf("cookie-agent-%d", i), "name": "Cookie Agent"},
			withCookie(name, testSessionToken))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("cookie %q: status=%d want=%d", name, resp.StatusCode, http.StatusCreated)
		}
		resp.Body.Close()
	}

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "bad-cookie", "name": "Bad"},
		withCookie(sessionCookieName, "wrong-token"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status=%d want=%d", resp.StatusCode, http.StatusUnauthorized)
	}
	resp.Body.Close()
}

func TestAPIKeyBearerAccepted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "bearer-agent", "name": "Bearer Agent"},
		withBearer(testAPIKey))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusCreated)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "bearer-agent-2", "name": "Bearer Agent"},
		withBearer("not-the-key"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: status=%d want=%d", resp.StatusCode, http.StatusUnauthorized)
	}
	resp.Body.Close()
}

func TestAgentLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	auth := withBearer(testAPIKey)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]interface{}{"uid": "life-agent", "name": "Life Agent", "tools": []string{"search"}}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status=%d", resp.StatusCode)
	}
	var created model.Agent
	readJSON(t, resp, &created)
	if created.UID != "life-agent" || created.Username != "tester" {
		t.Fatalf("created=%+v", created)
	}
	if !strings.HasPrefix(created.ID, "agent-") {
		t.Fatalf("id=%q want agent- prefix", created.ID)
	}
	if created.CreatedAt == "" || created.CreatedAt != created.UpdatedAt {
		t.Fatalf("timestamps=%q/%q", created.CreatedAt, created.UpdatedAt)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "life-agent", "name": "Dup"}, auth)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate uid: status=%d want=%d", resp.StatusCode, http.StatusConflict)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/agents/life-agent", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public get: status=%d", resp.StatusCode)
	}
	var fetched model.Agent
	readJSON(t, resp, &fetched)
	if fetched.Name != "Life Agent" {
		t.Fatalf("name=%q", fetched.Name)
	}

	resp = doRequest(t, http.MethodPatch, ts.URL+"/api/agents/life-agent",
		map[string]string{"name": "Renamed Agent"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: status=%d", resp.StatusCode)
	}
	var patched model.Agent
	readJSON(t, resp, &patched)
	if patched.Name != "Renamed Agent" {
		t.Fatalf("patched name=%q", patched.Name)
	}
	if len(patched.Tools) != 1 || patched.Tools[0] != "search" {
		t.Fatalf("patch clobbered tools: %v", patched.Tools)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents/life-agent/tools",
		map[string]string{"tool": "calculator"}, auth)
	var withTool model.Agent
	readJSON(t, resp, &withTool)
	if len(withTool.Tools) != 2 {
		t.Fatalf("tools=%v want 2 entries", withTool.Tools)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents/life-agent/tools",
		map[string]string{"tool": "calculator"}, auth)
	var again model.Agent
	readJSON(t, resp, &again)
	if len(again.Tools) != 2 {
		t.Fatalf("duplicate tool appended: %v", again.Tools)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/agents/life-agent", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/agents/life-agent", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete: status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
	var missing map[string]string
	readJSON(t, resp, &missing)
	if missing["error"] != "agent not found" {
		t.Fatalf("error=%q", missing["error"])
	}
}

func TestCollectionMembershipFollowsAgents(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	auth := withBearer(testAPIKey)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/collections",
		map[string]string{"slug": "member-col", "name": "Members"}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create collection: status=%d", resp.StatusCode)
	}
	var collection model.Collection
	readJSON(t, resp, &collection)
	if collection.ID == collection.Slug {
		t.Fatalf("server id should differ from slug, got %q", collection.ID)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/collections",
		map[string]string{"slug": "member-col", "name": "Dup"}, auth)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate slug: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/collections/"+collection.ID+"/agents",
		map[string]string{"uid": "ghost"}, auth)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent: status=%d want=%d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "member-agent", "name": "Member"}, auth)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/collections/"+collection.ID+"/agents",
		map[string]string{"uid": "member-agent"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add member: status=%d", resp.StatusCode)
	}
	var joined model.Collection
	readJSON(t, resp, &joined)
	if len(joined.AgentUIDs) != 1 || joined.AgentUIDs[0] != "member-agent" {
		t.Fatalf("agentUids=%v", joined.AgentUIDs)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/agents/member-agent", nil, auth)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/collections/"+collection.ID, nil, nil)
	var after model.Collection
	readJSON(t, resp, &after)
	if len(after.AgentUIDs) != 0 {
		t.Fatalf("deleting the agent should empty membership, got %v", after.AgentUIDs)
	}
}

func TestConversationStreamEchoesInChunks(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	auth := withBearer(testAPIKey)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "chat-agent", "name": "Echo"}, auth)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/tester/agents/chat-agent/conversation",
		map[string]string{"title": "First chat"}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create conversation: status=%d", resp.StatusCode)
	}
	var conversation model.Conversation
	readJSON(t, resp, &conversation)
	if conversation.AgentUID != "chat-agent" || conversation.Username != "tester" {
		t.Fatalf("conversation=%+v", conversation)
	}

	streamURL := ts.URL + "/api/tester/agents/chat-agent/conversation/" + conversation.ID + "/stream"
	resp = doRequest(t, http.MethodPost, streamURL,
		map[string]string{"message": "héllo wörld"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	events, err := sse.Collect(resp, sse.CollectOptions{})
	if err != nil {
		t.Fatalf("collect stream: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("events=%d want chunk(s) plus done", len(events))
	}
	if got := sse.ExtractChunkText(events); got != "Echo echoes: héllo wörld" {
		t.Fatalf("reassembled text=%q", got)
	}
	last := events[len(events)-1]
	if last.Event != "done" {
		t.Fatalf("last event=%q want done", last.Event)
	}
	if first := events[0]; first.ID == "" {
		t.Fatalf("chunk events should carry ids, got %+v", first)
	}

	resp = doRequest(t, http.MethodPost, streamURL, map[string]string{"message": "   "}, auth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message: status=%d want=%d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete,
		ts.URL+"/api/tester/agents/chat-agent/conversation/"+conversation.ID, nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete conversation: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet,
		ts.URL+"/api/tester/agents/chat-agent/conversation/"+conversation.ID, nil, auth)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete: status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCronCleanupSweepsTestEntities(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	auth := withBearer(testAPIKey)

	for _, uid := range []string{"test-agent-1-1", "prod-agent"} {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
			map[string]string{"uid": uid, "name": "N " + uid}, auth)
		resp.Body.Close()
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/collections",
		map[string]string{"slug": "test-collection-1-1", "name": "Sweep Me"}, auth)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/cron/cleanup", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	// Sessions and API keys are not enough for the cron route.
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/cron/cleanup", nil, auth)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("api key on cron route: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/cron/cleanup", nil, withBearer(testCronSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cron secret: status=%d", resp.StatusCode)
	}
	var report struct {
		OK      bool `json:"ok"`
		Removed struct {
			Agents      int `json:"agents"`
			Collections int `json:"collections"`
		} `json:"removed"`
	}
	readJSON(t, resp, &report)
	if !report.OK || report.Removed.Agents != 1 || report.Removed.Collections != 1 {
		t.Fatalf("report=%+v", report)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/agents/test-agent-1-1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("swept agent still present: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/agents/prod-agent", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prod agent swept: status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDynamicAPIKeysAuthorizeRequests(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/keys",
		map[string]string{"name": "ci key"}, withCookie(sessionCookieName, testSessionToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key: status=%d", resp.StatusCode)
	}
	var key model.APIKey
	readJSON(t, resp, &key)
	if !strings.HasPrefix(key.Key, "tpm_") {
		t.Fatalf("key=%q want tpm_ prefix", key.Key)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "keyed-agent", "name": "Keyed"}, withBearer(key.Key))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("agent via new key: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/keys/"+key.ID, nil,
		withCookie(sessionCookieName, testSessionToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete key: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "keyed-agent-2", "name": "Keyed"}, withBearer(key.Key))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key: status=%d want=%d", resp.StatusCode, http.StatusUnauthorized)
	}
	resp.Body.Close()
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	cfg := Config{APIKey: testAPIKey, Username: "tester", DataDir: dataDir}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/agents",
		map[string]string{"uid": "durable-agent", "name": "Durable"}, withBearer(testAPIKey))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status=%d", resp.StatusCode)
	}
	resp.Body.Close()
	ts.Close()

	restarted, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer after restart: %v", err)
	}
	ts = httptest.NewServer(restarted.Handler())
	defer ts.Close()

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/agents/durable-agent", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agent lost on restart: status=%d", resp.StatusCode)
	}
	var agent model.Agent
	readJSON(t, resp, &agent)
	if agent.Name != "Durable" {
		t.Fatalf("name=%q", agent.Name)
	}
}
