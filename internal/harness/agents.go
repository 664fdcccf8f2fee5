package harness

import (
	"context"
	"fmt"
	"net/http"

	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/model"
)

// AgentParams are optional overrides for a factory-created agent. Zero
// fields get generated defaults.
type AgentParams struct {
	UID         string
	Name        string
	Description string
	Tools       []string
}

// AgentFactory creates agents through the API-key client and registers
// them with the tracker. Unlike the client it returns plain errors for
// failed calls: a broken setup step should abort a test immediately.
type AgentFactory struct {
	api      *client.Client
	tracker  *Tracker
	ids      *idGenerator
	username string
}

func (f *AgentFactory) Create(ctx context.Context, params AgentParams) (*model.Agent, error) {
	uid := params.UID
	if uid == "" {
		uid = f.ids.next("agent")
	}
	name := params.Name
	if name == "" {
		name = "Test Agent " + uid
	}
	body := map[string]interface{}{"uid": uid, "name": name}
	if params.Description != "" {
		body["description"] = params.Description
	}
	if len(params.Tools) > 0 {
		body["tools"] = params.Tools
	}

	res, err := client.Post[model.Agent](ctx, f.api, "/api/agents", client.Options{Body: body})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: create agent %s: %s", uid, res.Error)
	}
	agent := res.Data
	f.tracker.AddAgent(agent.UID)
	return &agent, nil
}

func (f *AgentFactory) CreateMany(ctx context.Context, n int) ([]*model.Agent, error) {
	agents := make([]*model.Agent, 0, n)
	for i := 0; i < n; i++ {
		agent, err := f.Create(ctx, AgentParams{})
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Get returns nil without an error when the agent does not exist.
func (f *AgentFactory) Get(ctx context.Context, uid string) (*model.Agent, error) {
	res, err := client.Get[model.Agent](ctx, f.api, "/api/agents/"+uid, client.Options{})
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusNotFound {
		return nil, nil
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: get agent %s: %s", uid, res.Error)
	}
	agent := res.Data
	return &agent, nil
}

func (f *AgentFactory) Update(ctx context.Context, uid string, params AgentParams) (*model.Agent, error) {
	body := map[string]interface{}{}
	if params.Name != "" {
		body["name"] = params.Name
	}
	if params.Description != "" {
		body["description"] = params.Description
	}
	if len(params.Tools) > 0 {
		body["tools"] = params.Tools
	}

	res, err := client.Patch[model.Agent](ctx, f.api, "/api/agents/"+uid, client.Options{Body: body})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: update agent %s: %s", uid, res.Error)
	}
	agent := res.Data
	return &agent, nil
}

func (f *AgentFactory) Delete(ctx context.Context, uid string) error {
	res, err := client.Delete[struct{}](ctx, f.api, "/api/agents/"+uid, client.Options{})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("harness: delete agent %s: %s", uid, res.Error)
	}
	return nil
}

// AddTool attaches a tool package to the agent and returns the updated
// agent.
func (f *AgentFactory) AddTool(ctx context.Context, uid, tool string) (*model.Agent, error) {
	res, err := client.Post[model.Agent](ctx, f.api, "/api/agents/"+uid+"/tools", client.Options{
		Body: map[string]string{"tool": tool},
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: add tool %s to agent %s: %s", tool, uid, res.Error)
	}
	agent := res.Data
	return &agent, nil
}

// CreateConversation starts a conversation with the agent under the
// harness user and tracks it for cleanup.
func (f *AgentFactory) CreateConversation(ctx context.Context, agentUID, title string) (*model.Conversation, error) {
	body := map[string]interface{}{}
	if title != "" {
		body["title"] = title
	}
	path := fmt.Sprintf("/api/%s/agents/%s/conversation", f.username, agentUID)

	res, err := client.Post[model.Conversation](ctx, f.api, path, client.Options{Body: body})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: create conversation for agent %s: %s", agentUID, res.Error)
	}
	conversation := res.Data
	f.tracker.AddConversation(ConversationRef{Username: f.username, AgentUID: agentUID, ID: conversation.ID})
	return &conversation, nil
}

// StreamConversation sends a message into a conversation and collects the
// streamed reply.
func (f *AgentFactory) StreamConversation(ctx context.Context, agentUID, conversationID, message string, opts client.SSEOptions) (client.SSEResult, error) {
	path := fmt.Sprintf("/api/%s/agents/%s/conversation/%s/stream", f.username, agentUID, conversationID)
	return f.api.SSE(ctx, path, map[string]string{"message": message}, opts)
}
