// Package model holds the wire shapes of the tpmjs REST API as the
// integration harness and the local stub both understand them.
package model

type Agent struct {
	ID          string   `json:"id"`
	UID         string   `json:"uid"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Username    string   `json:"username,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

type Collection struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	AgentUIDs   []string `json:"agentUids,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

type Conversation struct {
	ID        string `json:"id"`
	AgentUID  string `json:"agentUid"`
	Username  string `json:"username"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type AgentList struct {
	Agents []Agent `json:"agents"`
}

type CollectionList struct {
	Collections []Collection `json:"collections"`
}
