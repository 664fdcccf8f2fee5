package harness

import (
	"context"
	"net/http"

	"tpmjs/tests/integration/internal/auth"
	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/config"
)

// Context binds everything one test run works with: the four client
// variants, their raw doers, the factories and the cleanup tracker. There
// is no shared package-level instance; construct one with New and pass it
// around, and construct a second one when a suite needs strict isolation.
type Context struct {
	Config config.Config
	Creds  auth.Credentials

	Session *client.Client
	API     *client.Client
	Cron    *client.Client
	Public  *client.Client

	SessionDoer client.Doer
	APIDoer     client.Doer
	CronDoer    client.Doer
	PublicDoer  client.Doer

	Agents      *AgentFactory
	Collections *CollectionFactory
	Tracker     *Tracker
}

// New validates the configured credentials and assembles a context. The
// factories are bound to the API-key client: session cookies need a real
// browser-originated session the harness cannot forge, so key auth is the
// reliable programmatic path. A nil hc means a fresh http.Client.
func New(cfg config.Config, hc *http.Client) (*Context, error) {
	creds, err := auth.LoadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	var base client.Doer
	if hc != nil {
		base = hc
	} else {
		base = &http.Client{}
	}
	cronDoer, err := auth.Cron("", cfg, base)
	if err != nil {
		return nil, err
	}
	sessionDoer := auth.Session(creds.SessionToken, base)
	apiDoer := auth.APIKey(creds.APIKey, base)

	tracker := NewTracker()
	ids := &idGenerator{}
	api := client.New(cfg.BaseURL, apiDoer)

	c := &Context{
		Config:      cfg,
		Creds:       creds,
		Session:     client.New(cfg.BaseURL, sessionDoer),
		API:         api,
		Cron:        client.New(cfg.BaseURL, cronDoer),
		Public:      client.New(cfg.BaseURL, base),
		SessionDoer: sessionDoer,
		APIDoer:     apiDoer,
		CronDoer:    cronDoer,
		PublicDoer:  base,
		Tracker:     tracker,
	}
	c.Agents = &AgentFactory{api: api, tracker: tracker, ids: ids, username: creds.Username}
	c.Collections = &CollectionFactory{api: api, tracker: tracker, ids: ids}
	return c, nil
}

// Cleanup deletes everything this context created, in dependency order.
func (c *Context) Cleanup(ctx context.Context) error {
	return c.Tracker.Cleanup(ctx, c.API)
}
