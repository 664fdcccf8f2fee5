// Package auth decorates HTTP clients with the three credential styles the
// tpmjs API accepts: browser session cookies, API keys and the cron secret.
package auth

import (
	"fmt"
	"net/http"

	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/config"
)

// Better-auth issues the session under both cookie names depending on the
// deployment scheme, so requests always carry both.
const (
	SessionCookieName       = "better-auth.session_token"
	SecureSessionCookieName = "__Secure-better-auth.session_token"
)

// SetupCommand provisions the integration credentials in the web app repo.
const SetupCommand = "pnpm test:integration:setup"

// Credentials is the full identity a test run acts as.
type Credentials struct {
	SessionToken string
	APIKey       string
	UserID       string
	Username     string
}

// LoadCredentials validates that every credential the suite needs is
// present, failing on the first missing one with the variable name and the
// command that provisions it.
func LoadCredentials(cfg config.Config) (Credentials, error) {
	required := []struct {
		env   string
		value string
	}{
		{config.EnvSessionToken, cfg.SessionToken},
		{config.EnvAPIKey, cfg.APIKey},
		{config.EnvUserID, cfg.UserID},
		{config.EnvUsername, cfg.Username},
	}
	for _, field := range required {
		if field.value == "" {
			return Credentials{}, fmt.Errorf("auth: %s is not set, run %q first", field.env, SetupCommand)
		}
	}
	return Credentials{
		SessionToken: cfg.SessionToken,
		APIKey:       cfg.APIKey,
		UserID:       cfg.UserID,
		Username:     cfg.Username,
	}, nil
}

// Session wraps base so every request carries the session token under both
// cookie names.
func Session(token string, base client.Doer) client.Doer {
	if base == nil {
		base = &http.Client{}
	}
	return client.DoerFunc(func(req *http.Request) (*http.Response, error) {
		req = req.Clone(req.Context())
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
		req.AddCookie(&http.Cookie{Name: SecureSessionCookieName, Value: token})
		return base.Do(req)
	})
}

// APIKey wraps base so every request carries the key as a bearer token.
func APIKey(key string, base client.Doer) client.Doer {
	return bearer(key, base)
}

// Cron authenticates scheduled-job requests with the cron secret as a
// bearer token. An explicit secret wins over the configured one; having
// neither is a configuration precondition failure, not something to retry.
func Cron(secret string, cfg config.Config, base client.Doer) (client.Doer, error) {
	if secret == "" {
		secret = cfg.CronSecret
	}
	if secret == "" {
		return nil, fmt.Errorf("auth: no cron secret given and %s is not set", config.EnvCronSecret)
	}
	return bearer(secret, base), nil
}

func bearer(token string, base client.Doer) client.Doer {
	if base == nil {
		base = &http.Client{}
	}
	return client.DoerFunc(func(req *http.Request) (*http.Response, error) {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
		return base.Do(req)
	})
}
