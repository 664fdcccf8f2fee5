package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const DefaultBaseURL = "https://tpmjs.com"

// Environment variable names shared with the web app's setup script.
const (
	EnvBaseURL      = "TEST_BASE_URL"
	EnvSessionToken = "INTEGRATION_TEST_SESSION_TOKEN"
	EnvAPIKey       = "INTEGRATION_TEST_API_KEY"
	EnvUserID       = "INTEGRATION_TEST_USER_ID"
	EnvUsername     = "INTEGRATION_TEST_USERNAME"
	EnvCronSecret   = "CRON_SECRET"
)

type Config struct {
	BaseURL      string
	SessionToken string
	APIKey       string
	UserID       string
	Username     string
	CronSecret   string
}

func Load() Config {
	baseURL := strings.TrimSpace(os.Getenv(EnvBaseURL))
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Config{
		BaseURL:      baseURL,
		SessionToken: strings.TrimSpace(os.Getenv(EnvSessionToken)),
		APIKey:       strings.TrimSpace(os.Getenv(EnvAPIKey)),
		UserID:       strings.TrimSpace(os.Getenv(EnvUserID)),
		Username:     strings.TrimSpace(os.Getenv(EnvUsername)),
		CronSecret:   strings.TrimSpace(os.Getenv(EnvCronSecret)),
	}
}

// LoadEnvFile reads the first env file found among the given paths
// (defaults to .env.local then .env, matching the web app's convention)
// and applies keys that are not already set in the environment.
func LoadEnvFile(paths ...string) (string, int, error) {
	candidates := paths
	if len(candidates) == 0 {
		candidates = []string{".env.local", ".env"}
	}
	for _, path := range candidates {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return path, 0, err
		}
		loaded := 0
		for key, value := range values {
			if _, ok := os.LookupEnv(key); ok {
				continue
			}
			if err := os.Setenv(key, value); err != nil {
				return path, loaded, err
			}
			loaded++
		}
		return path, loaded, nil
	}
	return "", 0, nil
}
