package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ErrMissingCredentials is returned when the server address or password
// cannot be found in the config or the environment.
var ErrMissingCredentials = errors.New("missing BlueBubbles credentials")

// Environment variables consulted when the config field is empty.
const (
	EnvServerURL = "BLUEBUBBLES_SERVER_URL"
	EnvPassword  = "BLUEBUBBLES_PASSWORD"
)

// Credentials are the resolved server address and shared secret.
type Credentials struct {
	ServerURL string
	Password  string
}

type credentialEnv struct {
	ServerURL string `env:"BLUEBUBBLES_SERVER_URL"`
	Password  string `env:"BLUEBUBBLES_PASSWORD"`
}

// ResolveCredentials reads the server address and password from cfg, falling
// back to the process environment. It is not cached: every call re-reads the
// environment.
func ResolveCredentials(cfg BlueBubblesConfig) (Credentials, error) {
	var fromEnv credentialEnv
	if err := env.Parse(&fromEnv); err != nil {
		return Credentials{}, fmt.Errorf("read credential environment: %w", err)
	}

	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		serverURL = strings.TrimSpace(fromEnv.ServerURL)
	}
	if serverURL == "" {
		return Credentials{}, fmt.Errorf("%w: server URL is not set (bluebubbles.serverUrl or %s)", ErrMissingCredentials, EnvServerURL)
	}

	password := strings.TrimSpace(cfg.Password)
	if password == "" {
		password = strings.TrimSpace(fromEnv.Password)
	}
	if password == "" {
		return Credentials{}, fmt.Errorf("%w: password is not set (bluebubbles.password or %s)", ErrMissingCredentials, EnvPassword)
	}

	return Credentials{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Password:  password,
	}, nil
}
