// Package config loads the server's hierarchical configuration from a YAML
// file with environment-variable overrides, encoding the Key table of
// spec.md §6.5.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth holds the resource-server/authless configuration.
type Auth struct {
	RequiredScopes  []string `yaml:"required_scopes"`
	ContextTypes    []string `yaml:"context_types"`
	Authless        bool     `yaml:"authless"`
	AuthlessTenant  string   `yaml:"authless_tenant"`
	AuthlessSubject string   `yaml:"authless_subject"`
}

// Transport holds the shared polling-loop parameters for one of the two
// streaming transports (sse.* / streamable_http.*).
type Transport struct {
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	SwitchIntervalAfter time.Duration `yaml:"switch_interval_after"`
	MaxConnectionTime  time.Duration `yaml:"max_connection_time"`
	TestMode           bool          `yaml:"test_mode"`
}

// Endpoints holds path overrides for the OAuth authorization-server routes.
type Endpoints struct {
	Authorize string `yaml:"authorize"`
	Token     string `yaml:"token"`
	Register  string `yaml:"register"`
	Revoke    string `yaml:"revoke"`
	Consent   string `yaml:"consent"`
}

// AuthServer holds the embedded OAuth 2.1 authorization server's config.
type AuthServer struct {
	Endpoints Endpoints `yaml:"endpoints"`
}

// OAuth groups all OAuth-related configuration.
type OAuth struct {
	AuthServer AuthServer `yaml:"auth_server"`
}

// ServerInfo is reported verbatim in the initialize response.
type ServerInfo struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Config is the root configuration object.
type Config struct {
	SupportedVersions []string      `yaml:"supported_versions"`
	BaseURL           string        `yaml:"base_url"`
	SessionLifetime   time.Duration `yaml:"session_lifetime"`
	ScopesSupported   []string      `yaml:"scopes_supported"`
	Auth              Auth          `yaml:"auth"`
	SSE               Transport     `yaml:"sse"`
	StreamableHTTP    Transport     `yaml:"streamable_http"`
	OAuth             OAuth         `yaml:"oauth"`
	ServerInfo        ServerInfo    `yaml:"server_info"`
	TestMode          bool          `yaml:"test_mode"`
}

// Default returns the configuration's zero-state defaults, matching
// spec.md §6.5's documented defaults.
func Default() *Config {
	return &Config{
		SupportedVersions: []string{"2025-06-18", "2025-03-26", "2024-11-05"},
		SessionLifetime:   3600 * time.Second,
		ScopesSupported:   []string{"mcp:read"},
		Auth: Auth{
			RequiredScopes: []string{"mcp:read"},
			ContextTypes:   []string{"agency", "user"},
		},
		SSE: Transport{
			KeepaliveInterval:  time.Second,
			SwitchIntervalAfter: 60 * time.Second,
			MaxConnectionTime:  1800 * time.Second,
		},
		StreamableHTTP: Transport{
			KeepaliveInterval:  time.Second,
			SwitchIntervalAfter: 60 * time.Second,
			MaxConnectionTime:  1800 * time.Second,
		},
		OAuth: OAuth{
			AuthServer: AuthServer{
				Endpoints: Endpoints{
					Authorize: "/oauth/authorize",
					Token:     "/oauth/token",
					Register:  "/oauth/register",
					Revoke:    "/oauth/revoke",
					Consent:   "/oauth/consent",
				},
			},
		},
		ServerInfo: ServerInfo{Name: "hostd", Version: "dev"},
	}
}

// Load reads a YAML file at path (if non-empty) over the defaults, then
// applies environment-variable overrides via ApplyEnv.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overlays a small set of HOSTD_-prefixed environment variables onto
// cfg, for deployments that prefer env-only configuration over a file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("HOSTD_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("HOSTD_SESSION_LIFETIME"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.SessionLifetime = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("HOSTD_SUPPORTED_VERSIONS"); v != "" {
		cfg.SupportedVersions = strings.Split(v, ",")
	}
	if v := os.Getenv("HOSTD_AUTHLESS"); v != "" {
		cfg.Auth.Authless = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HOSTD_TEST_MODE"); v != "" {
		cfg.TestMode = v == "1" || strings.EqualFold(v, "true")
		cfg.SSE.TestMode = cfg.TestMode
		cfg.StreamableHTTP.TestMode = cfg.TestMode
	}
}
