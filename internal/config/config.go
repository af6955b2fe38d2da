// Package config provides configuration management for applybot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cchalm/applybot/internal/deps"
)

const (
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultListenAddr = ":8080"
	DefaultStateDir   = ".applybot/sessions"
)

// Config holds the configuration for applybot
type Config struct {
	// Sandbox: either a local project directory or a remote sandbox service
	ProjectDir string
	SandboxURL string
	SandboxID  string

	// Session persistence: a directory of JSON files or a SQLite database
	StateDir string
	StateDB  string

	ListenAddr string
	// LayoutFile is an optional YAML project layout
	LayoutFile string

	AnthropicAPIKey string
	Model           string
	SettleInterval  time.Duration

	TelemetryEnabled bool
	OTLPEndpoint     string

	// GitHubToken and TemplateRepo seed the file index from a template repository
	GitHubToken  string
	TemplateRepo string
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		ProjectDir:      os.Getenv("APPLYBOT_PROJECT_DIR"),
		SandboxURL:      os.Getenv("APPLYBOT_SANDBOX_URL"),
		SandboxID:       os.Getenv("APPLYBOT_SANDBOX_ID"),
		StateDir:        os.Getenv("APPLYBOT_STATE_DIR"),
		StateDB:         os.Getenv("APPLYBOT_STATE_DB"),
		ListenAddr:      DefaultListenAddr,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		Model:           DefaultModel,
		SettleInterval:  deps.DefaultSettleInterval,
		OTLPEndpoint:    os.Getenv("APPLYBOT_OTLP_ENDPOINT"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		TemplateRepo:    os.Getenv("APPLYBOT_TEMPLATE_REPO"),
	}

	loadOptionalFromEnv(&config.ListenAddr, "APPLYBOT_LISTEN_ADDR")
	loadOptionalFromEnv(&config.Model, "APPLYBOT_MODEL")
	if err := parseOptionalFromEnv(&config.SettleInterval, "APPLYBOT_SETTLE_INTERVAL", time.ParseDuration); err != nil {
		return Config{}, err
	}
	if err := parseOptionalFromEnv(&config.TelemetryEnabled, "APPLYBOT_TELEMETRY_ENABLED", strconv.ParseBool); err != nil {
		return Config{}, err
	}
	return config, nil
}

func loadOptionalFromEnv(dest *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}

func parseOptionalFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) error {
	str := os.Getenv(key)
	if str == "" {
		return nil // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		return fmt.Errorf("failed to parse environment variable '%s' value '%s' as '%T': %w", key, str, *dest, err)
	}
	*dest = v
	return nil
}

// Validate checks that the configuration is consistent
func (c Config) Validate() error {
	if c.ProjectDir != "" && c.SandboxURL != "" {
		return fmt.Errorf("APPLYBOT_PROJECT_DIR and APPLYBOT_SANDBOX_URL are mutually exclusive")
	}
	if c.SandboxURL != "" && c.SandboxID == "" {
		return fmt.Errorf("missing required environment variable: APPLYBOT_SANDBOX_ID")
	}
	if c.StateDir != "" && c.StateDB != "" {
		return fmt.Errorf("APPLYBOT_STATE_DIR and APPLYBOT_STATE_DB are mutually exclusive")
	}
	if c.SettleInterval < 0 {
		return fmt.Errorf("settle interval must not be negative: %s", c.SettleInterval)
	}
	if c.TemplateRepo != "" {
		if _, _, _, err := c.TemplateRepoRef(); err != nil {
			return err
		}
	}
	return nil
}

// RequireAnthropic checks the settings needed to call the generation backend
func (c Config) RequireAnthropic() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("missing required environment variable: ANTHROPIC_API_KEY")
	}
	return nil
}

// HasSandbox reports whether a local or remote sandbox is configured
func (c Config) HasSandbox() bool {
	return c.ProjectDir != "" || c.SandboxURL != ""
}

// TemplateRepoRef splits TemplateRepo, formatted owner/repo[@ref]. The ref defaults to HEAD.
func (c Config) TemplateRepoRef() (owner, repo, ref string, err error) {
	name, ref, found := strings.Cut(c.TemplateRepo, "@")
	if !found || ref == "" {
		ref = "HEAD"
	}
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid template repository format '%s', expected owner/repo[@ref]", c.TemplateRepo)
	}
	return parts[0], parts[1], ref, nil
}
