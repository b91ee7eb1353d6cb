package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where commands look for the configuration when no path is given.
const DefaultPath = "marker.yml"

// Defaults applied by Validate
const (
	DefaultRedisURL      = "redis://localhost:6379"
	DefaultArtifactRoot  = "homeworks"
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultDoneToken     = "😄"
	DefaultPeriodChoices = 4
	DefaultHealthAddr    = ":8080"
)

// MarkerConfig represents the top-level marker.yml configuration
type MarkerConfig struct {
	Version   string          `yaml:"version"`
	Cohort    string          `yaml:"cohort"`
	RedisURL  string          `yaml:"redis_url,omitempty"`
	BotHandle string          `yaml:"bot_handle,omitempty"` // listed by /contacts
	Artifacts *ArtifactConfig `yaml:"artifacts,omitempty"`
	Events    *EventsConfig   `yaml:"events,omitempty"`
	Sessions  *SessionsConfig `yaml:"sessions,omitempty"`
	Workflow  *WorkflowConfig `yaml:"workflow,omitempty"`
	Health    *HealthConfig   `yaml:"health,omitempty"`
}

// ArtifactConfig selects where submitted files are kept
type ArtifactConfig struct {
	Backend string       `yaml:"backend"` // "local" or "s3"
	Local   *LocalConfig `yaml:"local,omitempty"`
	S3      *S3Config    `yaml:"s3,omitempty"`
}

// LocalConfig stores artifacts on the coordinator's filesystem
type LocalConfig struct {
	Root string `yaml:"root"`
}

// S3Config stores artifacts in an S3-compatible bucket
type S3Config struct {
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region,omitempty"`
	Endpoint  string        `yaml:"endpoint,omitempty"` // MinIO and similar
	Prefix    string        `yaml:"prefix,omitempty"`
	URLExpiry time.Duration `yaml:"url_expiry,omitempty"`
}

// EventsConfig enables domain events on NATS. Empty URL disables them.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
}

// SessionsConfig controls conversation lifetime
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"` // 0 disables expiry
}

// WorkflowConfig tunes the conversations
type WorkflowConfig struct {
	DoneToken        string `yaml:"done_token,omitempty"`
	PeriodChoices    int    `yaml:"period_choices,omitempty"`
	LocalAttachments string `yaml:"local_attachments,omitempty"` // file:// attachments must resolve under this dir; empty refuses them
}

// HealthConfig configures the coordinator's health endpoint
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *MarkerConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Cohort == "" {
		return fmt.Errorf("cohort is required")
	}

	if c.RedisURL == "" {
		c.RedisURL = DefaultRedisURL
	}

	if c.Artifacts == nil {
		c.Artifacts = &ArtifactConfig{}
	}
	if err := c.Artifacts.Validate(); err != nil {
		return err
	}

	if c.Events == nil {
		c.Events = &EventsConfig{}
	}

	if c.Sessions == nil {
		c.Sessions = &SessionsConfig{IdleTimeout: DefaultIdleTimeout}
	}
	if c.Sessions.IdleTimeout < 0 {
		return fmt.Errorf("sessions.idle_timeout must be >= 0 (0 = never), got %s", c.Sessions.IdleTimeout)
	}

	if c.Workflow == nil {
		c.Workflow = &WorkflowConfig{}
	}
	if c.Workflow.DoneToken == "" {
		c.Workflow.DoneToken = DefaultDoneToken
	}
	if c.Workflow.PeriodChoices == 0 {
		c.Workflow.PeriodChoices = DefaultPeriodChoices
	}
	if c.Workflow.PeriodChoices < 1 {
		return fmt.Errorf("workflow.period_choices must be >= 1, got %d", c.Workflow.PeriodChoices)
	}

	if c.Health == nil {
		c.Health = &HealthConfig{}
	}
	if c.Health.Addr == "" {
		c.Health.Addr = DefaultHealthAddr
	}

	return nil
}

// Validate checks the artifact backend settings
func (a *ArtifactConfig) Validate() error {
	if a.Backend == "" {
		a.Backend = "local"
	}

	switch a.Backend {
	case "local":
		if a.Local == nil {
			a.Local = &LocalConfig{}
		}
		if a.Local.Root == "" {
			a.Local.Root = DefaultArtifactRoot
		}
	case "s3":
		if a.S3 == nil || a.S3.Bucket == "" {
			return fmt.Errorf("artifacts: backend 's3' requires s3.bucket")
		}
		if a.S3.URLExpiry < 0 {
			return fmt.Errorf("artifacts.s3.url_expiry must be >= 0, got %s", a.S3.URLExpiry)
		}
	default:
		return fmt.Errorf("artifacts: invalid backend: %s (must be 'local' or 's3')", a.Backend)
	}

	return nil
}

// ApplyEnv overrides file settings with REDIS_URL, MARKER_COHORT,
// MARKER_NATS_URL and MARKER_BOT_HANDLE when set. Call before Validate.
func (c *MarkerConfig) ApplyEnv() {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("MARKER_COHORT"); v != "" {
		c.Cohort = v
	}
	if v := os.Getenv("MARKER_BOT_HANDLE"); v != "" {
		c.BotHandle = v
	}
	if v := os.Getenv("MARKER_NATS_URL"); v != "" {
		if c.Events == nil {
			c.Events = &EventsConfig{}
		}
		c.Events.NATSURL = v
	}
}

// Load reads marker.yml from path, applies environment overrides and validates it
func Load(path string) (*MarkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config MarkerConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
