package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Provider    ProviderConfig `toml:"provider"`
	Claude      ClaudeConfig   `toml:"claude"`
	Gemini      GeminiConfig   `toml:"gemini"`
	Computer    ComputerConfig `toml:"computer"`
	Shell       ShellConfig    `toml:"shell"`
	Engine      EngineConfig   `toml:"engine"`
	Delivery    DeliveryConfig `toml:"delivery"`
	Sweeper     SweeperConfig  `toml:"sweeper"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger    BadgerConfig    `toml:"badger"`
	ObjectDir ObjectDirConfig `toml:"objects"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// ObjectDirConfig configures the filesystem-backed object store.
type ObjectDirConfig struct {
	Path      string `toml:"path"`       // blob root directory
	Bucket    string `toml:"bucket"`     // logical bucket name for storage:// URLs
	Region    string `toml:"region"`     // region for durable direct URLs
	CDNDomain string `toml:"cdn_domain"` // preferred public URL domain (CDN_DOMAIN)
	BaseURL   string `toml:"base_url"`   // direct-URL base when serving blobs locally
}

type LoggingConfig struct {
	Level      string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

// ProviderConfig configures the Responses-API model provider.
type ProviderConfig struct {
	BaseURL     string  `toml:"base_url"` // e.g. https://api.openai.com/v1
	APIKey      string  `toml:"api_key"`
	Timeout     string  `toml:"timeout"`      // duration string (default "5m")
	RateLimit   string  `toml:"rate_limit"`   // min interval between calls (default "1s")
	MaxRetries  int     `toml:"max_retries"`  // transient retry attempts (default 3)
	CostPer1KIn float64 `toml:"cost_per_1k_input"`
	CostPer1KOut float64 `toml:"cost_per_1k_output"`
}

// ClaudeConfig contains Anthropic Claude API configuration for the fallback
// text-only provider.
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"`
}

// GeminiConfig contains Google Gemini configuration used for SMS rendering.
type GeminiConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// ComputerConfig configures the browser driver used by computer-use steps.
type ComputerConfig struct {
	ContainerName string `toml:"container_name"` // CUA_DOCKER_CONTAINER_NAME
	VNCDisplay    string `toml:"vnc_display"`    // CUA_DOCKER_VNC_DISPLAY
	AutoStart     bool   `toml:"auto_start"`     // CUA_DOCKER_AUTO_START
	StopOnCleanup bool   `toml:"stop_on_cleanup"` // CUA_DOCKER_STOP_ON_CLEANUP
	Headless      bool   `toml:"headless"`
	MaxIterations int    `toml:"max_iterations"` // default 50
	TimeoutSec    int    `toml:"timeout_sec"`    // default 300
}

// ShellConfig configures the sandboxed shell executor.
type ShellConfig struct {
	WorkRoot             string   `toml:"work_root"`              // SHELL_EXECUTOR_WORK_ROOT (default /work)
	UploadMode           string   `toml:"upload_mode"`            // SHELL_EXECUTOR_UPLOAD_MODE: manifest|dist|build|all
	UploadBucket         string   `toml:"upload_bucket"`          // SHELL_EXECUTOR_UPLOAD_BUCKET
	UploadPrefixTemplate string   `toml:"upload_prefix_template"` // SHELL_EXECUTOR_UPLOAD_PREFIX_TEMPLATE
	AllowedBuckets       []string `toml:"allowed_buckets"`        // SHELL_S3_UPLOAD_ALLOWED_BUCKETS
	CommandTimeout       string   `toml:"command_timeout"`        // default "900s"
}

// EngineConfig tunes the workflow orchestrator.
type EngineConfig struct {
	ParallelLimit   int    `toml:"parallel_limit"`    // bounded concurrency within a group (default 4)
	WebhookTimeout  string `toml:"webhook_timeout"`   // step webhook timeout (default "15s")
	DeliveryTimeout string `toml:"delivery_timeout"`  // delivery webhook timeout (default "180s")
	ImageTimeout    string `toml:"image_timeout"`     // image download timeout (default "30s")
	TriggerEndpoint string `toml:"trigger_endpoint"`  // public webhook-trigger endpoint for handoffs
	TrackingEndpoint string `toml:"tracking_endpoint"` // collector URL for the deliverable tracking script
}

// DeliveryConfig configures deliverable dispatch defaults.
type DeliveryConfig struct {
	RetryAttempts int    `toml:"retry_attempts"` // webhook delivery retries (default 3)
	RetryBackoff  string `toml:"retry_backoff"`  // initial backoff (default "2s")
}

// SweeperConfig configures the stale pending-job sweeper.
type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`  // cron format (default "*/5 * * * *")
	MaxAge   string `toml:"max_age"`   // re-enqueue pending jobs older than this
}

// NewDefaultConfig returns the configuration defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/magnet",
			},
			ObjectDir: ObjectDirConfig{
				Path:   "./data/objects",
				Bucket: "magnet-artifacts",
				Region: "us-east-1",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			Timeout:    "5m",
			RateLimit:  "1s",
			MaxRetries: 3,
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
			Timeout:   "5m",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-3-flash-preview",
			Timeout: "2m",
		},
		Computer: ComputerConfig{
			Headless:      true,
			MaxIterations: 50,
			TimeoutSec:    300,
		},
		Shell: ShellConfig{
			WorkRoot:       "/work",
			UploadMode:     "manifest",
			CommandTimeout: "900s",
		},
		Engine: EngineConfig{
			ParallelLimit:   4,
			WebhookTimeout:  "15s",
			DeliveryTimeout: "180s",
			ImageTimeout:    "30s",
		},
		Delivery: DeliveryConfig{
			RetryAttempts: 3,
			RetryBackoff:  "2s",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
			MaxAge:   "10m",
		},
	}
}

// LoadFromFiles loads configuration from files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MAGNET_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("MAGNET_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MAGNET_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("MAGNET_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("MAGNET_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MAGNET_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if base := os.Getenv("MAGNET_PROVIDER_BASE_URL"); base != "" {
		config.Provider.BaseURL = base
	}
	if key := os.Getenv("MAGNET_PROVIDER_API_KEY"); key != "" {
		config.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Provider.APIKey == "" {
		config.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = key
	}

	// Public URL preference.
	if cdn := os.Getenv("CDN_DOMAIN"); cdn != "" {
		config.Storage.ObjectDir.CDNDomain = cdn
	}

	// Computer-use driver provisioning.
	if v := os.Getenv("CUA_DOCKER_CONTAINER_NAME"); v != "" {
		config.Computer.ContainerName = v
	}
	if v := os.Getenv("CUA_DOCKER_VNC_DISPLAY"); v != "" {
		config.Computer.VNCDisplay = v
	}
	if v := os.Getenv("CUA_DOCKER_AUTO_START"); v != "" {
		config.Computer.AutoStart = parseBool(v)
	}
	if v := os.Getenv("CUA_DOCKER_STOP_ON_CLEANUP"); v != "" {
		config.Computer.StopOnCleanup = parseBool(v)
	}

	// Shell executor I/O.
	if v := os.Getenv("SHELL_EXECUTOR_WORK_ROOT"); v != "" {
		config.Shell.WorkRoot = v
	}
	if v := os.Getenv("SHELL_EXECUTOR_UPLOAD_MODE"); v != "" {
		config.Shell.UploadMode = v
	}
	if v := os.Getenv("SHELL_EXECUTOR_UPLOAD_BUCKET"); v != "" {
		config.Shell.UploadBucket = v
	}
	if v := os.Getenv("SHELL_EXECUTOR_UPLOAD_PREFIX_TEMPLATE"); v != "" {
		config.Shell.UploadPrefixTemplate = v
	}
	if v := os.Getenv("SHELL_S3_UPLOAD_ALLOWED_BUCKETS"); v != "" {
		var buckets []string
		for _, b := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(b); trimmed != "" {
				buckets = append(buckets, trimmed)
			}
		}
		config.Shell.AllowedBuckets = buckets
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, returning the fallback on empty
// or invalid input.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
