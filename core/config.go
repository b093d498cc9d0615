package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Config holds all configuration values for the router service.
// Loaded once at startup from environment variables; treated as read-only
// afterwards.
type Config struct {
	// ComfyUI (local node-graph renderer) configuration
	ComfyUIServer      string // host:port of the ComfyUI server (default: 127.0.0.1:8188)
	ComfyUIWorkflowDir string // directory containing workflow template JSON files
	ComfyUIClientID    string // websocket client id (generated when empty)

	// Flux / Black Forest Labs hosted API configuration
	FluxAPIKey  string // API key for the hosted Flux family (empty disables the provider)
	FluxBaseURL string // API base URL (default: https://api.bfl.ai)
	FluxModel   string // default model variant (default: flux-pro)

	// OpenAI Images configuration
	OpenAIAPIKey     string // API key (empty disables the provider)
	OpenAIBaseURL    string // API endpoint (default: https://api.openai.com/v1)
	OpenAIImageModel string // image model (default: dall-e-3)

	// Routing
	RoutingRulesPath string   // YAML routing rules file; baked-in defaults when absent
	FallbackChain    []string // overrides the rule file's fallback chain when set

	// Waiting / polling behavior
	PollInterval time.Duration // status poll interval (default: 500ms)
	WaitTimeout  time.Duration // wall-clock completion deadline (default: 300s)
	FluxTimeout  time.Duration // hosted submission poll deadline (default: 60s)
	ProbeTimeout time.Duration // per-endpoint reachability probe timeout (default: 3s)

	// Reference image normalization
	MaxRefImageDim int // longest allowed side before downscale (default: 2048)

	// HTTP server
	Port int // listen port for the JSON API (default: 8080)

	// Generation history store
	DBPath         string // SQLite database path (default: data/generations.db)
	MigrationsPath string // golang-migrate source (default: file://db/migrations)

	// Logging
	LogFilePath   string // rotated log file path (default: logs/imagerouter.log)
	IsDevelopment bool   // colored console output + debug level when true

	// TLS
	AllowSelfSignedCerts bool // skip TLS verification for self-hosted backends
}

// LoadConfig loads configuration from environment variables with defaults
// that work against a local ComfyUI install. Hosted providers are optional:
// a missing key simply leaves that provider out of the registry.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ComfyUIServer:      GetEnvOrDefault("COMFYUI_SERVER", "127.0.0.1:8188"),
		ComfyUIWorkflowDir: GetEnvOrDefault("COMFYUI_WORKFLOW_DIR", "workflows/comfyui"),
		ComfyUIClientID:    os.Getenv("COMFYUI_CLIENT_ID"),

		FluxAPIKey:  os.Getenv("FLUX_API_KEY"),
		FluxBaseURL: GetEnvOrDefault("FLUX_BASE_URL", "https://api.bfl.ai"),
		FluxModel:   GetEnvOrDefault("FLUX_MODEL", "flux-pro"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    GetEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel: GetEnvOrDefault("OPENAI_IMAGE_MODEL", "dall-e-3"),

		RoutingRulesPath: GetEnvOrDefault("ROUTING_RULES_PATH", "routing_rules.yaml"),
		FallbackChain:    ParseListEnv("ROUTING_FALLBACK_CHAIN"),

		PollInterval: time.Duration(ParseIntEnv("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		WaitTimeout:  ParseDurationEnv("WAIT_TIMEOUT_SECONDS", 300),
		FluxTimeout:  ParseDurationEnv("FLUX_TIMEOUT_SECONDS", 60),
		ProbeTimeout: ParseDurationEnv("PROBE_TIMEOUT_SECONDS", 3),

		MaxRefImageDim: ParseIntEnv("MAX_REF_IMAGE_DIM", 2048),

		Port: ParseIntEnv("PORT", 8080),

		DBPath:         GetEnvOrDefault("DB_PATH", "data/generations.db"),
		MigrationsPath: GetEnvOrDefault("MIGRATIONS_PATH", "file://db/migrations"),

		LogFilePath:   GetEnvOrDefault("LOG_FILE", "logs/imagerouter.log"),
		IsDevelopment: ParseBoolEnv("DEV_MODE", false),

		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.WaitTimeout <= 0 {
		return nil, fmt.Errorf("WAIT_TIMEOUT_SECONDS must be positive")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.MaxRefImageDim < 64 {
		return nil, fmt.Errorf("MAX_REF_IMAGE_DIM must be at least 64, got %d", cfg.MaxRefImageDim)
	}

	return cfg, nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based
// on AllowSelfSignedCerts. All outbound requests to backends should go
// through clients built here so the TLS policy is applied uniformly.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client with a 30s timeout and the
// configured TLS settings.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, 30*time.Second)
}
