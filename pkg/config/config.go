// Package config loads the process-wide typed configuration from the
// environment. Every option has a compiled-in default so the server starts
// with no environment at all (fakes and local files only).
package config

import "time"

// Config is the umbrella configuration object built once at startup and
// dependency-injected into every subsystem.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	LLMCache LLMCacheConfig
	LogCache LogCacheConfig
	Remote   RemoteLogConfig
	Flags    FeatureFlags
	Safety   SafetyConfig
}

// RemoteLogConfig holds the remote log-aggregation backend options.
type RemoteLogConfig struct {
	BaseURL string
	Token   string

	// ExcludeLabels are label=value pairs stripped from every query before
	// it is submitted.
	ExcludeLabels map[string]string

	RequestTimeout time.Duration
	MaxQueryBytes  int64
}

// ServerConfig holds the HTTP server options.
type ServerConfig struct {
	Port        string
	AnalysisDir string
}

// DatabaseConfig holds the Postgres connection options.
type DatabaseConfig struct {
	URL    string
	Schema string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ProviderKind selects the LLM provider implementation.
type ProviderKind string

const (
	ProviderLocal  ProviderKind = "local"
	ProviderRemote ProviderKind = "remote"
)

// LLMConfig holds LLM provider selection and credentials.
type LLMConfig struct {
	Provider ProviderKind

	// LocalURL is the base URL of an OpenAI-compatible local server.
	LocalURL   string
	LocalModel string

	RemoteAPIKey string
	RemoteModel  string
}

// CacheMode controls whether the LLM gateway caches by default.
type CacheMode string

const (
	CacheModeDefaultOn  CacheMode = "default_on"
	CacheModeDefaultOff CacheMode = "default_off"
)

// LLMCacheConfig holds the LLM cache gateway options.
type LLMCacheConfig struct {
	Enabled   bool
	Mode      CacheMode
	Namespace string

	L1MaxEntries int
	L1TTL        time.Duration

	L2Enabled bool
	L2URL     string

	// SupportedCallTypes restricts caching to listed cache_type values.
	SupportedCallTypes []string

	GatewayVersion string
	PromptVersion  string
}

// LogCacheConfig holds the log search cache options.
type LogCacheConfig struct {
	Enabled    bool
	GeneralTTL time.Duration
	TraceTTL   time.Duration
	L2URL      string
}

// FeatureFlags gate DB-backed configuration lookups. When a flag is off the
// compiled-in defaults are authoritative for that bucket.
type FeatureFlags struct {
	UseDBPrompts  bool
	UseDBSettings bool
	UseDBProjects bool
}

// SafetyConfig holds resource caps.
type SafetyConfig struct {
	MaxLogBytes        int64
	SessionTimeout     time.Duration
	MaxContextMessages int
}
