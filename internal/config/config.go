package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Assistant AssistantConfig `koanf:"assistant"`
	Backend   BackendConfig   `koanf:"backend"`
	Storage   StorageConfig   `koanf:"storage"`
	Interview InterviewConfig `koanf:"interview"`
	Session   SessionConfig   `koanf:"session"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// APIKeys, when set, are required as bearer tokens on the session API.
	APIKeys []string `koanf:"api_keys"`
}

type AssistantConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Model            string        `koanf:"model"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxContextTokens int           `koanf:"max_context_tokens"`
}

type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type InterviewConfig struct {
	// ScriptPath is an optional YAML script; it is reloaded on change.
	ScriptPath string `koanf:"script_path"`
}

type SessionConfig struct {
	RecordTranscripts bool `koanf:"record_transcripts"`
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Tracing     bool   `koanf:"tracing"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and STUDIO_ environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads path (if present) and STUDIO_ environment overrides, e.g.
// STUDIO_ASSISTANT__BASE_URL for assistant.base_url.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Try to load from the config file first
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("STUDIO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "STUDIO_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":                  8080,
		"server.request_timeout":       "90s",
		"assistant.timeout":            "60s",
		"assistant.max_context_tokens": 8000,
		"assistant.model":              "gpt-4o-mini",
		"backend.timeout":              "30s",
		"storage.type":                 "sqlite",
		"storage.sqlite.path":          "studio.db",
		"telemetry.service_name":       "storefront-studio",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	cfg.Assistant.APIKey = substituteEnvVars(cfg.Assistant.APIKey)
	cfg.Backend.APIKey = substituteEnvVars(cfg.Backend.APIKey)
	for i := range cfg.Server.APIKeys {
		cfg.Server.APIKeys[i] = substituteEnvVars(cfg.Server.APIKeys[i])
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
