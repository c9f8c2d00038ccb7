package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for openchat.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Ollama  OllamaConfig  `json:"ollama" yaml:"ollama"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Search  SearchConfig  `json:"search" yaml:"search"`
	Audit   AuditConfig   `json:"audit" yaml:"audit"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host                   string `json:"host" yaml:"host"`
	Port                   int    `json:"port" yaml:"port"`
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds"`
}

type OllamaConfig struct {
	BaseURL                  string `json:"baseUrl" yaml:"baseUrl"`
	RequestTimeoutSeconds    int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
	StreamIdleTimeoutSeconds int    `json:"streamIdleTimeoutSeconds" yaml:"streamIdleTimeoutSeconds"`
}

type StorageConfig struct {
	ChatsDir string `json:"chatsDir" yaml:"chatsDir"`
}

type SearchConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxResults     int    `json:"maxResults" yaml:"maxResults"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

func DefaultConfigPath() string {
	return "config.json"
}

// Load reads the config file at path, expands ${VAR} / ${VAR:-default}
// references, and unmarshals it over Defaults. The format is chosen by
// extension: .yaml/.yml parse as YAML, anything else as JSON. A missing file
// is not an error: the defaults apply, with OLLAMA_BASE_URL still honored.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Defaults()
			overrideFromEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, fmt.Errorf("config validation: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.Storage.ChatsDir = ExpandPath(cfg.Storage.ChatsDir)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// overrideFromEnv applies the environment knobs honored when no config file
// exists. A config file expresses the same thing with ${OLLAMA_BASE_URL:-...}.
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg to path, creating parent directories. Format follows the
// extension, like Load.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAMLPath(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "server.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.Ollama.BaseURL == "" {
		errs = append(errs, "ollama.baseUrl is required")
	} else if _, err := url.Parse(cfg.Ollama.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("ollama.baseUrl is not a valid URL: %v", err))
	}
	if cfg.Ollama.RequestTimeoutSeconds < 1 {
		errs = append(errs, "ollama.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Ollama.StreamIdleTimeoutSeconds < 1 {
		errs = append(errs, "ollama.streamIdleTimeoutSeconds must be >= 1")
	}

	if cfg.Storage.ChatsDir == "" {
		errs = append(errs, "storage.chatsDir is required")
	}

	if cfg.Search.BaseURL == "" {
		errs = append(errs, "search.baseUrl is required")
	}
	if cfg.Search.TimeoutSeconds < 1 {
		errs = append(errs, "search.timeoutSeconds must be >= 1")
	}
	if cfg.Search.MaxResults < 1 || cfg.Search.MaxResults > 25 {
		errs = append(errs, "search.maxResults must be between 1 and 25")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
