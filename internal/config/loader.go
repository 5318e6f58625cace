package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = LogInfo
)

// Environment variables that override file values when set.
const (
	EnvListenAddr   = "AISPEA_LISTEN_ADDR"
	EnvDialoguePath = "AISPEA_DIALOGUE_PATH"
	EnvDatabaseURL  = "AISPEA_DATABASE_URL"
	EnvLogLevel     = "AISPEA_LOG_LEVEL"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if cfg, err = decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// it. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with every non-empty variable returned by getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setIfSet(&cfg.Server.ListenAddr, getenv(EnvListenAddr))
	setIfSet(&cfg.Dialogue.Path, getenv(EnvDialoguePath))
	setIfSet(&cfg.Database.URL, getenv(EnvDatabaseURL))
	setIfSet(&cfg.Embeddings.APIKey, getenv(EnvOpenAIAPIKey))
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
}

func setIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "aispea"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if bs := cfg.Loader.BatchSize; bs != nil && *bs <= 0 {
		errs = append(errs, fmt.Errorf("loader.batch_size must be > 0, got %d", *bs))
	}
	if cfg.Dialogue.Path == "" && cfg.Database.URL == "" {
		slog.Warn("no dialogue.path or database.url configured; document routes will answer 503")
	}
	if cfg.Embeddings.Model != "" && cfg.Embeddings.APIKey == "" {
		errs = append(errs, errors.New("embeddings.model is set but embeddings.api_key is empty"))
	}

	return errors.Join(errs...)
}
