// Package config provides the configuration schema and loader for the AiSpea
// commands.
package config

import "github.com/Hyrsta/AiSpea/internal/dataloader"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Loader     LoaderConfig     `yaml:"loader"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the HTTP server, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// DialogueConfig points at the dialogue JSON file to serve.
type DialogueConfig struct {
	Path string `yaml:"path"`
}

// LoaderConfig holds batching settings. Nil fields fall back to the
// dataloader defaults, so an explicit zero batch size is still rejected.
type LoaderConfig struct {
	BatchSize *int    `yaml:"batch_size"`
	Shuffle   *bool   `yaml:"shuffle"`
	Seed      *uint64 `yaml:"seed"`
}

// Options converts the loader settings into dataloader options.
func (l LoaderConfig) Options() []dataloader.Option {
	var opts []dataloader.Option
	if l.BatchSize != nil {
		opts = append(opts, dataloader.WithBatchSize(*l.BatchSize))
	}
	if l.Shuffle != nil {
		opts = append(opts, dataloader.WithShuffle(*l.Shuffle))
	}
	if l.Seed != nil {
		opts = append(opts, dataloader.WithSeed(*l.Seed))
	}
	return opts
}

// DatabaseConfig holds the optional datalab Postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingsConfig configures the OpenAI text encoder.
type EmbeddingsConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
