// Package config loads runtime configuration from YAML files and
// TERTULIA_-prefixed environment variables.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TERTULIA_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Conversation ConversationConfig `koanf:"conversation"`
	Storage      StorageConfig      `koanf:"storage"`
	Transcripts  TranscriptsConfig  `koanf:"transcripts"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type ConversationConfig struct {
	RolesFile string `koanf:"roles_file"`
	MaxTurn   int    `koanf:"max_turn"`
	MaxLines  int    `koanf:"max_lines"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // none, memory, sqlite
	Path   string `koanf:"path"`
}

type TranscriptsConfig struct {
	Sink            string `koanf:"sink"` // none, memory, file, qdrant
	Dir             string `koanf:"dir"`
	QdrantAddr      string `koanf:"qdrant_addr"`
	Collection      string `koanf:"collection"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
}

// Load reads configuration with precedence defaults < file < env.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Double underscore nests: TERTULIA_CONVERSATION__MAX_TURN ->
	// conversation.max_turn.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter": "stdout",

		"conversation.max_turn": 8,
		"conversation.max_lines": 0,

		"storage.driver": "none",
		"storage.path":   "tertulia_runs.db",

		"transcripts.sink":              "none",
		"transcripts.dir":               "transcripts",
		"transcripts.qdrant_addr":       "localhost:6334",
		"transcripts.collection":        "tertulia_transcripts",
		"transcripts.embedder_base_url": "http://localhost:11434",
		"transcripts.embedder_model":    "nomic-embed-text",
	}
}
