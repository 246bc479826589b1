package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Corpus     CorpusConfig     `json:"corpus"`
	Database   DatabaseConfig   `json:"database"`
	Simulation SimulationConfig `json:"simulation"`
	Agents     []AgentConfig    `json:"agents"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "anthropic" or "openai"
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type CorpusConfig struct {
	Endpoint string       `json:"endpoint"`
	Cache    QdrantConfig `json:"cache"`
}

type QdrantConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type SimulationConfig struct {
	TickInterval  Duration `json:"tick_interval"`
	Speed         float64  `json:"speed"`
	BeatInterval  Duration `json:"beat_interval"` // simulated time between slow beats
	TriggerMax    int      `json:"importance_trigger_max"`
	SaveInterval  Duration `json:"save_interval"` // wall-clock time between state saves
}

type AgentConfig struct {
	Name        string   `json:"name"`
	Archetype   string   `json:"archetype"`
	School      string   `json:"school"`
	Era         string   `json:"era"`
	Style       string   `json:"style"`
	CoreBeliefs []string `json:"core_beliefs"`
	Backstory   string   `json:"backstory"`
	Provider    string   `json:"provider,omitempty"` // provider ID binding
}

// Duration unmarshals JSON strings like "500ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Simulation.TickInterval == 0 {
		c.Simulation.TickInterval = Duration(500 * time.Millisecond)
	}
	if c.Simulation.Speed == 0 {
		c.Simulation.Speed = 1.0
	}
	if c.Simulation.BeatInterval == 0 {
		c.Simulation.BeatInterval = Duration(time.Minute)
	}
	if c.Simulation.SaveInterval == 0 {
		c.Simulation.SaveInterval = Duration(5 * time.Minute)
	}
}
