package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the responder service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Slack    SlackConfig    `yaml:"slack"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Chroma   ChromaConfig   `yaml:"chroma"`
	Cache    CacheConfig    `yaml:"cache"`
	Workflow WorkflowConfig `yaml:"workflow"`
	ChatSync ChatSyncConfig `yaml:"chatSync"`
	Runbooks RunbooksConfig `yaml:"runbooks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SlackConfig configures the notification gateway.
type SlackConfig struct {
	Token      string        `yaml:"token"`
	Channel    string        `yaml:"channel"`
	APIURL     string        `yaml:"apiURL"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// GeminiConfig configures the generation and embedding capability.
type GeminiConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	GenerateModel string        `yaml:"generateModel"`
	EmbedModel    string        `yaml:"embedModel"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ChromaConfig configures the vector index and collection names.
type ChromaConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"apiKey"`
	Timeout        time.Duration `yaml:"timeout"`
	DocsCollection string        `yaml:"docsCollection"`
	ChatCollection string        `yaml:"chatCollection"`
	CodeCollection string        `yaml:"codeCollection"`
}

// CacheConfig controls the Valkey-backed TTL store for correlation state.
type CacheConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// WorkflowConfig controls the background workflow executor.
type WorkflowConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
	TopK      int `yaml:"topK"`
}

// ChatSyncConfig controls the periodic chat-history ingestion job.
type ChatSyncConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Channel  string `yaml:"channel"`
}

// RunbooksConfig controls service registry loading for link enrichment.
type RunbooksConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESPONDER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Slack: SlackConfig{
			Channel:    "#on-call",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Gemini: GeminiConfig{
			BaseURL:       "https://generativelanguage.googleapis.com",
			GenerateModel: "gemini-2.0-flash-001",
			EmbedModel:    "text-embedding-004",
			Timeout:       30 * time.Second,
		},
		Chroma: ChromaConfig{
			Timeout:        10 * time.Second,
			DocsCollection: "client_documentation",
			ChatCollection: "slack_messages",
			CodeCollection: "code_collection",
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Workflow: WorkflowConfig{
			Workers:   4,
			QueueSize: 64,
			TopK:      3,
		},
		ChatSync: ChatSyncConfig{
			Schedule: "@every 1h",
		},
		Runbooks: RunbooksConfig{Path: "configs/services.yaml"},
		Logging:  LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESPONDER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RESPONDER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("RESPONDER_SLACK_TOKEN"); v != "" {
		cfg.Slack.Token = v
	}
	if v := os.Getenv("RESPONDER_SLACK_CHANNEL"); v != "" {
		cfg.Slack.Channel = v
	}
	if v := os.Getenv("RESPONDER_SLACK_API_URL"); v != "" {
		cfg.Slack.APIURL = v
	}
	if v := os.Getenv("RESPONDER_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("RESPONDER_GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("RESPONDER_GEMINI_GENERATE_MODEL"); v != "" {
		cfg.Gemini.GenerateModel = v
	}
	if v := os.Getenv("RESPONDER_GEMINI_EMBED_MODEL"); v != "" {
		cfg.Gemini.EmbedModel = v
	}
	if v := os.Getenv("RESPONDER_CHROMA_ENDPOINT"); v != "" {
		cfg.Chroma.Endpoint = v
	}
	if v := os.Getenv("RESPONDER_CHROMA_API_KEY"); v != "" {
		cfg.Chroma.APIKey = v
	}
	if v := os.Getenv("RESPONDER_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("RESPONDER_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("RESPONDER_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("RESPONDER_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("RESPONDER_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("RESPONDER_WORKFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workflow.Workers = n
		}
	}
	if v := os.Getenv("RESPONDER_CHAT_SYNC_ENABLED"); v != "" {
		cfg.ChatSync.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("RESPONDER_CHAT_SYNC_SCHEDULE"); v != "" {
		cfg.ChatSync.Schedule = v
	}
	if v := os.Getenv("RESPONDER_CHAT_SYNC_CHANNEL"); v != "" {
		cfg.ChatSync.Channel = v
	}
	if v := os.Getenv("RESPONDER_RUNBOOKS_PATH"); v != "" {
		cfg.Runbooks.Path = v
	}
	if v := os.Getenv("RESPONDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RESPONDER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
