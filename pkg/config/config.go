// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML file named by CONFIG_FILE.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Broker holds RabbitMQ settings shared by gateway and worker.
type Broker struct {
	URL                   string        `yaml:"url" env:"RABBITMQ_URL" envDefault:"amqp://localhost"`
	Disabled              bool          `yaml:"disabled" env:"RABBITMQ_DISABLED"`
	Prefetch              int           `yaml:"prefetch" env:"RABBITMQ_PREFETCH" envDefault:"1"`
	PublishPoolSize       int           `yaml:"publish_pool_size" env:"RABBITMQ_PUBLISH_POOL_SIZE" envDefault:"8"`
	DialAttempts          int           `yaml:"dial_attempts" env:"RABBITMQ_DIAL_ATTEMPTS" envDefault:"5"`
	DialDelay             time.Duration `yaml:"dial_delay" env:"RABBITMQ_DIAL_DELAY" envDefault:"1s"`
	ConfirmTimeoutSeconds int           `yaml:"confirm_timeout_seconds" env:"RABBITMQ_CONFIRM_TIMEOUT_SECONDS" envDefault:"5"`

	// Bounded retry through a dead-letter queue; disabled means immediate
	// requeue on failure.
	RetryEnabled bool          `yaml:"retry_enabled" env:"RABBITMQ_RETRY_ENABLED" envDefault:"true"`
	RetryTTL     time.Duration `yaml:"retry_ttl" env:"RABBITMQ_RETRY_TTL" envDefault:"10s"`
	MaxAttempts  int           `yaml:"max_attempts" env:"RABBITMQ_MAX_ATTEMPTS" envDefault:"5"`
}

type Server struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Logging struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" envDefault:"info"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT" envDefault:"text"` // text, json
}

type OpenAI struct {
	APIKey             string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL            string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	TranscriptionModel string `yaml:"transcription_model" env:"OPENAI_TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	VisionModel        string `yaml:"vision_model" env:"OPENAI_VISION_MODEL" envDefault:"gpt-4o"`
	TranslationModel   string `yaml:"translation_model" env:"OPENAI_TRANSLATION_MODEL" envDefault:"gpt-4o-mini"`
	ImagePrompt        string `yaml:"image_prompt" env:"IMAGE_PROMPT" envDefault:"Describe this image in detail."`
}

// Storage is the S3-compatible bucket that receives media files.
type Storage struct {
	Bucket    string `yaml:"bucket" env:"STORAGE_BUCKET"`
	Endpoint  string `yaml:"endpoint" env:"STORAGE_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"STORAGE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"STORAGE_SECRET_KEY"`
	Region    string `yaml:"region" env:"STORAGE_REGION"`
	UseSSL    bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" envDefault:"true"`
}

type Records struct {
	Path string `yaml:"path" env:"RECORDS_PATH" envDefault:"data/records"`
}

type Telegram struct {
	Token          string  `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	SecondaryToken string  `yaml:"secondary_token" env:"TELEGRAM_BOT_TOKEN_SECONDARY"`
	ChatID         int64   `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	RatePerSecond  float64 `yaml:"rate_per_second" env:"TELEGRAM_RATE_PER_SECOND" envDefault:"1"`
	Burst          int     `yaml:"burst" env:"TELEGRAM_BURST" envDefault:"5"`
}

// ChatClient points at the chat automation layer.
type ChatClient struct {
	ID              string        `yaml:"id" env:"CHAT_CLIENT_ID" envDefault:"chat-ingest"`
	MediaEndpoint   string        `yaml:"media_endpoint" env:"CHAT_CLIENT_URL" envDefault:"http://localhost:3000"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"MEDIA_DOWNLOAD_TIMEOUT" envDefault:"60s"`
	ScratchDir      string        `yaml:"scratch_dir" env:"TEMP_DIR" envDefault:"temp"`
	FFmpegPath      string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH" envDefault:"ffmpeg"`
}

type Worker struct {
	// Addr serves /health and /metrics.
	Addr           string        `yaml:"addr" env:"WORKER_HTTP_ADDR" envDefault:":9090"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"WORKER_HANDLER_TIMEOUT" envDefault:"2m"`
	BufferSize     int           `yaml:"buffer_size" env:"WORKER_BUFFER_SIZE" envDefault:"1024"`
	BufferTTL      time.Duration `yaml:"buffer_ttl" env:"WORKER_BUFFER_TTL" envDefault:"1h"`

	// Group chats whose messages are translated and forwarded.
	TranslateGroups []string `yaml:"translate_groups" env:"TRANSLATE_GROUP_IDS" envSeparator:","`
	ContextMessages int      `yaml:"context_messages" env:"TRANSLATE_CONTEXT_MESSAGES" envDefault:"5"`
}

type Gateway struct {
	ReplyTimeout time.Duration `yaml:"reply_timeout" env:"GATEWAY_REPLY_TIMEOUT" envDefault:"30s"`
	WaitForReply bool          `yaml:"wait_for_reply" env:"GATEWAY_WAIT_FOR_REPLY" envDefault:"true"`
}

type Config struct {
	Broker     Broker     `yaml:"broker"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	OpenAI     OpenAI     `yaml:"openai"`
	Storage    Storage    `yaml:"storage"`
	Records    Records    `yaml:"records"`
	Telegram   Telegram   `yaml:"telegram"`
	ChatClient ChatClient `yaml:"chat_client"`
	Worker     Worker     `yaml:"worker"`
	Gateway    Gateway    `yaml:"gateway"`
}

// Load reads .env (if present), the process environment and then the YAML
// file named by CONFIG_FILE. Values in the file win over the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(env.ToMap(os.Environ()), os.Getenv("CONFIG_FILE"))
}

func load(environ map[string]string, file string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if file != "" {
		if err := loadFromYAML(file, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadFromYAML overlays the keys present in filename onto cfg.
func loadFromYAML(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML config: %w", err)
	}
	return nil
}

// ValidateGateway checks the settings the gateway needs.
func (c *Config) ValidateGateway() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Gateway.ReplyTimeout <= 0 {
		return fmt.Errorf("gateway.reply_timeout must be positive")
	}
	return nil
}

// ValidateWorker checks the settings the worker needs.
func (c *Config) ValidateWorker() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Broker.Disabled {
		return fmt.Errorf("broker.disabled is not supported by the worker")
	}
	var missing []string
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Storage.Bucket == "" {
		missing = append(missing, "STORAGE_BUCKET")
	}
	if c.Storage.Endpoint == "" {
		missing = append(missing, "STORAGE_ENDPOINT")
	}
	if c.Records.Path == "" {
		missing = append(missing, "RECORDS_PATH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Broker.RetryEnabled && c.Broker.MaxAttempts <= 0 {
		return fmt.Errorf("broker.max_attempts must be positive when retry is enabled")
	}
	if c.Worker.BufferSize <= 0 {
		return fmt.Errorf("worker.buffer_size must be positive")
	}
	if c.Worker.ContextMessages < 0 {
		return fmt.Errorf("worker.context_messages must be non-negative")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when a bot token is set")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if !c.Broker.Disabled && c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	if c.Broker.Prefetch < 0 {
		return fmt.Errorf("broker.prefetch must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
