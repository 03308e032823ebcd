package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML, with secrets
// overridable through environment variables.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueStream      string `yaml:"queueStream"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueueMaxRetries  int    `yaml:"queueMaxRetries"`

	StorageEndpoint  string `yaml:"storageEndpoint"`
	StorageAccessKey string `yaml:"storageAccessKey"`
	StorageSecretKey string `yaml:"storageSecretKey"`
	StorageBucket    string `yaml:"storageBucket"`
	StorageUseSSL    bool   `yaml:"storageUseSSL"`
	PullBaseURL      string `yaml:"pullBaseURL"`

	MetaVerifyToken   string `yaml:"metaVerifyToken"`
	GraphAPIToken     string `yaml:"graphApiToken"`
	WhatsAppPhoneID   string `yaml:"whatsappPhoneId"`
	TelegramBotToken  string `yaml:"telegramBotToken"`
	AdminChatID       string `yaml:"adminChatId"`
	AdminPasswordHash string `yaml:"adminPasswordHash"`
	AdminJWTSecret    string `yaml:"adminJwtSecret"`

	OpenAIAPIKey string `yaml:"openaiApiKey"`
	TTSModel     string `yaml:"ttsModel"`
	TTSVoice     string `yaml:"ttsVoice"`

	FFmpegPath           string `yaml:"ffmpegPath"`
	FFmpegTimeoutSeconds int    `yaml:"ffmpegTimeoutSeconds"`

	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`

	EpisodesFeedURL             string `yaml:"episodesFeedURL"`
	EpisodesRefreshIntervalMins int    `yaml:"episodesRefreshIntervalMins"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.StorageEndpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.StorageAccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.StorageSecretKey = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv("PULL_BASE_URL"); v != "" {
		cfg.PullBaseURL = v
	}
	if v := os.Getenv("META_WEBHOOK_VERIFY_TOKEN"); v != "" {
		cfg.MetaVerifyToken = v
	}
	if v := os.Getenv("GRAPH_API_TOKEN"); v != "" {
		cfg.GraphAPIToken = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_ID"); v != "" {
		cfg.WhatsAppPhoneID = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		cfg.AdminChatID = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.AdminPasswordHash = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.AdminJWTSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("EPISODES_FEED_URL"); v != "" {
		cfg.EpisodesFeedURL = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.QueueStream == "" {
		return errors.New("config: queueStream is required (set in config.yaml)")
	}
	if cfg.MetaVerifyToken == "" {
		return errors.New("config: metaVerifyToken is required (set in config.yaml or META_WEBHOOK_VERIFY_TOKEN)")
	}
	if cfg.GraphAPIToken == "" {
		return errors.New("config: graphApiToken is required (set in config.yaml or GRAPH_API_TOKEN)")
	}
	if cfg.TelegramBotToken == "" {
		return errors.New("config: telegramBotToken is required (set in config.yaml or TELEGRAM_BOT_TOKEN)")
	}
	if cfg.AdminChatID == "" {
		return errors.New("config: adminChatId is required (set in config.yaml or ADMIN_CHAT_ID)")
	}
	if cfg.AdminPasswordHash == "" {
		return errors.New("config: adminPasswordHash is required (set in config.yaml or ADMIN_PASSWORD_HASH)")
	}
	if cfg.AdminJWTSecret == "" {
		return errors.New("config: adminJwtSecret is required (set in config.yaml or ADMIN_JWT_SECRET)")
	}
	if cfg.StorageEndpoint != "" && cfg.PullBaseURL == "" {
		return errors.New("config: pullBaseURL is required when storage is configured")
	}
	if cfg.QueueConcurrency < 0 {
		return errors.New("config: queueConcurrency must be >= 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.FFmpegTimeoutSeconds < 0 {
		return errors.New("config: ffmpegTimeoutSeconds must be >= 0")
	}
	if cfg.EpisodesRefreshIntervalMins < 0 {
		return errors.New("config: episodesRefreshIntervalMins must be >= 0")
	}
	return nil
}
