// Package config loads application settings from a YAML file and NGMC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors the structure of configs/config.yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the persistence backend and its connection settings.
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // mongo, mysql or memory
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	Mongo        MongoConfig   `mapstructure:"mongo"`
	MySQL        MySQLConfig   `mapstructure:"mysql"`
}

// MongoConfig holds the MongoDB connection string and database name.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// MySQLConfig holds the MySQL DSN.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the optional chat history cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig holds the check-auth API key and token signing settings.
type AuthConfig struct {
	APIKey        string `mapstructure:"api_key"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig configures the chat-completion client.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float32       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	FallbackReply  string        `mapstructure:"fallback_reply"`
	Pricing        PricingConfig `mapstructure:"pricing"`
}

// PricingConfig holds the per-1000-token rates used for the cost log line.
type PricingConfig struct {
	PromptPer1K     float64 `mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `mapstructure:"completion_per_1k"`
	INRPerUSD       float64 `mapstructure:"inr_per_usd"`
}

// PromptConfig configures the context assembler.
type PromptConfig struct {
	ReferenceDir   string   `mapstructure:"reference_dir"`
	ReferenceFiles []string `mapstructure:"reference_files"`
	RecentScope    string   `mapstructure:"recent_scope"` // chat, global or none
	RecentTurns    int      `mapstructure:"recent_turns"`
	HistoryTurns   int      `mapstructure:"history_turns"`
	DefaultTitle   string   `mapstructure:"default_title"`
}

// ScraperConfig configures the startup scrape.
type ScraperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	OutputDir string        `mapstructure:"output_dir"`
	JSONFile  string        `mapstructure:"json_file"`
	TextFile  string        `mapstructure:"text_file"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// KafkaConfig configures the usage event producer. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// MinIOConfig configures the scrape artifact mirror. Empty Endpoint disables it.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{
		"https://ngmchatbot.vercel.app",
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)

	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.query_timeout", 10*time.Second)
	v.SetDefault("database.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongo.database", "ngmc_chatbot")
	v.SetDefault("database.mysql.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 7*24*time.Hour)

	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.max_tokens", 1200)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_concurrency", 8)
	v.SetDefault("llm.fallback_reply", "I'm sorry, I'm having trouble processing your request right now. Please try again later.")
	v.SetDefault("llm.pricing.prompt_per_1k", 0.03)
	v.SetDefault("llm.pricing.completion_per_1k", 0.06)
	v.SetDefault("llm.pricing.inr_per_usd", 84.0)

	v.SetDefault("prompt.reference_dir", "data")
	v.SetDefault("prompt.reference_files", []string{"staff.txt", "links.txt"})
	v.SetDefault("prompt.recent_scope", "chat")
	v.SetDefault("prompt.recent_turns", 5)
	v.SetDefault("prompt.history_turns", 10)
	v.SetDefault("prompt.default_title", "NGMC Query Response")

	v.SetDefault("scraper.enabled", true)
	v.SetDefault("scraper.output_dir", "data")
	v.SetDefault("scraper.json_file", "ngmc_college_links.json")
	v.SetDefault("scraper.text_file", "links.txt")
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	v.SetDefault("scraper.timeout", 30*time.Second)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "ngmc.llm.usage")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "ngmc-scrape")
}

// Load reads the YAML file at configPath (optional when empty) and applies NGMC_* overrides,
// e.g. NGMC_LLM_API_KEY or NGMC_DATABASE_MONGO_URI.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NGMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mongo", "mysql", "memory":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Prompt.RecentScope {
	case "chat", "global", "none":
	default:
		return fmt.Errorf("unsupported prompt.recent_scope %q", c.Prompt.RecentScope)
	}
	if c.Database.Driver == "mysql" && c.Database.MySQL.DSN == "" {
		return fmt.Errorf("database.mysql.dsn is required for the mysql driver")
	}
	return nil
}
