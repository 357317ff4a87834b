package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	GroqAPIKey         string   `mapstructure:"GROQ_API_KEY"`
	LLMProvider        string   `mapstructure:"LLM_PROVIDER"`
	LLMModel           string   `mapstructure:"LLM_MODEL"`
	LLMBaseURL         string   `mapstructure:"LLM_BASE_URL"`
	LLMMaxRetries      int      `mapstructure:"RETRY_ATTEMPTS"`
	LLMMaxTokens       int      `mapstructure:"LLM_MAX_TOKENS"`
	ExtractTemperature float64  `mapstructure:"EXTRACT_TEMPERATURE"`
	ReplyTemperature   float64  `mapstructure:"REPLY_TEMPERATURE"`
	ContextDBPath      string   `mapstructure:"CONTEXT_DB_PATH"`
	ContextDisabled    bool     `mapstructure:"CONTEXT_DISABLED"`
	ContextK           int      `mapstructure:"CONTEXT_K"`
	EmbedModel         string   `mapstructure:"EMBED_MODEL"`
	EmbedDim           int      `mapstructure:"EMBED_DIM"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled         bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string   `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("LLM_PROVIDER", "groq")
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("LLM_MAX_TOKENS", 1000)
	v.SetDefault("EXTRACT_TEMPERATURE", 0.1)
	v.SetDefault("REPLY_TEMPERATURE", 0.7)
	v.SetDefault("CONTEXT_DB_PATH", "./intake.db")
	v.SetDefault("CONTEXT_K", 5)
	v.SetDefault("EMBED_DIM", 384)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("GROQ_API_KEY")
	v.BindEnv("LLM_PROVIDER")
	v.BindEnv("LLM_MODEL")
	v.BindEnv("LLM_BASE_URL")
	v.BindEnv("RETRY_ATTEMPTS")
	v.BindEnv("LLM_MAX_TOKENS")
	v.BindEnv("EXTRACT_TEMPERATURE")
	v.BindEnv("REPLY_TEMPERATURE")
	v.BindEnv("CONTEXT_DB_PATH")
	v.BindEnv("CONTEXT_DISABLED")
	v.BindEnv("CONTEXT_K")
	v.BindEnv("EMBED_MODEL")
	v.BindEnv("EMBED_DIM")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable is not set")
	}

	if cfg.DatabaseURL == "" {
		log.Println("WARNING: DATABASE_URL is not set. Patient records and conversation")
		log.Println("WARNING: logs are kept in memory and are lost on restart.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.LLMMaxRetries < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.LLMMaxRetries)
	}
	if c.ExtractTemperature < 0 || c.ExtractTemperature > 2 {
		return fmt.Errorf("EXTRACT_TEMPERATURE must be between 0 and 2, got %g", c.ExtractTemperature)
	}
	if c.ReplyTemperature < 0 || c.ReplyTemperature > 2 {
		return fmt.Errorf("REPLY_TEMPERATURE must be between 0 and 2, got %g", c.ReplyTemperature)
	}
	if c.ContextK < 1 {
		return fmt.Errorf("CONTEXT_K must be at least 1, got %d", c.ContextK)
	}
	if !c.ContextDisabled && c.EmbedDim < 1 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
