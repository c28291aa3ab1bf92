package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting read from the environment or an optional file.
// Keys match the environment variable names.
type Config struct {
	StateTable      string        `mapstructure:"STATE_TABLE"`
	ParamPrefix     string        `mapstructure:"PARAM_PREFIX"`
	MaxAnswerLength int           `mapstructure:"MAX_ANSWER_LENGTH"`
	OpenAIBaseURL   string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAITimeout   time.Duration `mapstructure:"OPENAI_TIMEOUT"`

	// Local development only.
	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	DevAddr       string `mapstructure:"DEV_ADDR"`
	DevJWTSecret  string `mapstructure:"DEV_JWT_SECRET"`
	SeedQuestions string `mapstructure:"SEED_QUESTIONS"`
}

var defaults = map[string]any{
	"STATE_TABLE":       "",
	"PARAM_PREFIX":      "",
	"MAX_ANSWER_LENGTH": 5000,
	"OPENAI_BASE_URL":   "https://api.openai.com/v1",
	"OPENAI_TIMEOUT":    30 * time.Second,
	"OPENAI_API_KEY":    "",
	"OPENAI_MODEL":      "",
	"SQLITE_PATH":       "data/daily-prompt.db",
	"DEV_ADDR":          ":8080",
	"DEV_JWT_SECRET":    "",
	"SEED_QUESTIONS":    "",
}

// Load reads configuration from the environment, layered over configPath
// when it is not empty. The file may be any format viper understands,
// including .env files.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.MaxAnswerLength <= 0 {
		return nil, fmt.Errorf("MAX_ANSWER_LENGTH must be positive, got %d", cfg.MaxAnswerLength)
	}
	if cfg.OpenAITimeout <= 0 {
		return nil, fmt.Errorf("OPENAI_TIMEOUT must be positive, got %s", cfg.OpenAITimeout)
	}
	return &cfg, nil
}

// ValidateLambda checks the settings the Lambda runtime cannot start without.
func (c *Config) ValidateLambda() error {
	var errs []error
	if strings.TrimSpace(c.StateTable) == "" {
		errs = append(errs, errors.New("STATE_TABLE is required"))
	}
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required"))
	}
	return errors.Join(errs...)
}

// ValidateDev checks the development server settings. Secrets missing from
// the environment are read from the parameter store, so PARAM_PREFIX stands
// in for any of them.
func (c *Config) ValidateDev() error {
	var errs []error
	if strings.TrimSpace(c.SQLitePath) == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required"))
	}
	if c.ParamPrefix == "" {
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or PARAM_PREFIX is required"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL or PARAM_PREFIX is required"))
		}
		if c.DevJWTSecret == "" {
			errs = append(errs, errors.New("DEV_JWT_SECRET or PARAM_PREFIX is required"))
		}
	}
	return errors.Join(errs...)
}

// UsesParamStore reports whether any secret must be fetched from SSM.
func (c *Config) UsesParamStore() bool {
	return c.OpenAIAPIKey == "" || c.OpenAIModel == "" || c.DevJWTSecret == ""
}
