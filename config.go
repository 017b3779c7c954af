package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"exit-ticket-audit/internal/analytics"
)

const (
	defaultSchema   = "exit_ticket_audit"
	defaultLogLevel = "info"
	envPrefix       = "EXIT_TICKET_"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	Analysis analytics.Options `yaml:"analysis"`
	Logging  LoggingConfig     `yaml:"logging"`
	Database DBConfig          `yaml:"database"`
	Email    EmailConfig       `yaml:"email"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DBConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
	Tag    string `yaml:"tag"`
}

// EmailConfig controls delivery of student reports. Without a SendGrid key
// rendered messages are written to OutboxDir instead.
type EmailConfig struct {
	Enabled        bool   `yaml:"enabled"`
	FromName       string `yaml:"from_name"`
	FromAddress    string `yaml:"from_address"`
	SendgridAPIKey string `yaml:"sendgrid_api_key"`
	OutboxDir      string `yaml:"outbox_dir"`
}

func defaultConfig() Config {
	return Config{
		Analysis: analytics.DefaultOptions(),
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: "console",
		},
		Database: DBConfig{Schema: defaultSchema},
		Email: EmailConfig{
			FromName:    "Exit Tickets",
			FromAddress: "noreply@localhost",
			OutboxDir:   "outbox",
		},
	}
}

// loadConfig layers defaults, the YAML file, .env and the environment.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if value := dbURLFromEnv(); value != "" {
		c.Database.URL = value
	}
	setFromEnv(&c.Database.Schema, envPrefix+"DB_SCHEMA")
	setFromEnv(&c.Database.Tag, envPrefix+"DB_TAG")
	setFromEnv(&c.Logging.Level, envPrefix+"LOG_LEVEL")
	setFromEnv(&c.Logging.Format, envPrefix+"LOG_FORMAT")
	setFromEnv(&c.Email.SendgridAPIKey, "SENDGRID_API_KEY")
	setFromEnv(&c.Email.FromAddress, envPrefix+"FROM_EMAIL")
	setFromEnv(&c.Email.FromName, envPrefix+"FROM_NAME")
	setFromEnv(&c.Email.OutboxDir, envPrefix+"OUTBOX")
}

func setFromEnv(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func dbURLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + "DB_URL")); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

func (c Config) Validate() error {
	a := c.Analysis
	if a.CompletionThreshold <= 0 || a.CompletionThreshold > 1 {
		return fmt.Errorf("analysis.completion_threshold must be in (0,1], got %v", a.CompletionThreshold)
	}
	if a.DecileFraction <= 0 || a.DecileFraction > 1 {
		return fmt.Errorf("analysis.decile_fraction must be in (0,1], got %v", a.DecileFraction)
	}
	if a.FlierThreshold <= 0 {
		return fmt.Errorf("analysis.flier_threshold must be positive, got %v", a.FlierThreshold)
	}
	if a.FlierWindow < 1 {
		return fmt.Errorf("analysis.flier_window must be at least 1, got %d", a.FlierWindow)
	}
	if _, err := sanitizeSchema(c.Database.Schema); err != nil {
		return err
	}
	if c.Email.Enabled && strings.TrimSpace(c.Email.FromAddress) == "" {
		return errors.New("email.from_address is required when email is enabled")
	}
	return nil
}

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !schemaPattern.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}
