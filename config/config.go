/*
Package config loads server settings.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. YAML file (path from -config)
  3. Environment (a .env file in the working directory is loaded first)
  4. Command-line flags, applied by cmd/server

ENVIRONMENT:
  CRM_PORT            HTTP port
  CRM_DB_PATH         SQLite database path (":memory:" for throwaway)
  CRM_JWT_SECRET      HS256 secret for bearer tokens (required)
  CRM_REDIS_URL       enables the Redis locker when set
  CRM_KAFKA_BROKERS   comma-separated; enables the Kafka publisher when set
  CRM_TIMEZONE        IANA zone for local midnight (default UTC)
  CRM_LOG_LEVEL       debug | info | warn | error
  CRM_ROLES_FILE      YAML file with a top-level roles list; replaces
                      the inline roles section

FILE:

  server:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  storage:
    db_path: crm.db
    redis_url: redis://localhost:6379/0
    kafka_brokers: [localhost:9092]
    kafka_topics:
      timeoff.approval_reminder: crm.reminders
  timeoff:
    timezone: Europe/Madrid
    operation_timeout: 5s
    reminder_interval: 1h
    reminder_after: 48h
  roles_file: roles.yaml   # optional, wins over the inline list
  roles:
    - name: Director
      auto_approve: true
    - name: Collaborator
      approval_hierarchy: [Director, Manager]
  seed:
    users:
      - {id: ana, name: Ana Torres, email: ana@example.com, role: Collaborator}
    clients:
      - {id: acme, name: Acme Corp}
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/crm-workflow/chat"
	"github.com/warp/crm-workflow/generic"
	"github.com/warp/crm-workflow/roles"
)

type Config struct {
	Port           int
	AllowedOrigins []string

	DBPath       string
	JWTSecret    string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopics  map[string]string

	Timezone         string
	LogLevel         string
	OperationTimeout time.Duration
	ReminderInterval time.Duration
	ReminderAfter    time.Duration

	RolesFile string
	Roles     []roles.RoleYAML
	Users     []generic.User
	Clients   []chat.Client
}

type userYAML struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Archived bool   `yaml:"archived"`
}

type clientYAML struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Archived bool   `yaml:"archived"`
}

type configFile struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Storage struct {
		DBPath       string            `yaml:"db_path"`
		RedisURL     string            `yaml:"redis_url"`
		KafkaBrokers []string          `yaml:"kafka_brokers"`
		KafkaTopics  map[string]string `yaml:"kafka_topics"`
	} `yaml:"storage"`
	TimeOff struct {
		Timezone         string        `yaml:"timezone"`
		OperationTimeout time.Duration `yaml:"operation_timeout"`
		ReminderInterval time.Duration `yaml:"reminder_interval"`
		ReminderAfter    time.Duration `yaml:"reminder_after"`
	} `yaml:"timeoff"`
	RolesFile string           `yaml:"roles_file"`
	Roles     []roles.RoleYAML `yaml:"roles"`
	Seed      struct {
		Users   []userYAML   `yaml:"users"`
		Clients []clientYAML `yaml:"clients"`
	} `yaml:"seed"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:             8080,
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		DBPath:           "crm.db",
		Timezone:         "UTC",
		LogLevel:         "info",
		OperationTimeout: 5 * time.Second,
		ReminderInterval: time.Hour,
		ReminderAfter:    48 * time.Hour,
	}
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty or the file does not exist), then the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Port > 0 {
		c.Port = f.Server.Port
	}
	if len(f.Server.AllowedOrigins) > 0 {
		c.AllowedOrigins = trimNonEmpty(f.Server.AllowedOrigins)
	}
	if f.Storage.DBPath != "" {
		c.DBPath = f.Storage.DBPath
	}
	c.RedisURL = f.Storage.RedisURL
	if len(f.Storage.KafkaBrokers) > 0 {
		c.KafkaBrokers = trimNonEmpty(f.Storage.KafkaBrokers)
	}
	c.KafkaTopics = f.Storage.KafkaTopics
	if f.TimeOff.Timezone != "" {
		c.Timezone = f.TimeOff.Timezone
	}
	if f.TimeOff.OperationTimeout > 0 {
		c.OperationTimeout = f.TimeOff.OperationTimeout
	}
	if f.TimeOff.ReminderInterval > 0 {
		c.ReminderInterval = f.TimeOff.ReminderInterval
	}
	if f.TimeOff.ReminderAfter > 0 {
		c.ReminderAfter = f.TimeOff.ReminderAfter
	}
	c.RolesFile = f.RolesFile
	c.Roles = f.Roles
	for _, u := range f.Seed.Users {
		c.Users = append(c.Users, generic.User{
			ID:       generic.EntityID(u.ID),
			Name:     u.Name,
			Email:    u.Email,
			Role:     u.Role,
			Archived: u.Archived,
		})
	}
	for _, cl := range f.Seed.Clients {
		c.Clients = append(c.Clients, chat.Client{ID: cl.ID, Name: cl.Name, Archived: cl.Archived})
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("CRM_PORT", c.Port)
	c.DBPath = envOrDefault("CRM_DB_PATH", c.DBPath)
	c.JWTSecret = envOrDefault("CRM_JWT_SECRET", c.JWTSecret)
	c.RedisURL = envOrDefault("CRM_REDIS_URL", c.RedisURL)
	c.KafkaBrokers = envCSV("CRM_KAFKA_BROKERS", c.KafkaBrokers)
	c.Timezone = envOrDefault("CRM_TIMEZONE", c.Timezone)
	c.LogLevel = envOrDefault("CRM_LOG_LEVEL", c.LogLevel)
	c.RolesFile = envOrDefault("CRM_ROLES_FILE", c.RolesFile)
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("missing CRM_DB_PATH")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("missing CRM_JWT_SECRET")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Registry builds the role registry from RolesFile, then the inline roles,
// then roles.DefaultRoles.
func (c Config) Registry() (*roles.Registry, error) {
	if c.RolesFile != "" {
		reg, err := roles.LoadFile(c.RolesFile)
		if err != nil {
			return nil, fmt.Errorf("roles: %w", err)
		}
		return reg, nil
	}
	if len(c.Roles) == 0 {
		return roles.NewRegistry(roles.DefaultRoles())
	}
	reg, err := roles.NewRegistry(roles.FromYAML(c.Roles))
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	return reg, nil
}

// SlogLevel maps LogLevel; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
