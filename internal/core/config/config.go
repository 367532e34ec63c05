// Package config loads and validates the dbstack deployment configuration.
//
// Configuration comes from a flat KEY=VALUE env-style file, with
// DBSTACK_-prefixed environment variables taking precedence. The loader
// builds one immutable Config value that is passed explicitly to every
// stage; no stage reads process environment on its own.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/artpar/dbstack/internal/core/imageref"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Principal is a database identity: user, password, and the database it is
// bound to.
type Principal struct {
	User     string
	Password string
	Database string
}

// HealthPolicy is the container-embedded health check configuration.
type HealthPolicy struct {
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// ReadinessPolicy bounds the readiness polling loop after deploy/build.
type ReadinessPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds all dbstack configuration.
type Config struct {
	// Image coordinates
	Registry  string
	Namespace string
	ImageName string
	ImageTag  string
	Version   string

	// Registry credentials (optional; anonymous push/pull when empty)
	RegistryUser     string
	RegistryPassword string

	// Principals
	Admin Principal
	App   Principal

	// Runtime resources
	Network       string
	Volume        string
	Container     string
	RestartPolicy string
	HostPort      int

	// Policies
	Health    HealthPolicy
	Readiness ReadinessPolicy

	// Paths
	BuildContext string
	ComposeFile  string

	Log LogConfig
}

// ImageRepository returns registry[/namespace]/name without a tag.
func (c Config) ImageRepository() string {
	if c.Namespace == "" {
		return c.Registry + "/" + c.ImageName
	}
	return c.Registry + "/" + c.Namespace + "/" + c.ImageName
}

// AdminDSN returns the connection string for the administrative principal
// against the published host port.
func (c Config) AdminDSN(host string) string {
	return dsn(host, c.HostPort, c.Admin)
}

// AppDSN returns the connection string for the application principal.
func (c Config) AppDSN(host string) string {
	return dsn(host, c.HostPort, c.App)
}

// DSNFor returns a connection string for an arbitrary principal and port.
// The verifier uses this to probe cross-database access.
func DSNFor(host string, port int, p Principal) string {
	return dsn(host, port, p)
}

func dsn(host string, port int, p Principal) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.User, p.Password, host, port, p.Database)
}

// =============================================================================
// Required Keys
// =============================================================================

// RequiredKeys is the fixed list of keys that must be present and non-empty
// before any external mutation happens.
var RequiredKeys = []string{
	"REGISTRY",
	"IMAGE_NAME",
	"IMAGE_TAG",
	"POSTGRES_USER",
	"POSTGRES_PASSWORD",
	"POSTGRES_DB",
	"APP_USER",
	"APP_PASSWORD",
	"APP_DB",
	"NETWORK_NAME",
	"RESTART_POLICY",
}

// =============================================================================
// Config Loading
// =============================================================================

// Load reads the KEY=VALUE file at path, applies defaults and DBSTACK_
// environment overrides, and returns the assembled Config. A missing file is
// a hard error: every workflow depends on the credentials it carries.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "dbstack.env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("configuration file %s not found: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Environment overrides: DBSTACK_POSTGRES_PASSWORD beats the file.
	v.SetEnvPrefix("DBSTACK")
	v.AutomaticEnv()

	cfg := &Config{
		Registry:  v.GetString("REGISTRY"),
		Namespace: v.GetString("NAMESPACE"),
		ImageName: v.GetString("IMAGE_NAME"),
		ImageTag:  v.GetString("IMAGE_TAG"),
		Version:   v.GetString("VERSION"),

		RegistryUser:     v.GetString("REGISTRY_USER"),
		RegistryPassword: v.GetString("REGISTRY_PASSWORD"),

		Admin: Principal{
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Database: v.GetString("POSTGRES_DB"),
		},
		App: Principal{
			User:     v.GetString("APP_USER"),
			Password: v.GetString("APP_PASSWORD"),
			Database: v.GetString("APP_DB"),
		},

		Network:       v.GetString("NETWORK_NAME"),
		Volume:        v.GetString("VOLUME_NAME"),
		Container:     v.GetString("CONTAINER_NAME"),
		RestartPolicy: v.GetString("RESTART_POLICY"),
		HostPort:      v.GetInt("HOST_PORT"),

		Health: HealthPolicy{
			Interval:    v.GetDuration("HEALTHCHECK_INTERVAL"),
			Timeout:     v.GetDuration("HEALTHCHECK_TIMEOUT"),
			StartPeriod: v.GetDuration("HEALTHCHECK_START_PERIOD"),
			Retries:     v.GetInt("HEALTHCHECK_RETRIES"),
		},
		Readiness: ReadinessPolicy{
			MaxAttempts: v.GetInt("READINESS_MAX_ATTEMPTS"),
			Interval:    v.GetDuration("READINESS_INTERVAL"),
		},

		BuildContext: v.GetString("BUILD_CONTEXT"),
		ComposeFile:  v.GetString("COMPOSE_FILE"),

		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	// IMAGE carries a full reference and overrides the coordinate keys, so
	// an operator can point at another registry with one variable.
	if full := v.GetString("IMAGE"); full != "" {
		name := full
		if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
			cfg.ImageTag = name[i+1:]
			name = name[:i]
		}
		ref, err := imageref.Parse(name)
		if err != nil {
			return nil, err
		}
		cfg.Registry = ref.Registry
		cfg.Namespace = ref.Namespace
		cfg.ImageName = ref.Repository
	}

	// Derived names keep the file small: a deployment is one container plus
	// one data volume under predictable names.
	if cfg.Container == "" {
		cfg.Container = cfg.ImageName
	}
	if cfg.Volume == "" {
		cfg.Volume = cfg.Container + "-data"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NAMESPACE", "")
	v.SetDefault("VERSION", "11.0.0")
	v.SetDefault("HOST_PORT", 5432)
	v.SetDefault("HEALTHCHECK_INTERVAL", "10s")
	v.SetDefault("HEALTHCHECK_TIMEOUT", "5s")
	v.SetDefault("HEALTHCHECK_START_PERIOD", "30s")
	v.SetDefault("HEALTHCHECK_RETRIES", 5)
	v.SetDefault("READINESS_MAX_ATTEMPTS", 30)
	v.SetDefault("READINESS_INTERVAL", "2s")
	v.SetDefault("BUILD_CONTEXT", "build/postgres")
	v.SetDefault("COMPOSE_FILE", "docker-compose.yml")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate asserts that every required key produced a non-empty value.
// It reports all missing keys at once so the operator fixes the file in one
// pass.
func (c *Config) Validate() error {
	values := map[string]string{
		"REGISTRY":          c.Registry,
		"IMAGE_NAME":        c.ImageName,
		"IMAGE_TAG":         c.ImageTag,
		"POSTGRES_USER":     c.Admin.User,
		"POSTGRES_PASSWORD": c.Admin.Password,
		"POSTGRES_DB":       c.Admin.Database,
		"APP_USER":          c.App.User,
		"APP_PASSWORD":      c.App.Password,
		"APP_DB":            c.App.Database,
		"NETWORK_NAME":      c.Network,
		"RESTART_POLICY":    c.RestartPolicy,
	}

	var missing []string
	for _, key := range RequiredKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
