// Package config loads service configuration from environment variables and
// an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// RedisConfig configures the department-head lookup cache. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	HeadCacheTTL time.Duration `mapstructure:"head_cache_ttl"`
}

// NATSConfig configures change-event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// HeadChangedSubject carries directory head reassignments used to evict
	// cached department heads.
	HeadChangedSubject string `mapstructure:"head_changed_subject"`
}

type DirectoryConfig struct {
	// Driver is "http" or "grpc".
	Driver   string        `mapstructure:"driver"`
	BaseURL  string        `mapstructure:"base_url"`
	GRPCAddr string        `mapstructure:"grpc_addr"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Disabled  bool   `mapstructure:"disabled"`
	// DevUserID and DevOrganizationID identify every caller when Disabled.
	DevUserID         string `mapstructure:"dev_user_id"`
	DevOrganizationID string `mapstructure:"dev_organization_id"`
}

type ApprovalsConfig struct {
	// StoreDriver is "postgres" or "memory".
	StoreDriver       string `mapstructure:"store_driver"`
	ValidateEmployees bool   `mapstructure:"validate_employees"`
	HistoryLimit      int    `mapstructure:"history_limit"`
}

// Load reads configuration. Environment variables take precedence over the
// file named by CONFIG_FILE; nested keys map to upper-case names with
// underscores, e.g. DATABASE_HOST or SERVER_GRPC_PORT.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Approvals.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("approvals.store_driver must be postgres or memory, got %q", c.Approvals.StoreDriver)
	}
	switch c.Directory.Driver {
	case "http":
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("directory.base_url is required for the http directory driver")
		}
	case "grpc":
		if c.Directory.GRPCAddr == "" {
			return fmt.Errorf("directory.grpc_addr is required for the grpc directory driver")
		}
	default:
		return fmt.Errorf("directory.driver must be http or grpc, got %q", c.Directory.Driver)
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required unless auth.disabled is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-hr-approval-chains")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.grpc_port", 9086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "hr_approvals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.head_cache_ttl", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "approvals.chain")
	v.SetDefault("nats.head_changed_subject", "hr.directory.head_changed")

	v.SetDefault("directory.driver", "http")
	v.SetDefault("directory.base_url", "http://localhost:8080")
	v.SetDefault("directory.grpc_addr", "localhost:9080")
	v.SetDefault("directory.timeout", 5*time.Second)
	v.SetDefault("directory.retry_max", 2)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.dev_user_id", "dev-user")
	v.SetDefault("auth.dev_organization_id", "dev-org")

	v.SetDefault("approvals.store_driver", "postgres")
	v.SetDefault("approvals.validate_employees", true)
	v.SetDefault("approvals.history_limit", 20)
}
