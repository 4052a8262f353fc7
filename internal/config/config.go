package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Cassandra  CassandraConfig  `mapstructure:"cassandra"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	IdGen      IdGenConfig      `mapstructure:"idgen"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CassandraConfig holds wide-column store configuration
type CassandraConfig struct {
	Hosts          []string          `mapstructure:"hosts"`
	Port           int               `mapstructure:"port"`
	Keyspace       string            `mapstructure:"keyspace"`
	Username       string            `mapstructure:"username"`
	Password       string            `mapstructure:"password"`
	Consistency    string            `mapstructure:"consistency"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	NumConns       int               `mapstructure:"num_conns"`
	ConnectRetries int               `mapstructure:"connect_retries"`
	ConnectBackoff time.Duration     `mapstructure:"connect_backoff"`
	AutoMigrate    bool              `mapstructure:"auto_migrate"`
	Replication    ReplicationConfig `mapstructure:"replication"`
}

// ReplicationConfig holds the keyspace replication settings
type ReplicationConfig struct {
	Class       string         `mapstructure:"class"`
	Factor      int            `mapstructure:"factor"`
	DataCenters map[string]int `mapstructure:"data_centers"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PaginationConfig holds page size limits and the page-state cache TTL
type PaginationConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	PageStateTTL    time.Duration `mapstructure:"page_state_ttl"`
}

// IdGenConfig holds conversation id generator settings
type IdGenConfig struct {
	MachineId uint16 `mapstructure:"machine_id"`
}

// ReconcileConfig holds the fan-out reconciler settings
type ReconcileConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Spec          string        `mapstructure:"spec"`
	Shards        int           `mapstructure:"shards"`
	BatchSize     int           `mapstructure:"batch_size"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	FanoutWorkers int           `mapstructure:"fanout_workers"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// Global config instance
var GlobalConfig *Config

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string]string{
	"server.http_port":             "HTTP_PORT",
	"server.mode":                  "SERVER_MODE",
	"cassandra.hosts":              "CASSANDRA_HOSTS",
	"cassandra.port":               "CASSANDRA_PORT",
	"cassandra.keyspace":           "CASSANDRA_KEYSPACE",
	"cassandra.username":           "CASSANDRA_USERNAME",
	"cassandra.password":           "CASSANDRA_PASSWORD",
	"cassandra.consistency":        "CASSANDRA_CONSISTENCY",
	"cassandra.auto_migrate":       "CASSANDRA_AUTO_MIGRATE",
	"cassandra.replication.class":  "CASSANDRA_REPLICATION_CLASS",
	"cassandra.replication.factor": "CASSANDRA_REPLICATION_FACTOR",
	"redis.enabled":                "REDIS_ENABLED",
	"redis.host":                   "REDIS_HOST",
	"redis.port":                   "REDIS_PORT",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"idgen.machine_id":             "MACHINE_ID",
	"reconcile.enabled":            "RECONCILE_ENABLED",
	"reconcile.spec":               "RECONCILE_SPEC",
	"pagination.default_page_size": "PAGE_SIZE_DEFAULT",
	"pagination.max_page_size":     "PAGE_SIZE_MAX",
}

// Load loads configuration from file. A .env file next to the process is loaded first if present,
// and the variables in envBindings override file values. An empty configPath reads env only.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("cassandra.auto_migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("reconcile.enabled", true)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// CASSANDRA_HOSTS arrives as one comma separated string
	cfg.Cassandra.Hosts = splitHosts(cfg.Cassandra.Hosts)

	setDefaults(&cfg)

	GlobalConfig = &cfg
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}

	if len(cfg.Cassandra.Hosts) == 0 {
		cfg.Cassandra.Hosts = []string{"127.0.0.1"}
	}
	if cfg.Cassandra.Port == 0 {
		cfg.Cassandra.Port = 9042
	}
	if cfg.Cassandra.Keyspace == "" {
		cfg.Cassandra.Keyspace = "widechat"
	}
	if cfg.Cassandra.Consistency == "" {
		cfg.Cassandra.Consistency = "QUORUM"
	}
	if cfg.Cassandra.Timeout == 0 {
		cfg.Cassandra.Timeout = 5 * time.Second
	}
	if cfg.Cassandra.ConnectTimeout == 0 {
		cfg.Cassandra.ConnectTimeout = 10 * time.Second
	}
	if cfg.Cassandra.NumConns == 0 {
		cfg.Cassandra.NumConns = 2
	}
	if cfg.Cassandra.ConnectRetries == 0 {
		cfg.Cassandra.ConnectRetries = 10
	}
	if cfg.Cassandra.ConnectBackoff == 0 {
		cfg.Cassandra.ConnectBackoff = 5 * time.Second
	}
	if cfg.Cassandra.Replication.Class == "" {
		cfg.Cassandra.Replication.Class = "SimpleStrategy"
	}
	if cfg.Cassandra.Replication.Factor == 0 {
		cfg.Cassandra.Replication.Factor = 1
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "widechat:"
	}
	if cfg.Redis.IdempotencyTTL == 0 {
		cfg.Redis.IdempotencyTTL = 24 * time.Hour
	}

	if cfg.Pagination.DefaultPageSize == 0 {
		cfg.Pagination.DefaultPageSize = 20
	}
	if cfg.Pagination.MaxPageSize == 0 {
		cfg.Pagination.MaxPageSize = 100
	}
	if cfg.Pagination.PageStateTTL == 0 {
		cfg.Pagination.PageStateTTL = 10 * time.Minute
	}

	if cfg.IdGen.MachineId == 0 {
		cfg.IdGen.MachineId = 1
	}

	if cfg.Reconcile.Spec == "" {
		cfg.Reconcile.Spec = "@every 1m"
	}
	if cfg.Reconcile.Shards == 0 {
		cfg.Reconcile.Shards = 16
	}
	if cfg.Reconcile.BatchSize == 0 {
		cfg.Reconcile.BatchSize = 100
	}
	if cfg.Reconcile.GracePeriod == 0 {
		cfg.Reconcile.GracePeriod = 30 * time.Second
	}
	if cfg.Reconcile.FanoutWorkers == 0 {
		cfg.Reconcile.FanoutWorkers = 5
	}
	if cfg.Reconcile.MaxAttempts == 0 {
		cfg.Reconcile.MaxAttempts = 10
	}
}

func splitHosts(in []string) []string {
	var hosts []string
	for _, s := range in {
		for _, h := range strings.Split(s, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}
