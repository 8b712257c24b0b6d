package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/ghks18g/eip712/pkg/log"
	"github.com/ghks18g/eip712/pkg/relay"
)

const (
	configDirPathEnv     = "RELAY_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// NonceBackend selects where consumed nonces are kept.
type NonceBackend string

const (
	NonceBackendMemory   NonceBackend = "memory"
	NonceBackendDatabase NonceBackend = "database"
	NonceBackendRedis    NonceBackend = "redis"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	ListenAddr        string        `env:"RELAY_LISTEN_ADDR" env-default:":8000"`
	MetricsListenAddr string        `env:"RELAY_METRICS_LISTEN_ADDR" env-default:":4242"`
	ReadTimeout       time.Duration `env:"RELAY_READ_TIMEOUT" env-default:"10s"`
	ReadHeaderTimeout time.Duration `env:"RELAY_READ_HEADER_TIMEOUT" env-default:"5s"`
	WriteTimeout      time.Duration `env:"RELAY_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `env:"RELAY_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" env-default:"5s"`
	MaxBodyBytes      int64         `env:"RELAY_MAX_BODY_BYTES" env-default:"1048576"`
}

// httpServer returns a server for addr with the configured timeouts.
func (c ServerConfig) httpServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
	}
}

// RedisConfig is used when the nonce backend is redis.
type RedisConfig struct {
	Addr     string        `env:"RELAY_REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `env:"RELAY_REDIS_PASSWORD" env-default:""`
	DB       int           `env:"RELAY_REDIS_DB" env-default:"0"`
	Prefix   string        `env:"RELAY_REDIS_PREFIX" env-default:"eip712:nonce:"`
	TTL      time.Duration `env:"RELAY_REDIS_TTL" env-default:"0s"`
}

type envConfig struct {
	NonceBackend NonceBackend `env:"RELAY_NONCE_BACKEND" env-default:"memory"`
	Server       ServerConfig
	Redis        RedisConfig
	Relay        relay.Config
	Log          log.Config
}

// Config represents the overall application configuration
type Config struct {
	configDirPath string
	nonceBackend  NonceBackend
	server        ServerConfig
	redis         RedisConfig
	relay         relay.Config
	log           log.Config
	dbConf        DatabaseConfig
	schema        SchemaConfig
}

// LoadConfig builds configuration from environment variables, the optional
// .env file and schema.yaml in the config directory.
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	switch env.NonceBackend {
	case NonceBackendMemory, NonceBackendDatabase, NonceBackendRedis:
	default:
		return nil, fmt.Errorf("invalid RELAY_NONCE_BACKEND value %q", env.NonceBackend)
	}
	logger.Info("set nonce backend", "value", env.NonceBackend)

	// If RELAY_DATABASE_URL is set, it takes precedence over the
	// individual database variables.
	var dbConf DatabaseConfig
	if dbURL := os.Getenv("RELAY_DATABASE_URL"); dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&dbConf); err != nil {
		return nil, fmt.Errorf("failed to read database env: %w", err)
	}

	schema, err := LoadSchema(configDirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	logger.Info("loaded schema", "types", len(schema.Types), "requestTypes", len(schema.RequestTypes), "domains", len(schema.Domains))

	return &Config{
		configDirPath: configDirPath,
		nonceBackend:  env.NonceBackend,
		server:        env.Server,
		redis:         env.Redis,
		relay:         env.Relay,
		log:           env.Log,
		dbConf:        dbConf,
		schema:        schema,
	}, nil
}

// LoadLogConfig reads only the logging variables, so the logger can be built
// before the rest of the configuration is loaded.
func LoadLogConfig() log.Config {
	var conf log.Config
	if err := cleanenv.ReadEnv(&conf); err != nil {
		return log.Config{Format: "console", Level: log.LevelInfo, Output: "stderr"}
	}
	return conf
}
