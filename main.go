package main

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ghks18g/eip712/pkg/log"
	"github.com/ghks18g/eip712/pkg/nonce"
	"github.com/ghks18g/eip712/pkg/relay"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

func main() {
	logger := log.NewZapLogger(LoadLogConfig()).WithName("relayd")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	// .env may have changed the log settings.
	logger = log.NewZapLogger(config.log).WithName("relayd")

	store, closeStore, err := newNonceStore(config, logger)
	if err != nil {
		logger.Fatal("failed to set up nonce store", "backend", config.nonceBackend, "error", err)
	}
	defer closeStore()

	metrics := relay.NewMetrics()
	validator := relay.NewValidator(config.relay, store, metrics, logger)
	if err := config.schema.Apply(validator); err != nil {
		logger.Fatal("failed to apply schema", "error", err)
	}
	if err := validator.Registry().Audit(); err != nil {
		logger.Fatal("type registry audit failed", "error", err)
	}
	for _, dc := range config.schema.Domains {
		_, separator, _ := validator.Domain(dc.ID)
		logger.Info("accepting domain", "id", dc.ID, "separator", separator)
	}

	relayServer := NewRelayServer(validator, config.server.MaxBodyBytes, logger)
	rpcServer := config.server.httpServer(config.server.ListenAddr, relayServer.Handler())

	metricsEndpoint := "/metrics"
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())
	metricsServer := config.server.httpServer(config.server.MetricsListenAddr, metricsMux)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsServer.Addr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("relay server available", "listenAddr", rpcServer.Addr, "endpoint", validateEndpoint)
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("relay server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), config.server.ShutdownTimeout)
	defer cancel()
	if err := rpcServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down relay server", "error", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	logger.Info("shutdown complete")
}

// newNonceStore builds the configured backend. The returned func releases
// its connections.
func newNonceStore(config *Config, logger log.Logger) (nonce.Store, func(), error) {
	switch config.nonceBackend {
	case NonceBackendDatabase:
		db, err := ConnectToDB(config.dbConf, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return nonce.NewGormStore(db), func() { sqlDB.Close() }, nil

	case NonceBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.redis.Addr,
			Password: config.redis.Password,
			DB:       config.redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		logger.Info("connected to redis", "addr", config.redis.Addr, "ttl", config.redis.TTL)
		return nonce.NewRedisStore(rdb, config.redis.Prefix, config.redis.TTL), func() { rdb.Close() }, nil

	default:
		logger.Warn("using in-memory nonce store; consumed nonces are lost on restart")
		return nonce.NewMemoryStore(), func() {}, nil
	}
}
