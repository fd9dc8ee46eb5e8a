// Command blockhead runs the collector fleet, the embedded store, the
// Prometheus metrics endpoint, and the read-only REST surface described in
// spec.md.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/blockheadhq/blockhead/internal/config"
	"github.com/blockheadhq/blockhead/internal/metrics"
	"github.com/blockheadhq/blockhead/internal/restapi"
	"github.com/blockheadhq/blockhead/internal/store"
	"github.com/blockheadhq/blockhead/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yml", "path to the blockhead configuration file")
	dbPath := flag.String("db-path", "", "override the database path from the config file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error); defaults to BLOCKHEAD_LOG_LEVEL or info")
	flag.Parse()

	logger, err := buildLogger(config.LogLevelFromEnvOrFlag(*logLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *dbPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath, cfg.KeepHistory)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	metricsServer := metrics.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), logger)
	metricsServer.Start()
	logger.Info("metrics server listening", zap.Int("port", cfg.MetricsPort))

	apiServer := restapi.New(fmt.Sprintf(":%d", cfg.ServerPort), st, cfg, logger, rate.Limit(50), 100)
	apiServer.Start()
	logger.Info("rest api server listening", zap.Int("port", cfg.ServerPort))

	sup := supervisor.New(st, logger)
	sup.Start(cfg)
	logger.Info("collector fleet started", zap.Int("collectors", sup.Len()))

	watcher, err := config.NewWatcher(*configPath, logger)
	if err != nil {
		logger.Warn("config hot-reload disabled, watcher failed to start", zap.Error(err))
	} else {
		go watcher.Run(func(path string) {
			next, err := config.Load(path, *dbPath)
			if err != nil {
				logger.Error("config reload failed, keeping previous configuration", zap.Error(err))
				return
			}
			sup.Reload(next)
		})
		defer watcher.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	logger.Info("shutdown signal received, draining")
	sup.Stop()
	if err := apiServer.Stop(shutdownTimeout); err != nil {
		logger.Warn("rest api server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownTimeout); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	return cfg.Build()
}
