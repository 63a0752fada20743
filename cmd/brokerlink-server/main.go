package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"brokerlink/internal/analysis"
	"brokerlink/internal/api"
	"brokerlink/internal/broker"
	"brokerlink/internal/config"
	"brokerlink/internal/connection"
	"brokerlink/internal/httpapi"
	"brokerlink/internal/metrics"
	"brokerlink/internal/portfolio"
	"brokerlink/internal/trading"
	"brokerlink/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/brokerlink.yaml"
	if p := os.Getenv("BROKERLINK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Setup logging.
	logger, err := util.NewLogger(util.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	logger.Info("starting brokerlink-server")
	gin.SetMode(gin.ReleaseMode)

	m := metrics.New()

	// Select the aggregation backend.
	var backend broker.Broker
	if cfg.Trading.PaperMode {
		logger.Warn("paper mode: serving from the in-memory simulator")
		backend = broker.NewSimulatorBroker(broker.SimulatorOptions{})
	} else {
		backend, err = broker.NewSnapTradeBroker(broker.SnapTradeOptions{
			ClientID:        cfg.SnapTrade.ClientID,
			ConsumerKey:     cfg.SnapTrade.ConsumerKey,
			BaseURL:         cfg.SnapTrade.BaseURL,
			Timeout:         cfg.SnapTrade.Timeout,
			RateLimitPerSec: cfg.SnapTrade.RateLimitPerSec,
			Metrics:         m,
			Logger:          logger,
		})
		if err != nil {
			log.Fatalf("creating SnapTrade backend: %v", err)
		}
	}

	opts := httpapi.Options{PathPrefix: cfg.Server.PathPrefix, CORSOrigins: cfg.Server.CORSOrigins}
	if cfg.Analysis.Enabled() {
		pilot, err := analysis.NewPilotClient(analysis.PilotOptions{
			BaseURL: cfg.Analysis.BaseURL,
			APIKey:  cfg.Analysis.APIKey,
			Timeout: cfg.Analysis.Timeout,
			Metrics: m,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("creating portfolio analysis client: %v", err)
		}
		opts.Analysis = analysis.NewService(pilot, backend)
	}

	handler := httpapi.NewServer(
		connection.NewManager(backend, m, logger),
		portfolio.NewService(backend),
		trading.NewService(backend),
		m, logger,
		opts,
	).Handler()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = api.NewServer(cfg, handler, logger).ListenAndServe(ctx)
	if c, ok := backend.(io.Closer); ok {
		_ = c.Close()
	}
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("brokerlink-server stopped")
}
