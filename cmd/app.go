package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
	"github.com/MimeLyc/bazarr-autotranslate/internal/config"
	"github.com/MimeLyc/bazarr-autotranslate/internal/eligibility"
	"github.com/MimeLyc/bazarr-autotranslate/internal/metrics"
	"github.com/MimeLyc/bazarr-autotranslate/internal/service"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

type app struct {
	cfg      *config.Config
	logger   *log.Logger
	registry *prometheus.Registry
	svc      *service.TransService
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) *log.Logger {
	logger, err := log.New(log.Options{
		Level:  log.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	log.InitLogger(logger)
	if err != nil {
		log.Warn("Logging to console only: %v", err)
	}
	return logger
}

// bootstrap wires the Bazarr client, the eligibility selector and metrics
// into a runnable service.
func bootstrap(opts ...service.ServiceOption) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := initLogger(cfg)

	loc, err := cfg.System.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %w", err)
	}

	client, err := bazarr.NewClient(bazarr.Config{
		BaseURL:   cfg.Bazarr.BaseURL(),
		APIKey:    cfg.Bazarr.APIKey,
		RateLimit: cfg.Bazarr.RateLimit,
		Timeouts:  bazarr.DefaultTimeouts(),
	})
	if err != nil {
		return nil, service.WrapError(err, service.ErrConfig, "create bazarr client")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	selector := eligibility.NewSelector(cfg.Translate.SecondLang, eligibility.WithLocation(loc))
	driver := service.NewDriver(client, cfg.Translate.FirstLang, selector,
		service.WithRecorder(collector),
		service.WithLogger(logger),
	)

	opts = append([]service.ServiceOption{service.WithMetrics(collector, registry)}, opts...)
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		svc:      service.NewRunnableTransService(*cfg, driver, opts...),
	}, nil
}

func (a *app) Close() {
	if err := a.logger.Close(); err != nil {
		log.Warn("Failed to close log file: %v", err)
	}
}
