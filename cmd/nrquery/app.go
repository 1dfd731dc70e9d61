package main

import (
	"log/slog"

	"github.com/miradorstack/nrquery/internal/cache"
	"github.com/miradorstack/nrquery/internal/config"
	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/nerdgraph"
	"github.com/miradorstack/nrquery/internal/utils"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	cache  cache.Provider
	client *nerdgraph.Client
	runner *engine.Runner
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, utils.Wrap("config.Load", "load config", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.jsonLogs {
		cfg.Logging.JSON = true
	}

	logger := utils.NewLogger(utils.LogOptions{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	provider, err := cache.New(cache.Options{
		Enabled: cfg.Cache.Enabled,
		Backend: cfg.Cache.Backend,
		Valkey: cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		},
		Path:     cfg.Cache.Path,
		Compress: cfg.Cache.Compress,
	})
	if err != nil {
		logger.Warn("query cache unavailable, continuing without it",
			slog.String("backend", cfg.Cache.Backend), slog.Any("error", err))
		provider = cache.NoopProvider{}
	}

	client, err := nerdgraph.NewClient(nerdgraph.Config{
		Endpoint:   cfg.NerdGraph.Endpoint,
		AccountID:  cfg.NerdGraph.AccountID,
		APIKey:     cfg.NerdGraph.APIKey,
		Timeout:    cfg.NerdGraph.Timeout,
		MaxRetries: cfg.NerdGraph.MaxRetries,
		RetryMin:   cfg.NerdGraph.RetryMin,
		RetryMax:   cfg.NerdGraph.RetryMax,
	}, nerdgraph.WithCache(provider, cfg.Cache.TTL), nerdgraph.WithLogger(logger))
	if err != nil {
		_ = provider.Close()
		return nil, utils.Wrap("nerdgraph.NewClient", "set NRACCOUNT and NRAPIKEY or configure nerdgraph credentials", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		cache:  provider,
		client: client,
		runner: engine.NewRunner(logger, client),
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("close cache", slog.Any("error", err))
	}
}
