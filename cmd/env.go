package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricedesk/quotes-cli/internal/backlog"
	"github.com/pricedesk/quotes-cli/internal/extractor"
	"github.com/pricedesk/quotes-cli/internal/pipeline"
	"github.com/pricedesk/quotes-cli/internal/store"
	anthropicpkg "github.com/pricedesk/quotes-cli/pkg/anthropic"
)

// appEnv holds the initialized store and services shared by the
// process/serve/ingest commands.
type appEnv struct {
	Store      store.Store
	Processor  *pipeline.Processor
	Aggregator *pipeline.Aggregator
	Backlog    *backlog.Tracker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, the extraction client, and the pipeline
// services. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		// Messages processed without a key fail as "service unavailable"
		// until an operator configures one and retries.
		zap.L().Warn("QUOTES_ANTHROPIC_KEY not set, extraction disabled")
	}
	ex := extractor.NewAnthropic(client, extractor.AnthropicConfig{
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		RateLimit:   cfg.Anthropic.RateLimit,
		MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
	})

	return &appEnv{
		Store:      st,
		Processor:  pipeline.NewProcessor(st, ex, cfg.Pipeline.Concurrency),
		Aggregator: pipeline.NewAggregator(st),
		Backlog:    backlog.New(st),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "quotes.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
