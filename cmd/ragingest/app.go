package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/floringheorghiu/multilingual-rag/internal/chunker"
	"github.com/floringheorghiu/multilingual-rag/internal/config"
	"github.com/floringheorghiu/multilingual-rag/internal/detector"
	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/extract"
	"github.com/floringheorghiu/multilingual-rag/internal/index"
	"github.com/floringheorghiu/multilingual-rag/internal/metrics"
	"github.com/floringheorghiu/multilingual-rag/internal/pipeline"
	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/internal/searcher"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/internal/tokens"
	"github.com/floringheorghiu/multilingual-rag/internal/translator"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *storage.SQLiteStorage
	extractor  *extract.Registry
	detector   *detector.Detector
	translator *translator.Translator // nil when translation is off
	embedder   *embedder.Service
	writer     *index.Writer
	searcher   *searcher.Searcher // nil for remote indexes
	pipeline   *pipeline.Pipeline
	metrics    *metrics.Provider
}

// newApp wires every stage from cfg. Providers without credentials fall
// back to their offline versions: lexical detection, local embeddings and
// the SQLite index. Translation is disabled without a translator.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	if a.metrics, err = metrics.Setup(); err != nil {
		_ = a.close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	p := cfg.Processing

	a.extractor = extract.New(p.SupportedFormats)

	var (
		detectProvider detector.Provider = detector.NewLexicalProvider()
		client         *translator.Client
	)
	if cfg.TranslatorConfigured() {
		c, err := translator.NewClient(translator.ClientConfig{
			Endpoint:          cfg.Translator.Endpoint,
			SubscriptionKey:   cfg.Translator.SubscriptionKey,
			Region:            cfg.Translator.Region,
			APIVersion:        cfg.Translator.APIVersion,
			Timeout:           cfg.Translator.Timeout,
			RequestsPerSecond: cfg.Translator.RequestsPerSecond,
		})
		if err != nil {
			return err
		}
		client = c
		detectProvider = c
	} else {
		a.logger.Info("translator not configured, using lexical language detection without translation")
	}

	a.detector = detector.New(detectProvider, detector.Config{
		Threshold:          p.ConfidenceThreshold,
		SupportedLanguages: p.SupportedLanguages,
	}, detector.WithLogger(a.logger), detector.WithRetryPolicy(a.policy(detectProvider.Name())))

	if client != nil && p.TranslationEnabled {
		a.translator = translator.New(client, translator.Config{
			BatchSize:          cfg.Translator.BatchSize,
			MaxCharsPerRequest: cfg.Translator.MaxCharsPerRequest,
			SupportedLanguages: p.SupportedLanguages,
		}, translator.WithLogger(a.logger), translator.WithRetryPolicy(a.policy(client.Name())))
	}

	providerCfg := embedder.ProviderConfig{
		Provider:   cfg.Embedding.Provider,
		Endpoint:   cfg.Embedding.Endpoint,
		APIKey:     cfg.Embedding.APIKey,
		Deployment: cfg.Embedding.Deployment,
		Model:      cfg.Embedding.Model,
		APIVersion: cfg.Embedding.APIVersion,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
	}
	// local embeddings have no tokenizer to match
	var counter tokens.Counter = tokens.Estimate{}
	if embedder.DetectProvider(providerCfg) != embedder.ProviderLocal {
		counter = tokens.ForModel(cfg.Embedding.Model)
	}

	chunks, err := chunker.New(chunker.Config{
		ChunkSize:     p.ChunkSize,
		Overlap:       p.ChunkOverlap,
		MinChunkChars: p.MinChunkSize,
		HashInID:      p.HashInChunkID,
	}, chunker.WithCounter(counter))
	if err != nil {
		return err
	}

	provider, err := embedder.NewProvider(providerCfg)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.embedder, err = embedder.New(provider, embedder.Config{
		BatchSize:       cfg.Embedding.BatchSize,
		MaxChars:        cfg.Embedding.MaxChars,
		TokensPerMinute: cfg.Embedding.TokensPerMinute,
		Concurrency:     cfg.Embedding.Concurrency,
		CacheSize:       cfg.Embedding.CacheSize,
	},
		embedder.WithLogger(a.logger),
		embedder.WithRetryPolicy(a.policy(provider.Name())),
		embedder.WithCounter(counter),
	)
	if err != nil {
		_ = provider.Close()
		return err
	}

	var backend index.Backend
	if cfg.SearchConfigured() {
		backend, err = index.NewAzureBackend(index.AzureConfig{
			Endpoint:   cfg.SearchEndpoint(),
			AdminKey:   cfg.Search.AdminKey,
			APIVersion: cfg.Search.APIVersion,
			Timeout:    cfg.Search.Timeout,
		})
		if err != nil {
			return err
		}
	} else {
		backend = index.NewLocalBackend(a.store)
		a.searcher = searcher.New(a.store, a.embedder)
	}
	a.writer = index.NewWriter(backend, index.Config{
		IndexName: cfg.Search.IndexName,
		Dimension: a.embedder.Dimension(),
		BatchSize: cfg.Search.BatchSize,
	}, index.WithLogger(a.logger), index.WithRetryPolicy(a.policy(backend.Name())))

	stages := pipeline.Stages{
		Extractor: a.extractor,
		Detector:  a.detector,
		Chunker:   chunks,
		Embedder:  a.embedder,
		Writer:    a.writer,
		Ledger:    a.store,
	}
	if a.translator != nil {
		stages.Translator = a.translator
	}
	a.pipeline, err = pipeline.New(stages, pipeline.Config{
		MaxConcurrentFiles: p.MaxConcurrentFiles,
		MinTextChars:       p.MinTextChars,
		TranslationEnabled: a.translator != nil,
		ForceTranslation:   p.ForceTranslation,
		TargetLanguage:     p.TargetLanguage,
	}, pipeline.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.logger.Debug("components ready",
		"detector", a.detector.Provider(),
		"translation", a.translator != nil,
		"embedder", a.embedder.Provider(),
		"model", a.embedder.Model(),
		"index_backend", a.writer.Backend(),
		"index", a.writer.IndexName(),
		"sqlite_driver", storage.DriverName,
	)
	return nil
}

// policy returns a retry policy for provider that logs and counts retries.
func (a *app) policy(provider string) *retry.Policy {
	r := a.cfg.Retry
	return retry.New(retry.Config{
		MaxRetries:    r.MaxRetries,
		BaseDelay:     r.BaseDelay,
		MaxDelay:      r.MaxDelay,
		JitterPercent: retry.DefaultJitterPercent,
	}).OnRetry(func(attempt int, delay time.Duration, err error) {
		a.logger.Warn("retrying provider call",
			"provider", provider, "attempt", attempt, "delay", delay, "error", err)
		metrics.RecordRetry(context.Background(), provider, types.CodeOf(err))
	})
}

// ensureIndex creates the index when it is missing.
func (a *app) ensureIndex(ctx context.Context) error {
	created, err := a.writer.EnsureIndex(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to prepare index %s: %w", a.writer.IndexName(), err)
	}
	if created {
		a.logger.Info("created index", "index", a.writer.IndexName(), "backend", a.writer.Backend())
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
