package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/PabloGalante/aris-agent/internal/adapters/llm"
	"github.com/PabloGalante/aris-agent/internal/adapters/speech"
	firestorestore "github.com/PabloGalante/aris-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/aris-agent/internal/adapters/storage/memory"
	redisstore "github.com/PabloGalante/aris-agent/internal/adapters/storage/redis"
	sqlstore "github.com/PabloGalante/aris-agent/internal/adapters/storage/sql"
	"github.com/PabloGalante/aris-agent/internal/app/conversation"
	"github.com/PabloGalante/aris-agent/internal/app/pipeline"
	"github.com/PabloGalante/aris-agent/internal/config"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// app is everything a command needs, plus what must be closed on exit.
type app struct {
	cfg      *config.Config
	svc      *conversation.Service
	registry *prometheus.Registry
	closers  []io.Closer
}

func (a *app) Close() error {
	if a.svc != nil {
		a.svc.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := observability.Logger()
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(a.registry)

	lang, err := buildLanguageService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resilient := llm.NewResilient(lang, resilientConfig(cfg), metrics)

	sessions, messages, err := buildStorage(ctx, cfg, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var tts domain.SpeechSynthesizer = speech.Noop{}
	if cfg.AMQPURL != "" {
		pub, err := speech.NewQueuePublisher(cfg.AMQPURL, cfg.TTSQueue)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub)
		tts = pub
		log.Info("speech jobs enabled", "queue", cfg.TTSQueue)
	}

	opts := conversation.DefaultOptions()
	opts.RecordCrisisTurns = cfg.CrisisPolicy == config.CrisisRecord
	opts.PersistDistortion = cfg.DistortionPolicy == config.DistortionAnnotate
	opts.HistoryWindow = cfg.HistoryWindow
	opts.Metrics = metrics

	a.svc = conversation.NewService(
		pipeline.NewDefaultOrchestrator(resilient, metrics),
		sessions,
		messages,
		tts,
		opts,
	)
	return a, nil
}

func buildLanguageService(ctx context.Context, cfg *config.Config) (domain.LanguageService, error) {
	log := observability.Logger()
	if cfg.UseMockLLM {
		log.Info("using mock language service")
		return llm.NewMockLLM(), nil
	}

	log.Info("using gemini language service", "model", cfg.ModelName, "project", cfg.GCPProjectID)
	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		Project:   cfg.GCPProjectID,
		Location:  cfg.GCPLocation,
		APIKey:    cfg.GeminiAPIKey,
		ModelName: cfg.ModelName,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing gemini client: %w", err)
	}
	return client, nil
}

func resilientConfig(cfg *config.Config) llm.ResilientConfig {
	rc := llm.DefaultResilientConfig()
	rc.Timeout = cfg.LLMTimeout
	rc.Crisis.MaxRetries = cfg.CrisisRetries
	rc.Crisis.BaseDelay = cfg.RetryBaseDelay
	rc.Reply.MaxRetries = cfg.ReplyRetries
	rc.Reply.BaseDelay = cfg.RetryBaseDelay
	rc.Distortion.MaxRetries = cfg.DistortionRetries
	rc.Distortion.BaseDelay = cfg.RetryBaseDelay
	return rc
}

func buildStorage(ctx context.Context, cfg *config.Config, a *app) (domain.SessionStore, domain.SessionLog, error) {
	log := observability.Logger()

	switch cfg.StorageBackend {
	case "firestore":
		log.Info("using firestore storage", "project", cfg.GCPProjectID)
		st, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing firestore store: %w", err)
		}
		a.closers = append(a.closers, st)
		return st, st, nil

	case "redis":
		log.Info("using redis storage", "addr", cfg.RedisAddr)
		st, err := redisstore.NewStore(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initializing redis store: %w", err)
		}
		a.closers = append(a.closers, st)
		return st, st, nil

	case "sql":
		log.Info("using sql storage", "driver", cfg.SQLDriver)
		st, err := sqlstore.Open(cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing sql store: %w", err)
		}
		a.closers = append(a.closers, st)
		return st, st, nil

	default:
		log.Info("using in-memory storage")
		return memstore.NewSessionStore(), memstore.NewMessageStore(), nil
	}
}
