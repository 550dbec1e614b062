package app

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/credential"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Relay is everything the server and the worker share.
type Relay struct {
	Orchestrator *relay.Orchestrator
	Ledger       *quota.Ledger
	Redis        *redisstore.Store
}

func (r *Relay) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}

func NewRegistry(cfg config.Config) (*ai.Registry, error) {
	providers := ai.DefaultProviders(ai.Endpoints{
		OpenAI:            cfg.OpenAIBaseURL,
		Anthropic:         cfg.AnthropicBaseURL,
		Gemini:            cfg.GeminiBaseURL,
		OpenRouter:        cfg.OpenRouterBaseURL,
		Ollama:            cfg.OllamaBaseURL,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	return ai.NewRegistry(providers, ai.DefaultModels(cfg.OllamaBaseURL != ""))
}

func newLocker(ctx context.Context, cfg config.Config) (quota.Locker, *redisstore.Store, error) {
	switch cfg.QuotaLock {
	case "", "memory":
		return quota.NewMemoryLocker(), nil, nil
	case "redis":
		rds := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			_ = rds.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewLocker(rds), rds, nil
	default:
		return nil, nil, fmt.Errorf("unsupported QUOTA_LOCK=%q", cfg.QuotaLock)
	}
}

func NewRelay(ctx context.Context, cfg config.Config, gdb *gorm.DB, log *zap.SugaredLogger) (*Relay, error) {
	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	sealer, err := credential.NewSealer(cfg.CredentialSealKey)
	if err != nil {
		return nil, err
	}

	locker, rds, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ledger := quota.NewLedger(gdb, locker, cfg.QuotaDefaultMax, cfg.QuotaWindow)

	streamer := &ai.Dispatcher{
		SSE: ai.NewSSEStreamer(nil, log.Named("sse")),
		SDK: ai.NewSDKStreamer(nil),
	}

	orch := relay.New(relay.Deps{
		Registry:    reg,
		Chats:       chat.NewService(chat.NewRepo(gdb), cfg.SystemPrompt),
		Credentials: credential.NewResolver(gdb, cfg.SharedKeys(), sealer).WithLocal(cfg.LocalKeys()),
		Quota:       ledger,
		Streamer:    streamer,
		Log:         log.Named("relay"),
	}, relay.Options{
		CheckpointEvery:    cfg.CheckpointEvery,
		UpstreamTimeout:    cfg.UpstreamTimeout,
		ClientWriteTimeout: cfg.ClientWriteTimeout,
	})

	return &Relay{Orchestrator: orch, Ledger: ledger, Redis: rds}, nil
}
