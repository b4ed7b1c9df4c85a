package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/suPer8Hu/ai-analytics/internal/agent"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/analytics"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/resolvers"
	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
	"github.com/suPer8Hu/ai-analytics/internal/session"
	"github.com/suPer8Hu/ai-analytics/internal/store/boltstore"
	"github.com/suPer8Hu/ai-analytics/internal/store/redisstore"
	"gorm.io/gorm"
)

// App holds the components shared by the api server, the worker and the CLI.
type App struct {
	Config   config.Config
	Registry *ai.Registry
	Sessions *session.Store
	Sandbox  *sandbox.Sandbox
	Agent    *agent.Agent
	Repo     *analytics.Repo

	closers []func() error
}

// NewRegistry registers every supported provider. An empty model falls back
// to the configured default for that provider.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.GeminiModel
		}
		p, err := ai.NewGeminiProvider(ctx, cfg.GoogleAPIKey, m)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	return reg
}

// OpenSessionBackend opens the configured session backend and returns its closer.
func OpenSessionBackend(ctx context.Context, cfg config.Config) (session.Backend, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SessionBackend)) {
	case "", "redis":
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			_ = rds.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return rds, rds.Close, nil
	case "bolt":
		st, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported SESSION_BACKEND=%q", cfg.SessionBackend)
	}
}

// Build wires sessions, providers, the query sandbox and the agent on top of gdb.
func Build(ctx context.Context, cfg config.Config, gdb *gorm.DB) (*App, error) {
	a := &App{Config: cfg, Registry: NewRegistry(cfg)}

	provider, err := a.Registry.GetToolProvider(ctx, cfg.AIProvider, "")
	if err != nil {
		return nil, err
	}

	summaryName := cfg.SummaryProvider
	if strings.TrimSpace(summaryName) == "" {
		summaryName = cfg.AIProvider
	}
	summaryProvider, err := a.Registry.Get(ctx, summaryName, "")
	if err != nil {
		return nil, err
	}

	backend, closeBackend, err := OpenSessionBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)
	a.Sessions = session.NewStore(backend, session.NewModelSummarizer(summaryProvider), cfg.Session)

	guard, err := sandbox.LoadPolicyGuard(ctx, cfg.SQLPolicyFile)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Sandbox = sandbox.New(gdb, sandbox.WithGuard(guard))

	tools := agent.SandboxTools(a.Sandbox, resolvers.NewTreatmentAnalyzer(nil))
	a.Agent = agent.New(provider, tools, cfg.AgentMaxIterations)
	a.Repo = analytics.NewRepo(gdb)

	log.Printf("app: provider=%s summary=%s sessions=%s max_iterations=%d",
		cfg.AIProvider, summaryName, cfg.SessionBackend, cfg.AgentMaxIterations)
	return a, nil
}

// Service builds the analytics service. A nil publisher disables /jobs.
func (a *App) Service(publisher analytics.JobPublisher) *analytics.Service {
	return analytics.NewService(a.Sessions, a.Agent, a.Repo, publisher, a.Config.DBType)
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
