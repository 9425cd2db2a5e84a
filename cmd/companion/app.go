package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/companion/agent/brain"
	"github.com/BaSui01/companion/agent/memory"
	"github.com/BaSui01/companion/agent/moderation"
	"github.com/BaSui01/companion/agent/persistence"
	"github.com/BaSui01/companion/agent/prompt"
	"github.com/BaSui01/companion/agent/ratelimit"
	"github.com/BaSui01/companion/agent/runtime"
	"github.com/BaSui01/companion/config"
	"github.com/BaSui01/companion/internal/cache"
	"github.com/BaSui01/companion/internal/database"
	"github.com/BaSui01/companion/internal/metrics"
	"github.com/BaSui01/companion/llm"
	"github.com/BaSui01/companion/llm/providers/openai"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// storage 只依赖数据库的命令使用的最小装配
type storage struct {
	pool   *database.PoolManager
	store  *persistence.Store
	logger *zap.Logger
}

func openStorage(cfg *config.Config, logger *zap.Logger) (*storage, error) {
	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &storage{
		pool:   pool,
		store:  persistence.NewStore(pool.DB(), logger),
		logger: logger,
	}, nil
}

func (s *storage) Close() error {
	return s.pool.Close()
}

// app 对话所需的完整依赖图
type app struct {
	*storage

	cfg       *config.Config
	registry  *prometheus.Registry
	collector *metrics.Collector
	cache     *cache.Manager
	llm       *llm.Client
	moderator *moderation.Moderator
	memory    *memory.Manager
	runtime   *runtime.Runtime
	brain     *brain.Brain
}

// buildApp 按依赖顺序装配：存储 → Redis → LLM → 审核/记忆/Prompt → 运行时 → 引擎
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	st, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	a = &app{storage: st, cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := st.store.Migrate(ctx); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)

	a.cache, err = cache.NewManager(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	limiter := ratelimit.NewLimiter(a.cache.Client(), ratelimit.ConfigFrom(cfg.RateLimit),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(a.collector))

	provider := openai.NewProvider(openai.ConfigFrom(cfg.LLM), logger)
	var classifier llm.SafetyClassifier
	if cfg.LLM.ModerationModel != "" {
		classifier = provider
	}
	a.llm = llm.NewClient(provider, provider, classifier, llm.ClientConfigFrom(cfg.LLM),
		llm.WithLogger(logger),
		llm.WithMetrics(a.collector))

	var modClassifier moderation.Classifier
	if classifier != nil {
		modClassifier = a.llm
	}
	a.moderator = moderation.NewModerator(cfg.Moderation, modClassifier, a.collector, logger)

	a.memory = memory.NewManager(st.store, a.llm, a.llm, cfg.Memory,
		memory.WithLogger(logger),
		memory.WithMetrics(a.collector))

	a.runtime, err = runtime.New(runtime.Deps{
		Store:     st.store,
		Limiter:   limiter,
		Moderator: a.moderator,
		Memory:    a.memory,
		Prompt:    prompt.NewAssembler(cfg.Prompt, nil, logger),
		LLM:       a.llm,
	}, runtime.ConfigFrom(cfg.Runtime, cfg.Prompt, cfg.Memory),
		runtime.WithLogger(logger),
		runtime.WithMetrics(a.collector))
	if err != nil {
		return nil, err
	}

	a.brain = brain.New(cfg.Brain, brain.WithLogger(logger), brain.WithMetrics(a.collector))
	strikes := brain.NewRedisStrikes(a.cache.Client(), "", cfg.Moderation.StrikeWindow)
	for _, e := range []brain.Engine{
		brain.NewModerationEngine(a.moderator, strikes, cfg.Moderation, logger),
		brain.NewConversationEngine(a.runtime, logger),
	} {
		if err := a.brain.Register(e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Close 等待后台抽取结束后依次释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.runtime != nil {
		if err := a.runtime.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain runtime: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
