package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evrane/drover"
	"github.com/evrane/drover/code"
	"github.com/evrane/drover/internal/config"
	"github.com/evrane/drover/observer"
	"github.com/evrane/drover/provider/resolve"
	"github.com/evrane/drover/report"
	"github.com/evrane/drover/store/badger"
	"github.com/evrane/drover/store/memory"
	"github.com/evrane/drover/store/postgres"
	"github.com/evrane/drover/store/sqlite"
	"github.com/evrane/drover/tools/document"
	"github.com/evrane/drover/tools/file"
	"github.com/evrane/drover/tools/jsondata"
	"github.com/evrane/drover/tools/shell"
	"github.com/evrane/drover/tools/web"
)

// app wires config into a live runtime. Built once per command invocation
// and closed when the command returns.
type app struct {
	cfg      config.Config
	store    drover.Store
	runtime  *drover.Runtime
	registry *drover.LLMRegistry
	inst     *observer.Instruments

	observerShutdown func(context.Context) error
}

// resolveRefs registers and resolves a per-level model override, e.g. from a
// profile. Levels left empty fall back to the configured defaults.
func (a *app) resolveRefs(refs drover.ModelRefs) (drover.ModelSet, error) {
	defaults := a.cfg.Models
	if refs.Easy == "" {
		refs.Easy = defaults.Easy
	}
	if refs.Medium == "" {
		refs.Medium = defaults.Medium
	}
	if refs.Hard == "" {
		refs.Hard = defaults.Hard
	}
	for _, id := range []string{refs.Easy, refs.Medium, refs.Hard, refs.XHard} {
		if id == "" {
			continue
		}
		if _, err := a.registry.Resolve(id); err == nil {
			continue
		}
		if err := registerModel(a.registry, a.cfg, id, a.inst); err != nil {
			return drover.ModelSet{}, err
		}
	}
	return a.registry.ResolveSet(refs)
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load(configPath)
	a := &app{cfg: cfg}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var err error
		inst, a.observerShutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.inst = inst
	}

	registry := drover.NewLLMRegistry()
	a.registry = registry
	refs := drover.ModelRefs{
		Easy:   cfg.Models.Easy,
		Medium: cfg.Models.Medium,
		Hard:   cfg.Models.Hard,
		XHard:  cfg.Models.XHard,
	}
	for _, id := range []string{refs.Easy, refs.Medium, refs.Hard, refs.XHard} {
		if id == "" {
			continue
		}
		if err := registerModel(registry, cfg, id, inst); err != nil {
			a.close()
			return nil, err
		}
	}
	models, err := registry.ResolveSet(refs)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resolve models: %w", err)
	}

	factory := drover.NewFunctionFactory()
	ws := cfg.Code.Workspace
	factory.Register("shell", func() drover.Tool { return shell.New(ws, cfg.Code.TimeoutSecs) })
	factory.Register("file", func() drover.Tool { return file.New(ws) })
	factory.Register("web", func() drover.Tool { return web.New() })
	factory.Register("document", func() drover.Tool { return document.New(ws) })
	factory.Register("jsondata", func() drover.Tool { return jsondata.New() })

	completions := drover.NewCompletionRegistry()

	hydrator := &drover.Hydrator{
		Factory:     factory,
		LLMs:        registry,
		Users:       drover.StaticUsers{},
		Completions: completions,
	}

	store, err := openStore(ctx, cfg.Store, hydrator)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	completions.Register(report.NewCompletion(store, "reports"))

	runner, err := buildRunner(cfg.Code)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []drover.RuntimeOption{
		drover.WithModels(models),
		drover.WithFunctionFactory(factory),
		drover.WithCompletionRegistry(completions),
		drover.WithCodeRunner(runner),
	}
	if verboseFlag {
		opts = append(opts, drover.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	if n := cfg.Guard.MaxFunctionCalls; n > 0 {
		opts = append(opts, drover.WithMaxFunctionCalls(n))
	}
	if kw := cfg.Guard.BlockedKeywords; len(kw) > 0 {
		opts = append(opts, drover.WithGuards(drover.NewKeywordGuard(kw...)))
	}
	if inst != nil {
		opts = append(opts,
			drover.WithTracer(observer.NewTracer()),
			drover.WithEvents(observer.NewEventRecorder(inst)),
		)
	}
	a.runtime = drover.NewRuntime(store, opts...)
	return a, nil
}

func registerModel(registry *drover.LLMRegistry, cfg config.Config, id string, inst *observer.Instruments) error {
	provider, model := config.ProviderOf(id)
	pc := cfg.Provider[provider]

	m, err := resolve.LLM(resolve.Config{
		Provider:     provider,
		APIKey:       pc.APIKey,
		Model:        model,
		BaseURL:      pc.BaseURL,
		RPM:          pc.RPM,
		TPM:          pc.TPM,
		RetryMax:     pc.RetryMax,
		RetryTimeout: time.Duration(pc.RetryTimeoutSecs) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("model %s: %w", id, err)
	}
	if inst != nil {
		m = observer.WrapLLM(m, inst)
	}
	registry.RegisterLLM(m)
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, h *drover.Hydrator) (drover.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(h), nil
	case "sqlite", "":
		return sqlite.New(cfg.Path, h), nil
	case "badger":
		return badger.Open(cfg.Path, h)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool, h), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildRunner(cfg config.CodeConfig) (drover.CodeRunner, error) {
	timeout := code.WithTimeout(time.Duration(cfg.TimeoutSecs) * time.Second)
	switch cfg.Runner {
	case "subprocess", "":
		return code.NewSubprocessRunner("python3", timeout, code.WithWorkspace(cfg.Workspace)), nil
	case "docker":
		return code.NewDockerRunner(timeout, code.WithWorkspace(cfg.Workspace), code.WithImage(cfg.Image))
	case "http":
		if cfg.SandboxURL == "" {
			return nil, fmt.Errorf("http code runner requires sandbox_url")
		}
		return code.NewHTTPRunner(cfg.SandboxURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown code runner %q", cfg.Runner)
	}
}

func (a *app) close() {
	if a.runtime != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.runtime.Shutdown(ctx)
		cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.observerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.observerShutdown(ctx)
		cancel()
	}
}
