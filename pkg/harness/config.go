package harness

import (
	"context"
	"os"

	"github.com/openfroyo/froyospec/pkg/cache"
	"github.com/openfroyo/froyospec/pkg/compiler"
	"github.com/openfroyo/froyospec/pkg/config"
	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/facts"
	"github.com/openfroyo/froyospec/pkg/stores"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

// FromConfig builds a Builder from process-wide configuration. Extra options
// are applied after the configured ones. The caller must Close the Builder.
func FromConfig(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, extra ...Option) (*Builder, error) {
	if tel == nil {
		tel = telemetry.Nop()
	}
	logger := tel.Logger.Zerolog()

	defaults, err := cfg.LoadDefaultFacts()
	if err != nil {
		return nil, err
	}

	registry := facts.NewRegistry()
	opts := []Option{
		WithDefaultNode(cfg.Certname),
		WithDefaultFacts(defaults),
		WithSettings(cfg.Settings),
		WithFactProvider(registry),
		WithLogger(logger),
		WithTelemetry(tel),
	}

	computer, err := cfg.FactScriptComputer(logger)
	if err != nil {
		return nil, err
	}
	if computer != nil {
		opts = append(opts, WithFactComputer(computer))
	}

	var closers []func(context.Context) error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
	}

	store, closeStore, err := openStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	opts = append(opts, WithCache(cache.New(cache.WithStore(store), cache.WithLogger(logger))))

	switch cfg.Compiler.Type {
	case config.CompilerExec:
		c, err := compiler.NewExec(compiler.ExecConfig{
			Command: cfg.Compiler.Command,
			Args:    cfg.Compiler.Args,
			Env:     cfg.Compiler.Env,
			Timeout: cfg.Compiler.TimeoutDuration(),
		}, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		opts = append(opts, WithCompiler(c))

	case config.CompilerWASM:
		module, err := os.ReadFile(cfg.Compiler.Module)
		if err != nil {
			cleanup()
			return nil, engine.NewConfigurationError("failed to read compiler module", err).
				WithDetail("path", cfg.Compiler.Module)
		}
		c, err := compiler.NewWASM(ctx, module, compiler.WASMConfig{
			Timeout:          cfg.Compiler.TimeoutDuration(),
			MemoryLimitPages: cfg.Compiler.MemoryLimitPages,
			Facts:            registry,
		}, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, c.Close)
		opts = append(opts, WithCompiler(c))
	}

	for _, fn := range closers {
		opts = append(opts, withCloser(fn))
	}

	return New(append(opts, extra...)...), nil
}

// openStore opens the configured cache backend.
func openStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, func(context.Context) error, error) {
	if cfg.Backend != config.CacheSQLite {
		return cache.NewMemoryStore(), nil, nil
	}
	store, err := stores.Open(ctx, cfg.Path)
	if err != nil {
		return nil, nil, engine.NewConfigurationError("failed to open catalog cache", err).
			WithDetail("path", cfg.Path)
	}
	return store, func(context.Context) error { return store.Close() }, nil
}
