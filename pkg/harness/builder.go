// Package harness builds compiled catalogs for subjects under test. It ties
// together node resolution, the fact environment, manifest synthesis, the
// compilation cache and the external compiler.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyospec/pkg/cache"
	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/facts"
	"github.com/openfroyo/froyospec/pkg/manifest"
	"github.com/openfroyo/froyospec/pkg/telemetry"
)

// Builder produces catalogs for subjects. A Builder is safe for concurrent
// use once constructed.
type Builder struct {
	compiler     engine.Compiler
	cache        *cache.Cache
	provider     engine.FactProvider
	facts        *facts.Builder
	defaultNode  string
	defaultFacts engine.Facts
	computer     facts.Computer
	settings     engine.Settings
	logger       zerolog.Logger
	telemetry    *telemetry.Telemetry
	closers      []func(context.Context) error

	// stubMu serializes compilations against providers that cannot scope
	// facts per compilation.
	stubMu sync.Mutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompiler sets the compiler invoked on cache misses.
func WithCompiler(c engine.Compiler) Option {
	return func(b *Builder) {
		b.compiler = c
	}
}

// WithCache sets the compilation cache. Builders sharing a cache share
// compiled catalogs.
func WithCache(c *cache.Cache) Option {
	return func(b *Builder) {
		b.cache = c
	}
}

// WithFactProvider sets the provider facts are registered with for the
// duration of each compilation.
func WithFactProvider(p engine.FactProvider) Option {
	return func(b *Builder) {
		b.provider = p
	}
}

// WithDefaultNode sets the node identity used when a subject declares none.
func WithDefaultNode(node string) Option {
	return func(b *Builder) {
		b.defaultNode = node
	}
}

// WithDefaultFacts sets the process-wide default facts.
func WithDefaultFacts(env engine.Facts) Option {
	return func(b *Builder) {
		b.defaultFacts = env
	}
}

// WithFactComputer sets a computer deriving per-node default facts.
func WithFactComputer(c facts.Computer) Option {
	return func(b *Builder) {
		b.computer = c
	}
}

// WithSettings sets the process-wide compiler settings.
func WithSettings(s engine.Settings) Option {
	return func(b *Builder) {
		b.settings = s
	}
}

// WithLogger sets the builder logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithTelemetry sets tracing and metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(b *Builder) {
		b.telemetry = t
	}
}

// withCloser registers a resource released by Close.
func withCloser(fn func(context.Context) error) Option {
	return func(b *Builder) {
		b.closers = append(b.closers, fn)
	}
}

// New creates a Builder. Without options it has an in-memory cache, an
// in-process fact registry and no compiler.
func New(opts ...Option) *Builder {
	b := &Builder{
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.With().Str("component", "harness").Logger()
	if b.telemetry == nil {
		b.telemetry = telemetry.Nop()
	}
	if b.cache == nil {
		b.cache = cache.New(cache.WithLogger(b.logger))
	}
	if b.provider == nil {
		b.provider = facts.NewRegistry()
	}

	factOpts := []facts.BuilderOption{
		facts.WithDefaults(b.defaultFacts),
		facts.WithLogger(b.logger),
	}
	if b.computer != nil {
		factOpts = append(factOpts, facts.WithComputer(b.computer))
	}
	b.facts = facts.NewBuilder(factOpts...)

	return b
}

// NodeName resolves the node identity for subject.
func (b *Builder) NodeName(subject *engine.Subject) (string, error) {
	if subject == nil {
		return "", engine.NewUnsupportedSubjectError("no subject", nil)
	}
	node := subject.NodeName(b.defaultNode)
	if node == "" {
		return "", engine.NewConfigurationError("no node name: set a default node or declare one on the subject", nil).
			WithSubject(subject.Name).
			WithCode(engine.ErrCodeMissingNode)
	}
	return node, nil
}

// Manifest returns the synthesized source for subject.
func (b *Builder) Manifest(subject *engine.Subject) (string, error) {
	return manifest.Synthesize(subject)
}

// Facts returns the fact environment subject compiles against.
func (b *Builder) Facts(ctx context.Context, subject *engine.Subject) (engine.Facts, error) {
	node, err := b.NodeName(subject)
	if err != nil {
		return nil, err
	}
	return b.factsFor(ctx, subject, node)
}

func (b *Builder) factsFor(ctx context.Context, subject *engine.Subject, node string) (engine.Facts, error) {
	env, err := b.facts.Build(ctx, node, subject.Facts)
	if err != nil {
		var engineErr *engine.EngineError
		if errors.As(err, &engineErr) && engineErr.Subject == "" {
			engineErr.Subject = subject.Name
		}
		return nil, err
	}
	return env, nil
}

// Stats returns the cache counters.
func (b *Builder) Stats() cache.Stats {
	return b.cache.Stats()
}

// Cache returns the builder's compilation cache.
func (b *Builder) Cache() *cache.Cache {
	return b.cache
}

// BuildCatalog returns the compiled catalog for subject. Structurally equal
// inputs are compiled at most once per cache. The returned catalog may be
// shared and must not be modified.
func (b *Builder) BuildCatalog(ctx context.Context, subject *engine.Subject) (*engine.Catalog, error) {
	timer := telemetry.NewTimer()

	node, err := b.NodeName(subject)
	if err != nil {
		b.recordError(err)
		return nil, err
	}

	kind := string(subject.Kind)
	ctx, span := b.telemetry.Tracer.StartBuildSpan(ctx, kind, subject.Name, node)
	defer span.End()

	catalog, err := b.build(ctx, subject, node)
	if err != nil {
		b.telemetry.Metrics.RecordBuild(kind, "failure", timer.Duration())
		b.recordError(err)
		telemetry.RecordError(span, err)
		b.logger.Error().
			Err(err).
			Str("kind", kind).
			Str("subject", subject.Name).
			Str("node", node).
			Msg("Catalog build failed")
		return nil, err
	}

	b.telemetry.Metrics.RecordBuild(kind, "success", timer.Duration())
	span.SetAttributes(telemetry.AttrResources.Int(len(catalog.Resources)))
	telemetry.RecordSuccess(span)

	return catalog, nil
}

func (b *Builder) build(ctx context.Context, subject *engine.Subject, node string) (*engine.Catalog, error) {
	env, err := b.factsFor(ctx, subject, node)
	if err != nil {
		return nil, err
	}

	src, err := manifest.Synthesize(subject)
	if err != nil {
		return nil, err
	}

	if b.compiler == nil {
		return nil, engine.NewConfigurationError("no compiler configured", nil).
			WithSubject(subject.Name).
			WithNode(node)
	}

	key := cache.Key{Node: node, Facts: env, Manifest: src}
	digest, err := key.Digest()
	if err != nil {
		return nil, engine.NewConfigurationError("facts cannot be used as a cache key", err).
			WithSubject(subject.Name).
			WithNode(node).
			WithCode(engine.ErrCodeInvalidFacts)
	}

	var compiled atomic.Bool
	catalog, err := b.cache.GetOrCompileDigest(ctx, key, digest, func(ctx context.Context) (*engine.Catalog, error) {
		compiled.Store(true)
		return b.compile(ctx, subject, node, digest, env, src)
	})
	if err != nil {
		return nil, err
	}

	hit := !compiled.Load()
	b.telemetry.Metrics.RecordCacheLookup(hit)
	if !hit {
		if n, err := b.cache.Len(ctx); err == nil {
			b.telemetry.Metrics.SetCacheEntries(n)
		}
	}

	b.logger.Debug().
		Str("subject", subject.Name).
		Str("node", node).
		Str("digest", digest).
		Bool("cache_hit", hit).
		Msg("Catalog ready")

	return catalog, nil
}

// compile stages a workspace, scopes facts and runs the compiler. Both are
// released on every path.
func (b *Builder) compile(ctx context.Context, subject *engine.Subject, node, digest string, env engine.Facts, src string) (*engine.Catalog, error) {
	ctx, span := b.telemetry.Tracer.StartCompileSpan(ctx, node, digest)
	defer span.End()

	ws, err := newWorkspace(b.settings.Overlay(subject.Settings), b.logger)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, engine.NewCompilationError("failed to prepare compiler workspace", err).
			WithSubject(subject.Name).
			WithNode(node).
			WithCode(engine.ErrCodeWorkspace)
	}
	defer ws.Close()

	ctx, release := b.scopeFacts(ctx, env)
	defer release()

	req := &engine.CompileRequest{
		Node:     node,
		Facts:    env.Clone(),
		Manifest: src,
		Settings: ws.Settings,
		WorkDir:  ws.WorkDir,
	}

	timer := telemetry.NewTimer()
	catalog, err := b.compiler.Compile(ctx, req)
	if err != nil {
		b.telemetry.Metrics.RecordCompilation("failure", timer.Duration())
		telemetry.RecordError(span, err)
		return nil, wrapCompileError(err, subject, node)
	}
	b.telemetry.Metrics.RecordCompilation("success", timer.Duration())
	telemetry.RecordSuccess(span)

	if catalog != nil && catalog.Name == "" {
		catalog.Name = node
	}
	return catalog, nil
}

// scopeFacts makes env visible to the provider for one compilation. A
// Scoper keeps env on the returned context so concurrent compilations never
// see each other's facts; any other provider is stubbed globally and
// compilations against it run one at a time.
func (b *Builder) scopeFacts(ctx context.Context, env engine.Facts) (context.Context, func()) {
	if s, ok := b.provider.(facts.Scoper); ok {
		return s.Scope(ctx, env)
	}

	b.stubMu.Lock()
	release := facts.StubProvider(b.provider, env)
	return ctx, func() {
		release()
		b.stubMu.Unlock()
	}
}

// wrapCompileError classifies a compiler failure. The compiler's error stays
// reachable through Unwrap and its details are carried over.
func wrapCompileError(err error, subject *engine.Subject, node string) error {
	wrapped := engine.NewCompilationError(fmt.Sprintf("failed to compile %s %s", subject.Kind, subject.Name), err).
		WithSubject(subject.Name).
		WithNode(node)

	var inner *engine.EngineError
	if errors.As(err, &inner) {
		if inner.Code != "" {
			wrapped.WithCode(inner.Code)
		}
		for k, v := range inner.Details {
			wrapped.WithDetail(k, v)
		}
	}
	return wrapped
}

func (b *Builder) recordError(err error) {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		b.telemetry.Metrics.RecordError(string(engineErr.Class), engineErr.Code)
		return
	}
	b.telemetry.Metrics.RecordError("internal", "")
}

// Close releases resources the builder owns, such as a persistent cache or
// a WASM runtime.
func (b *Builder) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
