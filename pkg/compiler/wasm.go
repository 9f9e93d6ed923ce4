package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Guest mount points for the staged directories.
const (
	GuestModulePath = "/modules"
	GuestVarDir     = "/var"
	GuestWorkDir    = "/work"
)

// FactNotFound is returned by the lookup_fact host function for unknown names.
const FactNotFound = ^uint32(0)

// FactLookup resolves a fact by name as seen from the compilation context.
type FactLookup interface {
	LookupContext(ctx context.Context, name string) (any, bool)
}

// WASMConfig configures a WASM compiler.
type WASMConfig struct {
	// Timeout bounds one compilation. Default is 30 seconds.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	// Default is 512 pages (32MB).
	MemoryLimitPages uint32

	// Facts backs the lookup_fact host function. When nil, the request's
	// fact environment is used.
	Facts FactLookup
}

// WASM runs a WASI compiler module. The module reads the JSON compile
// request from stdin and writes the JSON catalog to stdout. The module path
// is mounted read-only at /modules, the var dir at /var and the
// compilation's private working directory at /work.
//
// The host module "env" exports lookup_fact(name_ptr, name_len, out_ptr,
// out_cap) -> len, which writes the JSON-encoded fact value into guest
// memory. When the value does not fit, nothing is written and the required
// length is returned.
type WASM struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	cfg      WASMConfig
	logger   zerolog.Logger
}

var _ engine.Compiler = (*WASM)(nil)

type requestFactsKey struct{}

// NewWASM compiles wasmModule and prepares a runtime for it.
func NewWASM(ctx context.Context, wasmModule []byte, cfg WASMConfig, logger zerolog.Logger) (*WASM, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 512
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	w := &WASM{
		runtime: runtime,
		cfg:     cfg,
		logger:  logger.With().Str("component", "wasm-compiler").Logger(),
	}

	builder := runtime.NewHostModuleBuilder("env")
	w.registerHostFunctions(builder)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, engine.NewConfigurationError("failed to compile WASM module", err)
	}
	w.compiled = compiled

	return w, nil
}

// registerHostFunctions registers host functions that the guest can call.
func (w *WASM) registerHostFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, outPtr, outCap uint32) uint32 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return FactNotFound
			}

			value, found := w.lookup(ctx, string(nameBytes))
			if !found {
				return FactNotFound
			}

			data, err := json.Marshal(value)
			if err != nil {
				return FactNotFound
			}
			if uint32(len(data)) > outCap {
				return uint32(len(data))
			}
			if !mod.Memory().Write(outPtr, data) {
				return FactNotFound
			}
			return uint32(len(data))
		}).
		Export("lookup_fact")
}

func (w *WASM) lookup(ctx context.Context, name string) (any, bool) {
	if w.cfg.Facts != nil {
		return w.cfg.Facts.LookupContext(ctx, name)
	}
	if env, ok := ctx.Value(requestFactsKey{}).(engine.Facts); ok {
		v, found := env[name]
		return v, found
	}
	return nil, false
}

// Compile instantiates the module once for req.
func (w *WASM) Compile(ctx context.Context, req *engine.CompileRequest) (*engine.Catalog, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, engine.NewCompilationError("failed to encode request", err).WithNode(req.Node)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, requestFactsKey{}, req.Facts)

	var stdout, stderr bytes.Buffer
	fsConfig := wazero.NewFSConfig()
	if req.Settings.ModulePath != "" {
		fsConfig = fsConfig.WithReadOnlyDirMount(req.Settings.ModulePath, GuestModulePath)
	}
	if req.Settings.VarDir != "" {
		fsConfig = fsConfig.WithDirMount(req.Settings.VarDir, GuestVarDir)
	}
	if req.WorkDir != "" {
		fsConfig = fsConfig.WithDirMount(req.WorkDir, GuestWorkDir)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs("compiler", req.Node).
		WithEnv("FROYOSPEC_NODE", req.Node).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(fsConfig).
		WithSysWalltime().
		WithSysNanotime()

	start := time.Now()
	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, moduleConfig)
	duration := time.Since(start)

	if mod != nil {
		_ = mod.Close(ctx)
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		err = nil
	}
	if err != nil {
		cerr := engine.NewCompilationError("WASM compiler failed", err).
			WithNode(req.Node).
			WithDetail("stderr", stderr.String()).
			WithDetail("duration", duration.String())
		if exitErr != nil {
			cerr = cerr.WithDetail("exit_code", exitErr.ExitCode())
		}
		return nil, cerr
	}

	w.logger.Debug().
		Str("node", req.Node).
		Int("stdout_bytes", stdout.Len()).
		Dur("duration", duration).
		Msg("WASM compiler finished")

	return DecodeCatalog(stdout.Bytes(), req.Node)
}

// Close closes the runtime and releases resources.
func (w *WASM) Close(ctx context.Context) error {
	if w.runtime != nil {
		if err := w.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}
	return nil
}
