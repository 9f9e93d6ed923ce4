// Package compiler provides implementations of engine.Compiler.
//
// The harness never parses manifests itself. A Compiler receives the
// synthesized manifest, the fact environment and the staged settings, and
// returns a Catalog. This package offers:
//
//   - Func: adapts a plain function, mostly for tests.
//   - Counter: wraps a compiler and counts invocations.
//   - Exec: runs an external compiler binary and decodes its JSON catalog.
//   - WASM: runs a WASI compiler module in-process via wazero.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Func adapts a function to engine.Compiler.
type Func func(ctx context.Context, req *engine.CompileRequest) (*engine.Catalog, error)

// Compile calls f.
func (f Func) Compile(ctx context.Context, req *engine.CompileRequest) (*engine.Catalog, error) {
	return f(ctx, req)
}

// Counter counts invocations of the wrapped compiler.
type Counter struct {
	inner engine.Compiler
	calls atomic.Int64
}

// NewCounter wraps inner.
func NewCounter(inner engine.Compiler) *Counter {
	return &Counter{inner: inner}
}

// Compile increments the counter and delegates.
func (c *Counter) Compile(ctx context.Context, req *engine.CompileRequest) (*engine.Catalog, error) {
	c.calls.Add(1)
	return c.inner.Compile(ctx, req)
}

// Calls returns how many times Compile was invoked.
func (c *Counter) Calls() int64 {
	return c.calls.Load()
}

// DecodeCatalog parses compiler JSON output into a catalog. A missing name
// defaults to node and a missing timestamp to now.
func DecodeCatalog(data []byte, node string) (*engine.Catalog, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, engine.NewCompilationError("compiler produced no output", nil).
			WithCode(engine.ErrCodeInvalidCatalog).
			WithNode(node)
	}

	var catalog engine.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, engine.NewCompilationError("failed to decode catalog", err).
			WithCode(engine.ErrCodeInvalidCatalog).
			WithNode(node)
	}

	if catalog.Name == "" {
		catalog.Name = node
	}
	if catalog.CompiledAt.IsZero() {
		catalog.CompiledAt = time.Now().UTC()
	}
	for i, r := range catalog.Resources {
		if r.Type == "" || r.Title == "" {
			return nil, engine.NewCompilationError(
				fmt.Sprintf("resource %d has no type or title", i), nil).
				WithCode(engine.ErrCodeInvalidCatalog).
				WithNode(node)
		}
	}

	return &catalog, nil
}
