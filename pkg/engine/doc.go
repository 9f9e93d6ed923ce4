// Package engine provides the core types shared by the froyospec catalog harness.
//
// # Overview
//
// froyospec lets a test compile a unit under test into a catalog and assert on
// the result. A request flows through four stages:
//
//  1. Node - resolve the node identity for the Subject
//  2. Facts - build the layered fact environment (pkg/facts)
//  3. Manifest - synthesize source text exercising the Subject (pkg/manifest)
//  4. Compile - compile through the memoizing cache (pkg/cache, pkg/harness)
//
// # Core Domain Types
//
//   - Subject: the class, definition, host or function under test
//   - Params: insertion-ordered parameters, nil when undeclared
//   - Facts: the fact environment handed to the compiler
//   - Settings: compiler working settings staged per compilation
//   - Catalog: the compiled, read-only result
//
// # Compiler Boundary
//
// The configuration-language compiler is an external collaborator:
//
//	type Compiler interface {
//	    Compile(ctx context.Context, req *CompileRequest) (*Catalog, error)
//	}
//
// Facts are also registered with a FactProvider for compilers that look facts
// up by name instead of reading them from the request.
//
// # Errors
//
// All harness failures are *EngineError values classified as
// unsupported_subject, compilation or configuration. Use IsUnsupportedSubject,
// IsCompilation and IsConfiguration to branch on them. Nothing is retried:
// compilation is deterministic given its inputs.
package engine
