package compiler

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyospec/pkg/engine"
	"github.com/openfroyo/froyospec/pkg/facts"
)

// File names written into the working directory before an Exec compilation.
const (
	ManifestFile = "froyospec.pp"
	FactsFile    = "facts.yaml"
)

// ExecConfig configures an Exec compiler.
type ExecConfig struct {
	// Command is the compiler executable.
	Command string

	// Args are passed to Command after placeholder expansion. Recognized
	// placeholders: {node} {manifest} {facts} {workdir} {modulepath}
	// {vardir} {hiera_config} {libdir}.
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	// Timeout bounds one compilation. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Exec runs an external compiler process. The manifest and facts are
// written to the request's private working directory and the request is
// sent as JSON on stdin. The catalog is read as JSON from stdout.
type Exec struct {
	cfg    ExecConfig
	logger zerolog.Logger
}

var _ engine.Compiler = (*Exec)(nil)

// NewExec creates an Exec compiler.
func NewExec(cfg ExecConfig, logger zerolog.Logger) (*Exec, error) {
	if cfg.Command == "" {
		return nil, engine.NewConfigurationError("compiler command is required", nil)
	}
	return &Exec{
		cfg:    cfg,
		logger: logger.With().Str("component", "exec-compiler").Logger(),
	}, nil
}

// Compile runs the compiler for req.
func (e *Exec) Compile(ctx context.Context, req *engine.CompileRequest) (*engine.Catalog, error) {
	workDir := req.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "froyospec-exec-")
		if err != nil {
			return nil, engine.NewCompilationError("failed to create working directory", err).
				WithCode(engine.ErrCodeWorkspace)
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	manifestPath := filepath.Join(workDir, ManifestFile)
	if err := os.WriteFile(manifestPath, []byte(req.Manifest+"\n"), 0o644); err != nil {
		return nil, engine.NewCompilationError("failed to write manifest", err).
			WithCode(engine.ErrCodeWorkspace)
	}

	factsData, err := facts.Marshal(req.Facts)
	if err != nil {
		return nil, engine.NewCompilationError("failed to encode facts", err).WithNode(req.Node)
	}
	factsPath := filepath.Join(workDir, FactsFile)
	if err := os.WriteFile(factsPath, factsData, 0o644); err != nil {
		return nil, engine.NewCompilationError("failed to write facts", err).
			WithCode(engine.ErrCodeWorkspace)
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, engine.NewCompilationError("failed to encode request", err).WithNode(req.Node)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	replacer := strings.NewReplacer(
		"{node}", req.Node,
		"{manifest}", manifestPath,
		"{facts}", factsPath,
		"{modulepath}", req.Settings.ModulePath,
		"{workdir}", workDir,
		"{vardir}", cmp.Or(req.Settings.VarDir, workDir),
		"{hiera_config}", req.Settings.HieraConfig,
		"{libdir}", req.Settings.LibDir,
	)
	args := make([]string, len(e.cfg.Args))
	for i, a := range e.cfg.Args {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), settingsEnv(req, workDir)...)
	cmd.Env = append(cmd.Env, e.cfg.Env...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug().
		Str("command", e.cfg.Command).
		Strs("args", args).
		Str("node", req.Node).
		Msg("Running compiler")

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		cerr := engine.NewCompilationError("compiler failed", runErr).
			WithNode(req.Node).
			WithDetail("stderr", strings.TrimSpace(stderr.String())).
			WithDetail("duration", duration.String())
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			cerr = cerr.WithDetail("exit_code", exitErr.ExitCode())
		}
		if ctx.Err() != nil {
			cerr = cerr.WithDetail("timeout", e.cfg.Timeout.String())
		}
		return nil, cerr
	}

	if stderr.Len() > 0 {
		e.logger.Debug().Str("stderr", stderr.String()).Msg("Compiler diagnostics")
	}

	catalog, err := DecodeCatalog(stdout.Bytes(), req.Node)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("node", req.Node).
		Int("resources", len(catalog.Resources)).
		Dur("duration", duration).
		Msg("Compiler finished")

	return catalog, nil
}

func settingsEnv(req *engine.CompileRequest, workDir string) []string {
	s := req.Settings
	env := []string{"FROYOSPEC_NODE=" + req.Node, "FROYOSPEC_WORKDIR=" + workDir}
	for name, value := range map[string]string{
		"VARDIR":       s.VarDir,
		"MODULEPATH":   s.ModulePath,
		"MANIFESTDIR":  s.ManifestDir,
		"MANIFEST":     s.Manifest,
		"TEMPLATEDIR":  s.TemplateDir,
		"CONFIG":       s.Config,
		"CONFDIR":      s.ConfDir,
		"HIERA_CONFIG": s.HieraConfig,
		"LIBDIR":       s.LibDir,
	} {
		if value != "" {
			env = append(env, fmt.Sprintf("FROYOSPEC_%s=%s", name, value))
		}
	}
	return env
}
