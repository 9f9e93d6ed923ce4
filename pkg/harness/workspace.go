package harness

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// workspace is the scratch area for one compilation.
type workspace struct {
	ID       string
	Settings engine.Settings

	// WorkDir is private to this compilation and removed by Close.
	WorkDir string

	dir    string
	logger zerolog.Logger
}

// newWorkspace resolves settings for one compilation. Every workspace gets
// a private working directory, created under the configured var dir or the
// system temp dir; without a configured var dir it doubles as the var dir.
// It is removed by Close.
func newWorkspace(settings engine.Settings, logger zerolog.Logger) (*workspace, error) {
	ws := &workspace{
		ID:     uuid.New().String(),
		logger: logger,
	}

	dir, err := os.MkdirTemp(settings.VarDir, "froyospec-"+ws.ID[:8]+"-")
	if err != nil {
		return nil, err
	}
	ws.dir = dir
	ws.WorkDir = dir
	if settings.VarDir == "" {
		settings.VarDir = dir
	}

	if settings.HieraConfig == "" || settings.HieraConfig == os.DevNull {
		settings.HieraConfig = filepath.Join(ws.WorkDir, "hiera.yaml")
	}

	if settings.LibDir == "" {
		settings.LibDir = LibDir(settings.ModulePath)
	}

	ws.Settings = settings

	logger.Debug().
		Str("workspace", ws.ID).
		Str("vardir", settings.VarDir).
		Str("workdir", ws.WorkDir).
		Str("libdir", settings.LibDir).
		Msg("Prepared compiler workspace")

	return ws, nil
}

// Close removes the working directory.
func (ws *workspace) Close() {
	if ws.dir == "" {
		return
	}
	if err := os.RemoveAll(ws.dir); err != nil {
		ws.logger.Warn().Err(err).Str("dir", ws.dir).Msg("Failed to remove compiler workspace")
	}
	ws.dir = ""
}

// LibDir returns every <module>/lib directory under the entries of
// modulePath, joined with the OS path-list separator.
func LibDir(modulePath string) string {
	if modulePath == "" {
		return ""
	}

	var dirs []string
	for _, root := range filepath.SplitList(modulePath) {
		matches, err := filepath.Glob(filepath.Join(root, "*", "lib"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				dirs = append(dirs, m)
			}
		}
	}
	return strings.Join(dirs, string(os.PathListSeparator))
}
