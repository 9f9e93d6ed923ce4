package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// configSchema closes the configuration so that misspelled fields fail to
// load instead of being ignored.
const configSchema = `
#Settings: {
	vardir?:       string
	module_path?:  string
	manifest_dir?: string
	manifest?:     string
	template_dir?: string
	config?:       string
	confdir?:      string
	hiera_config?: string
	libdir?:       string
}

#Compiler: {
	type:                "exec" | "wasm"
	command?:            string
	args?:               [...string]
	env?:                [...string]
	module?:             string
	timeout?:            =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
	memory_limit_pages?: int & >=1 & <=65536
}

#Cache: {
	backend?: "memory" | "sqlite"
	path?:    string
}

#Config: {
	certname?:            string
	default_facts?:       {[string]: _}
	facts_files?:         [...string]
	fact_script?:         string
	fact_script_file?:    string
	fact_script_timeout?: string
	settings?:            #Settings
	compiler?:            #Compiler
	cache?:               #Cache
	telemetry?:           {...}
}
`

// cueLoader decodes CUE configuration.
type cueLoader struct {
	ctx    *cue.Context
	schema cue.Value
}

func newCUELoader() (*cueLoader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}
	return &cueLoader{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Config")),
	}, nil
}

// decode compiles data, unifies it with the schema and decodes it into cfg.
func (l *cueLoader) decode(data []byte, filename string, cfg *Config) []ValidationError {
	val := l.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	if err := unified.Decode(cfg); err != nil {
		return []ValidationError{{
			File:    filename,
			Message: fmt.Sprintf("failed to decode configuration: %v", err),
		}}
	}

	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		})
	}

	return validationErrors
}
