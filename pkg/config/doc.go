// Package config loads the process-wide froyospec configuration.
//
// # Overview
//
// Configuration may be written in CUE, YAML or JSON; the format is chosen by
// file extension. CUE input is unified with a closed schema before decoding,
// so misspelled fields are reported with their file position. YAML and JSON
// input is decoded strictly. Every format is then checked with struct
// validation tags.
//
// # Components
//
// Config: default node, default facts, fact files, compiler settings, the
// compiler implementation, the cache backend and telemetry.
//
// StarlarkEvaluator: time-limited Starlark execution with conversion between
// Go and Starlark values.
//
// FactScript: a facts.Computer backed by a Starlark program, used to derive
// per-node default facts.
//
// # Usage Example
//
//	cfg, err := config.Load("froyospec.cue")
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//
//	computer, err := cfg.FactScriptComputer(logger)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load fact script")
//	}
//
// A minimal CUE configuration:
//
//	certname: "testhost.example.com"
//	default_facts: {
//	    osfamily: "Debian"
//	}
//	settings: {
//	    module_path: "spec/fixtures/modules"
//	}
//	compiler: {
//	    type:    "exec"
//	    command: "froyo-compile"
//	    args: ["--node", "{node}", "--manifest", "{manifest}", "--facts", "{facts}"]
//	}
//	cache: backend: "sqlite"
//	cache: path:    ".froyospec/cache.db"
//
// # Fact Scripts
//
// A fact script sees node and facts and exports its top-level globals:
//
//	role = "database" if node.startswith("db") else "web"
package config
