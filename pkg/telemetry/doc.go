// Package telemetry provides observability for catalog builds.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Telemetry value.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Library packages accept a zerolog.Logger. Use Logger.Zerolog to hand the
// configured logger to them, and NewComponentLogger for per-component
// child loggers:
//
//	logger := tel.Logger.NewComponentLogger("harness").WithSubject("class", "ntp")
//	logger.Info("Building catalog")
//
// # Tracing
//
// Each catalog build runs under a "catalog.build" span; cache misses add a
// "catalog.compile" child span carrying the cache digest.
//
// # Metrics
//
// Exposed metrics (prefixed with the configured namespace):
//
//   - catalogs_built_total{kind,status}
//   - build_duration_seconds{kind}
//   - compilations_total{status}
//   - compile_duration_seconds
//   - cache_lookups_total{result}
//   - cache_entries
//   - errors_by_class_total{class}, errors_by_code_total{code}
//
// A Metrics value created with collection disabled accepts every call and
// records nothing.
package telemetry
