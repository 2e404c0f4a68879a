// Package logger provides the structured logging interface used across the crawler.
//
// It wraps zerolog and adds:
//   - colored console output with compact level tags
//   - optional duplication of every line into a JSON log file
//   - child loggers carrying fields (component, run_id, identifier)
//   - a global logger for the CLI layer
//   - capture and no-op loggers for tests
//
// Components receive a Logger in their constructor and tag it with
// ForComponent, so a single crawl run can be followed by grepping for its
// run_id:
//
//	log := logger.ForComponent(base, "proxy_pool").WithField("run_id", runID)
//	log.WarnWithFields("all proxies exhausted, emergency reset", map[string]interface{}{
//	    "pool_size": 3,
//	})
package logger
