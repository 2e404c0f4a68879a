package crawler

import (
	"context"
	"os"
	"time"

	"igcrawler/pkg/logger"
)

// watchStopFile polls path and calls stop once the file appears. The file is
// removed so that it does not stop the next run as well.
func watchStopFile(ctx context.Context, path string, interval time.Duration, stop func(), log logger.Logger) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err != nil {
				continue
			}
			log.WarnWithFields("Stop file detected, shutting down", map[string]interface{}{
				"path": path,
			})
			if err := os.Remove(path); err != nil {
				log.WarnWithFields("Failed to remove stop file", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
			}
			stop()
			return
		}
	}
}
