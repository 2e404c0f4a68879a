package crawler

import (
	"errors"

	"igcrawler/pkg/checkpoint"
	"igcrawler/pkg/delay"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/sink"
	"igcrawler/pkg/telemetry"
)

// CrawlContext bundles the shared state of one run. It is built once by the
// command and handed to the crawler and the scanner by pointer.
type CrawlContext struct {
	Proxies    *proxy.Pool
	Delays     *delay.Adapter
	Checkpoint *checkpoint.Store
	Sink       sink.Sink
	Client     remote.Client
	Metrics    *telemetry.Metrics
	Logger     logger.Logger
	RunID      string
}

// Validate reports the first missing dependency.
func (cc *CrawlContext) Validate() error {
	switch {
	case cc == nil:
		return errors.New("crawl context is nil")
	case cc.Proxies == nil:
		return errors.New("crawl context has no proxy pool")
	case cc.Delays == nil:
		return errors.New("crawl context has no delay adapter")
	case cc.Client == nil:
		return errors.New("crawl context has no remote client")
	}
	return nil
}

func (cc *CrawlContext) logger() logger.Logger {
	if cc.Logger == nil {
		return logger.NewNopLogger()
	}
	return cc.Logger
}
