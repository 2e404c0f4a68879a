package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewRunID returns a fresh identifier used to correlate every log line of one crawl run.
func NewRunID() string {
	return uuid.NewString()
}

// ForComponent returns a child of l tagged with the component name.
func ForComponent(l Logger, component string) Logger {
	if l == nil {
		l = GetLogger()
	}
	return l.WithField("component", component)
}

// LogRateLimit logs a rate-limit hit together with the cooldown about to be applied.
func LogRateLimit(l Logger, identifier string, hits int, cooldown time.Duration) {
	l.WithFields(map[string]interface{}{
		"identifier":  identifier,
		"rate_limits": hits,
		"cooldown":    cooldown,
		"action":      "rate_limited",
	}).Warn("Rate limit reached, cooling down")
}

// LogProxyRotation logs a switch of the active egress endpoint.
func LogProxyRotation(l Logger, from, to, reason string) {
	l.WithFields(map[string]interface{}{
		"from":   displayEndpoint(from),
		"to":     displayEndpoint(to),
		"reason": reason,
	}).Info("Proxy rotated")
}

// LogCrawlProgress logs the running totals of a crawl.
func LogCrawlProgress(l Logger, processed, total, succeeded, failed int, elapsed time.Duration) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(processed) / float64(total) * 100
	}

	l.WithFields(map[string]interface{}{
		"processed":  processed,
		"total":      total,
		"succeeded":  succeeded,
		"failed":     failed,
		"elapsed":    elapsed.Round(time.Second).String(),
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Crawl progress")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	cl := l.WithField("component", component)
	if len(config) > 0 {
		cl = cl.WithFields(config)
	}
	cl.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

func displayEndpoint(addr string) string {
	if addr == "" {
		return "direct"
	}
	return addr
}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
