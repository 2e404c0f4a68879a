package sink

import (
	"context"
	"errors"
	"fmt"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// Sink receives collected records. Every implementation is an upsert keyed
// by Profile.Key and Post.Key, so writing the same batch twice is harmless.
type Sink interface {
	Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error
	Close() error
}

// New builds the sinks named in cfg.Sink.Targets. A single target is
// returned as is; several are wrapped in a Multi. Any failure is a
// configuration error.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (Sink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	targets := cfg.Sink.Targets
	if len(targets) == 0 {
		targets = []string{config.SinkFile}
	}

	var sinks []Sink
	for _, target := range targets {
		s, err := open(ctx, target, cfg, log)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, errs.Configuration(fmt.Sprintf("failed to initialize %s sink", target), err)
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMulti(sinks...), nil
}

func open(ctx context.Context, target string, cfg *config.Config, log logger.Logger) (Sink, error) {
	switch target {
	case config.SinkFile:
		return NewFileSink(cfg.Sink.File.Directory, log)
	case config.SinkPostgres:
		return NewPostgresSink(ctx, cfg.Sink.Postgres.DSN, log)
	case config.SinkKafka:
		return NewKafkaSink(cfg.Sink.Kafka, log)
	case config.SinkS3:
		return NewS3Sink(ctx, cfg.Sink.S3, log)
	default:
		return nil, fmt.Errorf("unknown sink target %q", target)
	}
}

// Multi fans every write out to several sinks.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write writes to every sink even when one fails, and joins the errors.
func (m *Multi) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	var errList []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, profiles, posts); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (m *Multi) Close() error {
	var errList []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
