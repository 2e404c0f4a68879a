package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record keyed by its stable id, so a compacted
// topic keeps the latest version of every profile and post.
type KafkaSink struct {
	writer        messageWriter
	profilesTopic string
	postsTopic    string
	logger        logger.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, log logger.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink needs sink.kafka.brokers")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = logger.ForComponent(log, "sink.kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  5,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Compression(new(lz4.Codec).Code()),
	}
	return newKafkaSink(writer, cfg, log), nil
}

func newKafkaSink(w messageWriter, cfg config.KafkaConfig, log logger.Logger) *KafkaSink {
	profilesTopic := cfg.ProfilesTopic
	if profilesTopic == "" {
		profilesTopic = "igcrawler.profiles"
	}
	postsTopic := cfg.PostsTopic
	if postsTopic == "" {
		postsTopic = "igcrawler.posts"
	}
	return &KafkaSink{
		writer:        w,
		profilesTopic: profilesTopic,
		postsTopic:    postsTopic,
		logger:        log,
	}
}

func (s *KafkaSink) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	msgs := make([]kafka.Message, 0, len(profiles)+len(posts))
	for _, p := range profiles {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile %s: %w", p.Username, err)
		}
		msgs = append(msgs, kafka.Message{Topic: s.profilesTopic, Key: []byte(p.Key()), Value: body})
	}
	for _, p := range posts {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal post %s: %w", p.ID, err)
		}
		msgs = append(msgs, kafka.Message{Topic: s.postsTopic, Key: []byte(p.Key()), Value: body})
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.ErrorWithFields("failed to send messages to kafka", map[string]interface{}{
			"error":    err.Error(),
			"messages": len(msgs),
		})
		return fmt.Errorf("failed to send messages to kafka: %w", err)
	}
	s.logger.DebugWithFields("messages sent to kafka", map[string]interface{}{
		"messages": len(msgs),
	})
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
