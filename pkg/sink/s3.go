package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores one JSON object per record under prefix/profiles and
// prefix/posts. Writing a record again overwrites the same key.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
	logger logger.Logger
}

// NewS3Sink loads the default AWS configuration. With a custom endpoint
// (LocalStack, MinIO) it switches to path-style addressing and, when no
// credentials are set in the environment, to static test credentials.
func NewS3Sink(ctx context.Context, cfg config.S3Config, log logger.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink needs sink.s3.bucket")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = logger.ForComponent(log, "sink.s3")

	var opts []func(*awsCfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsCfg.WithRegion(cfg.Region))
	}
	awsConfig, err := awsCfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		awsConfig.BaseEndpoint = aws.String(cfg.Endpoint)
		if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
			log.Warn("no AWS credentials in environment, using static test credentials")
			awsConfig.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		}
		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsConfig)
	}

	return newS3Sink(client, cfg, log), nil
}

func newS3Sink(client objectPutter, cfg config.S3Config, log logger.Logger) *S3Sink {
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: log}
}

func (s *S3Sink) profileKey(p models.Profile) string {
	return path.Join(s.prefix, "profiles", p.Key()+".json")
}

func (s *S3Sink) postKey(p models.Post) string {
	return path.Join(s.prefix, "posts", p.Key()+".json")
}

func (s *S3Sink) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	for _, p := range profiles {
		if err := s.put(ctx, s.profileKey(p), p); err != nil {
			return err
		}
	}
	for _, p := range posts {
		if err := s.put(ctx, s.postKey(p), p); err != nil {
			return err
		}
	}
	s.logger.DebugWithFields("objects saved to s3", map[string]interface{}{
		"profiles": len(profiles),
		"posts":    len(posts),
	})
	return nil
}

func (s *S3Sink) put(ctx context.Context, key string, record interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save %s to s3: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
