package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog"
)

// S3Config describes the bucket media is written to.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	// PublicBaseURL overrides the URL prefix of stored objects (CDN or
	// S3-compatible endpoint). Defaults to the virtual-hosted bucket URL.
	PublicBaseURL string
}

// S3Store persists media into an S3 bucket.
type S3Store struct {
	svc     s3iface.S3API
	bucket  string
	baseURL string
	logger  zerolog.Logger
}

// NewS3Session builds an AWS session for the configured region and endpoint.
func NewS3Session(cfg S3Config) (*session.Session, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: aws session: %w", err)
	}
	return sess, nil
}

// NewS3Store wraps an S3 client for the bucket in cfg.
func NewS3Store(svc s3iface.S3API, cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if svc == nil {
		return nil, errors.New("storage: s3 client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	base := cfg.PublicBaseURL
	if base == "" {
		switch {
		case cfg.Endpoint != "":
			base = joinURL(cfg.Endpoint, cfg.Bucket)
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Store{svc: svc, bucket: cfg.Bucket, baseURL: strings.TrimRight(base, "/"), logger: logger}, nil
}

// NewS3StoreFromConfig opens a session and returns a ready store.
func NewS3StoreFromConfig(cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	sess, err := NewS3Session(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Store(s3.New(sess), cfg, logger)
}

func (s *S3Store) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(cleanKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.svc.PutObjectWithContext(ctx, input); err != nil {
		s.logger.Error().Err(err).Str("bucket", s.bucket).Str("key", cleanKey).Msg("s3 upload failed")
		return "", fmt.Errorf("storage: put object %s: %w", cleanKey, err)
	}
	url := joinURL(s.baseURL, cleanKey)
	s.logger.Debug().Str("url", url).Msg("s3 upload ok")
	return url, nil
}

func (s *S3Store) IsDurable(url string) bool {
	return hasURLPrefix(url, s.baseURL)
}
