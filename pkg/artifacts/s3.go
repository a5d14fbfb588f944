package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/malbeclabs/querysynth/pkg/metrics"
)

// S3API is the subset of *s3.Client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from the default credential chain, or from
// static credentials when both keys are set. A custom endpoint switches to
// path-style addressing for MinIO-compatible stores.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "http://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

type S3SinkConfig struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
}

func (c *S3SinkConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Client == nil {
		return fmt.Errorf("s3 client is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	return nil
}

// S3Sink writes artifacts as objects using the same key layout as FSSink.
type S3Sink struct {
	log    *slog.Logger
	client S3API
	bucket string
	prefix string

	mu sync.Mutex
}

func NewS3Sink(cfg S3SinkConfig) (*S3Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate s3 sink config: %w", err)
	}
	return &S3Sink{log: cfg.Logger, client: cfg.Client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key of the artifact.
func (s *S3Sink) Key(loc Locator) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	key := path.Join(s.prefix, loc.relPath())
	if s.prefix != "" && !strings.HasPrefix(key, s.prefix+"/") {
		return "", fmt.Errorf("%w: %s resolves outside prefix %s", ErrInvalidLocator, key, s.prefix)
	}
	return key, nil
}

func (s *S3Sink) Location(loc Locator) (string, error) {
	key, err := s.Key(loc)
	if err != nil {
		return "", err
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Sink) Open(ctx context.Context, loc Locator) ([]byte, error) {
	key, err := s.Key(loc)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Sink) Save(ctx context.Context, loc Locator, filename, mimeType string, data []byte) (int, error) {
	loc.Name = filename
	loc.Version = 0
	if err := loc.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.nextVersion(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions of %s: %w", filename, err)
	}
	loc.Version = version
	key, err := s.Key(loc)
	if err != nil {
		return 0, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put %s: %w", key, err)
	}

	metrics.ArtifactBytesTotal.WithLabelValues(mimeType).Add(float64(len(data)))
	s.log.Info("artifacts: uploaded", "bucket", s.bucket, "key", key, "version", version, "bytes", len(data))
	return version, nil
}

func (s *S3Sink) nextVersion(ctx context.Context, loc Locator) (int, error) {
	dir := path.Join(s.prefix, loc.versionsDir()) + "/"
	next := 0
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(dir),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, err
		}
		for _, obj := range out.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			head, _, _ := strings.Cut(rest, "/")
			if v, err := strconv.Atoi(head); err == nil && v >= next {
				next = v + 1
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return next, nil
		}
		token = out.NextContinuationToken
	}
}
