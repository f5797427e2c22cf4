package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// S3API is the subset of the S3 client the store needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Options struct {
	Client S3API
	Bucket string
	Prefix string
	Logger log.Logger

	// Timeout bounds each call since the Store contract is synchronous.
	// Zero defaults to 5 seconds.
	Timeout time.Duration
}

// S3 stores each key as an object s3://{bucket}/{prefix}/{key}.json
type S3 struct {
	client  S3API
	bucket  string
	prefix  string
	timeout time.Duration
	logger  log.Logger
}

func NewS3(opts S3Options) (*S3, error) {
	if opts.Client == nil {
		return nil, xerrors.New("store: S3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("store: S3 bucket is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &S3{
		client:  opts.Client,
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		logger:  log.OrNop(opts.Logger),
	}, nil
}

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key + ".json"
	}
	return path.Join(s.prefix, key+".json")
}

func (s *S3) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if !errors.As(err, &nsk) {
			s.logger.Warn(ctx, "store: s3 get failed", "bucket", s.bucket, "key", s.objectKey(key), "error", err)
		}
		return nil, false
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		s.logger.Warn(ctx, "store: s3 read body failed", "bucket", s.bucket, "key", s.objectKey(key), "error", err)
		return nil, false
	}
	return data, true
}

func (s *S3) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		s.logger.Warn(ctx, "store: s3 put failed", "bucket", s.bucket, "key", s.objectKey(key), "error", err)
	}
}

func (s *S3) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		s.logger.Warn(ctx, "store: s3 delete failed", "bucket", s.bucket, "key", s.objectKey(key), "error", err)
	}
}
