package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds construction parameters for an S3-compatible store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string // optional; default credential chain otherwise
	SecretAccessKey string
	PathStyle       bool
	MaxBytes        int64
}

// S3 stores blobs in a single bucket. Keys map to object keys directly.
type S3 struct {
	client   *s3.Client
	bucket   string
	maxBytes int64
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, maxBytes: cfg.MaxBytes}, nil
}

func (s *S3) Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if key == "" {
		return nil, ErrMissingFileName
	}
	data, hash, err := readLimited(content, s.maxBytes)
	if err != nil {
		return nil, err
	}
	// Emulate create-only via Head first.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err == nil {
		return nil, ErrBlobExists
	}
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"sha256": hash},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	obj := &Object{Key: key, Hash: out.Metadata["sha256"]}
	if out.ContentType != nil {
		obj.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		obj.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		obj.CreatedAt = out.LastModified.UTC()
	}
	return out.Body, obj, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
