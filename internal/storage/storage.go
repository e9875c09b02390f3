// Package storage stages profile images in S3-compatible object storage
// (MinIO in development) before uploads are forwarded to the backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrNotConfigured is returned by New when no S3 endpoint is set; staging
// is optional and the gateway runs without it.
var ErrNotConfigured = errors.New("object storage not configured")

// Service stages and serves profile images.
type Service interface {
	// UploadProfileImage stores the image under a per-user key and
	// returns that key.
	UploadProfileImage(ctx context.Context, userID, filename, contentType string, body io.Reader) (string, error)
	// PresignDownload creates a time-limited download URL for a stored
	// object.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Health checks bucket reachability.
	Health(ctx context.Context) error
}

type service struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// New builds the storage service from S3_* environment variables. Returns
// ErrNotConfigured when S3_ENDPOINT is unset.
func New(ctx context.Context) (Service, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		return nil, ErrNotConfigured
	}

	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	bucket := os.Getenv("S3_BUCKET_NAME")
	if accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET_NAME are required")
	}

	protocol := "http"
	if os.Getenv("S3_USE_SSL") == "true" {
		protocol = "https"
	}
	endpointURL := fmt.Sprintf("%s://%s", protocol, endpoint)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// path-style addressing is required for MinIO
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true
	})

	s := &service{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *service) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *service) UploadProfileImage(ctx context.Context, userID, filename, contentType string, body io.Reader) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id cannot be empty")
	}

	key := fmt.Sprintf("profile/%s/%s%s", userID, uuid.New().String(), path.Ext(filename))
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to store profile image: %w", err)
	}
	return key, nil
}

func (s *service) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key cannot be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("TTL must be positive")
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}
	return req.URL, nil
}

func (s *service) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}
