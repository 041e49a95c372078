package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
)

// S3Storage implements ObjectStore using AWS S3
type S3Storage struct {
	client s3iface.S3API
	log    logger.Logger
}

// NewS3Storage creates a new S3 object store
func NewS3Storage(cfg config.StorageConfig, log logger.Logger) (*S3Storage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing against an S3-compatible server
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3StorageWithClient(s3.New(sess), log), nil
}

// NewS3StorageWithClient wraps an existing S3 client.
func NewS3StorageWithClient(client s3iface.S3API, log logger.Logger) *S3Storage {
	return &S3Storage{client: client, log: log}
}

// Exists performs a HEAD on the object.
func (s *S3Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			s.log.Debug("HEAD on S3: absent", logger.String("bucket", bucket), logger.String("key", key))
			return false, nil
		}
		return false, &Error{Op: "head", Bucket: bucket, Key: key, Err: err}
	}
	s.log.Debug("HEAD on S3: present", logger.String("bucket", bucket), logger.String("key", key))
	return true, nil
}

// Get reads a whole object into memory.
func (s *S3Storage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &Error{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
	}
	return body, nil
}

// Put writes an object.
func (s *S3Storage) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return &Error{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	s.log.Debug("PUT on S3",
		logger.String("bucket", bucket),
		logger.String("key", key),
		logger.Int("bytes", len(body)))
	return nil
}

// isNotFound reports whether err is S3's answer for a missing object.
// HEAD responses carry no body, so only the status code is reliable there.
func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "NotFound", s3.ErrCodeNoSuchKey:
			return true
		}
	}
	return false
}
