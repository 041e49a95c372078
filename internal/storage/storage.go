package storage

import (
	"context"
	"fmt"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/models"
)

// ObjectStore is the object storage the archive is written to.
type ObjectStore interface {
	// Exists reports whether an object is present. A missing object is
	// (false, nil); any other failure is an *Error.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// StatusStore records the outcome of archival passes per wiki.
type StatusStore interface {
	UpdateStatus(ctx context.Context, status models.RunStatus) error
	// GetStatus returns nil when the wiki has never been run.
	GetStatus(ctx context.Context, wiki string) (*models.RunStatus, error)
	ListStatuses(ctx context.Context) ([]models.RunStatus, error)
	Close() error
}

// Error is returned when an object storage operation fails for any reason
// other than a missing object.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewStatusStore creates a DynamoDB-backed status store when a table is
// configured and an in-memory one otherwise.
func NewStatusStore(cfg config.StorageConfig, log logger.Logger) (StatusStore, error) {
	if cfg.StatusTable == "" {
		log.Info("Run status kept in memory")
		return NewMemoryStatusStore(), nil
	}
	return NewDynamoDBStatusStore(cfg)
}
