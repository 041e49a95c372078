package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/cyderes/wiki-archive-service/internal/models"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

const (
	contentTypeGzip = "application/gzip"
	contentTypeYAML = "application/x-yaml"
)

// MetadataKey returns the key of a revision's metadata object. The prefix
// is used verbatim.
func MetadataKey(prefix string, pageID, revID uint64) string {
	return fmt.Sprintf("%spage_%08d/rev_%08d.yaml", prefix, pageID, revID)
}

// ContentKey returns the key of a revision's compressed content object.
func ContentKey(prefix string, pageID, revID uint64) string {
	return fmt.Sprintf("%spage_%08d/rev_%08d_data.gz", prefix, pageID, revID)
}

// RevisionStore writes revision content and metadata to object storage.
type RevisionStore struct {
	objects storage.ObjectStore
}

// NewRevisionStore creates a revision store on top of objects.
func NewRevisionStore(objects storage.ObjectStore) *RevisionStore {
	return &RevisionStore{objects: objects}
}

// MetadataExists reports whether the metadata object of a revision exists.
func (s *RevisionStore) MetadataExists(ctx context.Context, bucket, prefix string, id models.RevisionID) (bool, error) {
	return s.objects.Exists(ctx, bucket, MetadataKey(prefix, id.PageID, id.RevID))
}

// ContentExists reports whether the content object of a revision exists.
func (s *RevisionStore) ContentExists(ctx context.Context, bucket, prefix string, id models.RevisionID) (bool, error) {
	return s.objects.Exists(ctx, bucket, ContentKey(prefix, id.PageID, id.RevID))
}

// PutContent gzips text at the highest compression level and stores it.
func (s *RevisionStore) PutContent(ctx context.Context, bucket, key, text string) error {
	data, err := compress(text)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", key, err)
	}
	return s.objects.Put(ctx, bucket, key, data, contentTypeGzip)
}

// PutMetadata stores meta as a YAML document.
func (s *RevisionStore) PutMetadata(ctx context.Context, bucket, key string, meta models.RevisionMetadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", key, err)
	}
	return s.objects.Put(ctx, bucket, key, data, contentTypeYAML)
}

func compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
