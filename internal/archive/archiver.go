// Package archive copies wiki revisions and their ancestry into object
// storage.
//
// A revision's metadata object is written only after the metadata of every
// ancestor has been written. The presence of a metadata object therefore
// proves that its whole ancestry is archived, and the archiver stops
// walking as soon as it finds one.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/mediawiki"
	"github.com/cyderes/wiki-archive-service/internal/models"
)

// mainSlot is the slot holding page content on multi-slot wikis.
const mainSlot = "main"

// Querier runs paginated API queries.
type Querier interface {
	Query(ctx context.Context, endpoint string, params url.Values) *mediawiki.Iterator
}

// Archiver stores revisions together with their unarchived ancestors.
type Archiver struct {
	client    Querier
	revisions *RevisionStore
	log       logger.Logger
}

// NewArchiver creates a new archiver
func NewArchiver(client Querier, revisions *RevisionStore, log logger.Logger) *Archiver {
	return &Archiver{
		client:    client,
		revisions: revisions,
		log:       log,
	}
}

// Archive ensures that revision revID of page pageID and all of its
// ancestors are stored. It is idempotent; once a revision is archived,
// calling it again costs a single existence check.
func (a *Archiver) Archive(ctx context.Context, wiki *config.Wiki, pageID, revID uint64) error {
	_, err := a.archive(ctx, wiki, pageID, revID)
	return err
}

// archive walks from revID towards the root, storing content on the way
// down, then writes metadata oldest first. It returns the number of
// revisions whose metadata it wrote.
func (a *Archiver) archive(ctx context.Context, wiki *config.Wiki, pageID, revID uint64) (int, error) {
	var pending []models.RevisionMetadata
	visited := make(map[uint64]bool)

	for revID != 0 {
		if visited[revID] {
			return 0, &ProtocolError{
				Endpoint: wiki.API,
				PageID:   pageID,
				RevID:    revID,
				Reason:   "revision is its own ancestor",
			}
		}
		visited[revID] = true

		id := models.RevisionID{PageID: pageID, RevID: revID}
		archived, err := a.revisions.MetadataExists(ctx, wiki.S3Bucket, wiki.S3Prefix, id)
		if err != nil {
			return 0, err
		}
		if archived {
			break
		}

		meta, err := a.fetch(ctx, wiki, id)
		if err != nil {
			return 0, fmt.Errorf("failed to archive page %d revision %d: %w", pageID, revID, err)
		}
		pending = append(pending, meta)
		revID = meta.ParentID
	}

	for i := len(pending) - 1; i >= 0; i-- {
		meta := pending[i]
		key := MetadataKey(wiki.S3Prefix, meta.PageID, meta.RevID)
		if err := a.revisions.PutMetadata(ctx, wiki.S3Bucket, key, meta); err != nil {
			return len(pending) - 1 - i, err
		}
		a.log.Info("Archived revision",
			logger.String("wiki", wiki.API),
			logger.String("title", meta.Title),
			logger.Uint64("pageid", meta.PageID),
			logger.Uint64("revid", meta.RevID),
			logger.Uint64("parentid", meta.ParentID))
	}
	return len(pending), nil
}

// fetch queries a single revision, stores its content if the content
// object is missing, and returns its metadata.
func (a *Archiver) fetch(ctx context.Context, wiki *config.Wiki, id models.RevisionID) (models.RevisionMetadata, error) {
	haveContent, err := a.revisions.ContentExists(ctx, wiki.S3Bucket, wiki.S3Prefix, id)
	if err != nil {
		return models.RevisionMetadata{}, err
	}

	a.log.Debug("Fetching revision",
		logger.String("wiki", wiki.API),
		logger.Uint64("pageid", id.PageID),
		logger.Uint64("revid", id.RevID),
		logger.Bool("have_content", haveContent))

	rvprop := "ids|user|timestamp|comment"
	if !haveContent {
		rvprop += "|content"
	}
	params := url.Values{
		"prop":   {"revisions|info"},
		"rvprop": {rvprop},
		"inprop": {"url"},
		"revids": {strconv.FormatUint(id.RevID, 10)},
	}
	if !haveContent && wiki.Slots != "" {
		params.Set("rvslots", wiki.Slots)
	}

	protocolErr := func(format string, args ...any) error {
		return &ProtocolError{
			Endpoint: wiki.API,
			PageID:   id.PageID,
			RevID:    id.RevID,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	// A single-revision query fits in one fragment; later ones are never
	// requested.
	it := a.client.Query(ctx, wiki.API, params)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return models.RevisionMetadata{}, err
		}
		return models.RevisionMetadata{}, protocolErr("no query result")
	}

	var result pagesResult
	if err := it.Decode(&result); err != nil {
		return models.RevisionMetadata{}, protocolErr("malformed result: %v", err)
	}
	if result.Pages == nil {
		return models.RevisionMetadata{}, protocolErr("missing pages")
	}
	if len(result.Pages) != 1 {
		return models.RevisionMetadata{}, protocolErr("expected 1 page, got %d", len(result.Pages))
	}
	p, ok := result.Pages[strconv.FormatUint(id.PageID, 10)]
	switch {
	case !ok:
		return models.RevisionMetadata{}, protocolErr("page missing from result")
	case p.PageID == nil || *p.PageID != id.PageID:
		return models.RevisionMetadata{}, protocolErr("pageid missing or mismatched")
	case p.Title == nil:
		return models.RevisionMetadata{}, protocolErr("missing title")
	case p.FullURL == nil:
		return models.RevisionMetadata{}, protocolErr("missing fullurl")
	case len(p.Revisions) != 1:
		return models.RevisionMetadata{}, protocolErr("expected 1 revision, got %d", len(p.Revisions))
	}

	rev := p.Revisions[0]
	switch {
	case rev.RevID == nil || *rev.RevID != id.RevID:
		return models.RevisionMetadata{}, protocolErr("revid missing or mismatched")
	case rev.ParentID == nil:
		return models.RevisionMetadata{}, protocolErr("missing parentid")
	case rev.User == nil:
		return models.RevisionMetadata{}, protocolErr("missing user")
	case rev.Timestamp == nil:
		return models.RevisionMetadata{}, protocolErr("missing timestamp")
	case rev.Comment == nil:
		return models.RevisionMetadata{}, protocolErr("missing comment")
	}

	if !haveContent {
		content, err := revisionContent(rev, wiki.Slots != "")
		if err != nil {
			return models.RevisionMetadata{}, protocolErr("%v", err)
		}
		key := ContentKey(wiki.S3Prefix, id.PageID, id.RevID)
		if err := a.revisions.PutContent(ctx, wiki.S3Bucket, key, content); err != nil {
			return models.RevisionMetadata{}, err
		}
		a.log.Debug("Stored revision content",
			logger.String("bucket", wiki.S3Bucket),
			logger.String("key", key))
	}

	return models.RevisionMetadata{
		Comment:   *rev.Comment,
		PageID:    *p.PageID,
		ParentID:  *rev.ParentID,
		RevID:     id.RevID,
		Timestamp: *rev.Timestamp,
		Title:     *p.Title,
		URL:       *p.FullURL,
		User:      *rev.User,
	}, nil
}

// revisionContent extracts the text of a revision from the slot layout or
// the legacy flat layout.
func revisionContent(rev revision, slotted bool) (string, error) {
	if slotted {
		s, ok := rev.Slots[mainSlot]
		if !ok {
			return "", fmt.Errorf("missing %s slot", mainSlot)
		}
		if s.Content == nil {
			return "", fmt.Errorf("missing content in %s slot", mainSlot)
		}
		return *s.Content, nil
	}
	if rev.Content == nil {
		return "", fmt.Errorf("missing content")
	}
	return *rev.Content, nil
}
