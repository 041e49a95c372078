package archive

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/mediawiki"
)

// Summary counts the work done by one pass over a wiki.
type Summary struct {
	Sources   int
	Pages     int
	Revisions int
}

// Enumerator discovers the latest revision of every page named by a
// wiki's sources and hands each one to the Archiver.
type Enumerator struct {
	client   Querier
	archiver *Archiver
	log      logger.Logger
}

// NewEnumerator creates a new source enumerator
func NewEnumerator(client Querier, archiver *Archiver, log logger.Logger) *Enumerator {
	return &Enumerator{
		client:   client,
		archiver: archiver,
		log:      log,
	}
}

// Run archives every page of every source of wiki. Pages are archived as
// their fragment arrives; the next fragment is only requested afterwards.
// The first error aborts the run.
func (e *Enumerator) Run(ctx context.Context, wiki *config.Wiki) (Summary, error) {
	var sum Summary
	for i, source := range wiki.Sources {
		params := url.Values{
			"prop":   {"revisions"},
			"rvprop": {"ids"},
		}
		for k, v := range source {
			params.Set(k, v)
		}

		e.log.Info("Enumerating source",
			logger.String("wiki", wiki.API),
			logger.Int("source", i),
			logger.Any("params", source))

		it := e.client.Query(ctx, wiki.API, params)
		for it.Next() {
			pages, err := e.frontier(wiki, it)
			if err != nil {
				return sum, err
			}
			for _, p := range pages {
				n, err := e.archiver.archive(ctx, wiki, p.pageID, p.revID)
				sum.Revisions += n
				if err != nil {
					return sum, err
				}
				sum.Pages++
			}
		}
		if err := it.Err(); err != nil {
			return sum, fmt.Errorf("failed to enumerate source %d of %s: %w", i, wiki.API, err)
		}
		sum.Sources++
	}
	return sum, nil
}

type frontierPage struct {
	pageID uint64
	revID  uint64
}

// frontier validates one enumeration fragment and returns its pages in
// the order the API listed them.
func (e *Enumerator) frontier(wiki *config.Wiki, it *mediawiki.Iterator) ([]frontierPage, error) {
	var result frontierResult
	if err := it.Decode(&result); err != nil {
		return nil, &ProtocolError{Endpoint: wiki.API, Reason: fmt.Sprintf("malformed result: %v", err)}
	}
	if result.Pages == nil {
		return nil, &ProtocolError{Endpoint: wiki.API, Reason: "missing pages"}
	}

	pages := make([]frontierPage, 0, len(result.Pages))
	for i, p := range result.Pages {
		if p.PageID == nil {
			return nil, &ProtocolError{Endpoint: wiki.API, Reason: fmt.Sprintf("page %d of fragment has no pageid", i)}
		}
		if len(p.Revisions) != 1 {
			return nil, &ProtocolError{
				Endpoint: wiki.API,
				PageID:   *p.PageID,
				Reason:   fmt.Sprintf("expected 1 revision, got %d", len(p.Revisions)),
			}
		}
		if p.Revisions[0].RevID == nil {
			return nil, &ProtocolError{Endpoint: wiki.API, PageID: *p.PageID, Reason: "missing revid"}
		}
		pages = append(pages, frontierPage{pageID: *p.PageID, revID: *p.Revisions[0].RevID})
	}
	return pages, nil
}
