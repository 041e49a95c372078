package ingestion

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cyderes/wiki-archive-service/internal/archive"
	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/mediawiki"
	"github.com/cyderes/wiki-archive-service/internal/models"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

// Service runs archival passes over every configured wiki
type Service struct {
	config     config.IngestionConfig
	wikis      config.WikisConfig
	objects    storage.ObjectStore
	statuses   storage.StatusStore
	enumerator *archive.Enumerator
	log        logger.Logger
}

// NewService creates a new ingestion service
func NewService(cfg *config.Config, objects storage.ObjectStore, statuses storage.StatusStore, log logger.Logger) *Service {
	client := mediawiki.NewClient(cfg.AdminEmail, cfg.Ingestion.Timeout, log)
	archiver := archive.NewArchiver(client, archive.NewRevisionStore(objects), log)

	return &Service{
		config:     cfg.Ingestion,
		wikis:      cfg.Wikis,
		objects:    objects,
		statuses:   statuses,
		enumerator: archive.NewEnumerator(client, archiver, log),
		log:        log,
	}
}

// Start runs a pass immediately and then on the configured schedule until
// ctx is cancelled. A pass still running when the next one is due is not
// overlapped.
func (s *Service) Start(ctx context.Context) error {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.config.Schedule, func() { s.scheduledRun(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.config.Schedule, err)
	}

	s.scheduledRun(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Service) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.RunOnce(ctx); err != nil {
		// Log error but don't stop the service
		s.log.Error("Archival pass failed", logger.Error(err))
	}
}

// RunOnce archives every wiki in turn, stopping at the first failure.
func (s *Service) RunOnce(ctx context.Context) error {
	doc, err := s.loadWikis(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := range doc.Wikis {
		if err := s.runWiki(ctx, &doc.Wikis[i]); err != nil {
			return fmt.Errorf("failed to archive %s: %w", doc.Wikis[i].API, err)
		}
	}

	s.log.Info("Archival pass complete",
		logger.Int("wikis", len(doc.Wikis)),
		logger.Any("elapsed", time.Since(start)))
	return nil
}

func (s *Service) runWiki(ctx context.Context, wiki *config.Wiki) error {
	log := s.log.With(logger.String("wiki", wiki.API))

	status := models.RunStatus{Wiki: wiki.API}
	if prev, err := s.statuses.GetStatus(ctx, wiki.API); err != nil {
		log.Warn("Failed to read run status", logger.Error(err))
	} else if prev != nil {
		status = *prev
	}

	status.LastAttempt = time.Now().UTC()
	status.Status = models.StatusRunning
	status.ErrorMessage = ""
	s.updateStatus(ctx, log, status)

	sum, err := s.enumerator.Run(ctx, wiki)
	status.PagesSeen = sum.Pages
	status.RevisionsArchived = sum.Revisions
	if err != nil {
		status.Status = models.StatusFailure
		status.ErrorMessage = err.Error()
		s.updateStatus(ctx, log, status)
		return err
	}

	status.Status = models.StatusSuccess
	status.LastSuccessfulRun = time.Now().UTC()
	s.updateStatus(ctx, log, status)

	log.Info("Archived wiki",
		logger.Int("sources", sum.Sources),
		logger.Int("pages", sum.Pages),
		logger.Int("revisions", sum.Revisions))
	return nil
}

// updateStatus records status. The ledger is informational, so a failure
// is logged rather than ending the pass.
func (s *Service) updateStatus(ctx context.Context, log logger.Logger, status models.RunStatus) {
	if err := s.statuses.UpdateStatus(ctx, status); err != nil {
		log.Warn("Failed to record run status",
			logger.String("status", status.Status),
			logger.Error(err))
	}
}

// loadWikis reads the wikis document, from disk or from S3. It is read
// again on every pass so edits apply without a restart.
func (s *Service) loadWikis(ctx context.Context) (*config.WikiDocument, error) {
	if err := s.wikis.Validate(); err != nil {
		return nil, err
	}

	var data []byte
	var err error
	if s.wikis.File != "" {
		data, err = os.ReadFile(s.wikis.File)
	} else {
		data, err = s.objects.Get(ctx, s.wikis.Bucket, s.wikis.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wikis document: %w", err)
	}
	return config.ParseWikis(data)
}

// cronLogger adapts Logger to the cron scheduler.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(keysAndValues []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, logger.Any(key, keysAndValues[i+1]))
	}
	return out
}
