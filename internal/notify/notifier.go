// Package notify announces newly archived revisions on a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/models"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

// ErrNotMetadata is returned for objects that are not revision metadata.
var ErrNotMetadata = errors.New("object is not revision metadata")

const noComment = "(no comment)"

// Notifier posts one webhook message per revision metadata object.
type Notifier struct {
	objects    storage.ObjectStore
	webhookURL string
	adminEmail string
	httpClient *http.Client
	log        logger.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(cfg config.NotifyConfig, adminEmail string, objects storage.ObjectStore, log logger.Logger) *Notifier {
	return &Notifier{
		objects:    objects,
		webhookURL: cfg.WebhookURL,
		adminEmail: adminEmail,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Notify reads the metadata object at bucket/key and posts it.
func (n *Notifier) Notify(ctx context.Context, bucket, key string) error {
	if !strings.HasSuffix(key, ".yaml") {
		return fmt.Errorf("%s: %w", key, ErrNotMetadata)
	}
	if n.webhookURL == "" {
		return errors.New("no webhook configured")
	}

	body, err := n.objects.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	meta, err := decodeMetadata(body)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}

	if err := n.post(ctx, newMessage(meta)); err != nil {
		return err
	}
	n.log.Info("Posted revision notification",
		logger.String("title", meta.Title),
		logger.Uint64("revid", meta.RevID))
	return nil
}

// decodeMetadata parses a metadata document, requiring every field.
func decodeMetadata(body []byte) (models.RevisionMetadata, error) {
	var fields map[string]any
	if err := yaml.Unmarshal(body, &fields); err != nil {
		return models.RevisionMetadata{}, err
	}
	for _, name := range []string{"pageid", "title", "url", "revid", "parentid", "user", "timestamp", "comment"} {
		if _, ok := fields[name]; !ok {
			return models.RevisionMetadata{}, fmt.Errorf("missing %q", name)
		}
	}

	var meta models.RevisionMetadata
	if err := yaml.Unmarshal(body, &meta); err != nil {
		return models.RevisionMetadata{}, err
	}
	return meta, nil
}

func (n *Notifier) post(ctx context.Context, msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	target, err := url.Parse(n.webhookURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	q := target.Query()
	q.Set("wait", "true")
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.adminEmail != "" {
		req.Header.Set("From", n.adminEmail)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// message is a Discord webhook execution payload.
type message struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Timestamp   string       `json:"timestamp"`
	Author      embedAuthor  `json:"author"`
	Fields      []embedField `json:"fields"`
}

type embedAuthor struct {
	Name string `json:"name"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func newMessage(meta models.RevisionMetadata) message {
	desc := "Page edited."
	if meta.ParentID == 0 {
		desc = "Page created."
	}
	comment := meta.Comment
	if comment == "" {
		comment = noComment
	}
	return message{Embeds: []embed{{
		Title:       meta.Title,
		Description: desc,
		URL:         meta.URL,
		Timestamp:   meta.Timestamp,
		Author:      embedAuthor{Name: meta.User},
		Fields: []embedField{
			{Name: "Comment", Value: comment, Inline: false},
		},
	}}}
}

// S3Event is the subset of an S3 event notification the notifier reads.
type S3Event struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// HandleEvent notifies for the single object named by an S3 event.
func (n *Notifier) HandleEvent(ctx context.Context, ev S3Event) error {
	if len(ev.Records) != 1 {
		return fmt.Errorf("expected 1 event record, got %d", len(ev.Records))
	}
	rec := ev.Records[0].S3
	// Keys in event notifications are form-encoded.
	key, err := url.QueryUnescape(rec.Object.Key)
	if err != nil {
		return fmt.Errorf("invalid object key %q: %w", rec.Object.Key, err)
	}
	return n.Notify(ctx, rec.Bucket.Name, key)
}
