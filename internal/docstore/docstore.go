// Package docstore persists event payloads in Redis as versioned JSON
// documents. Every (source, work) pair has one current document, overwritten
// on each successful fetch, plus one immutable document per retrieval
// history entry. Revisions are per-key monotonic counters.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Document types stored under each key.
const (
	DocTypeCurrent = "current"
	DocTypeHistory = "history"
)

// revisionSuffix is appended to a document key to form its revision counter key.
const revisionSuffix = ":rev"

// Attachment is the JSON form of a binary payload, stored base64-encoded on
// current documents only.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// Document is the stored JSON shape.
type Document struct {
	ID           string           `json:"_id"`
	Revision     int64            `json:"_rev"`
	DocType      string           `json:"doc_type"`
	Source       string           `json:"source"`
	PID          string           `json:"pid"`
	EventCount   int64            `json:"event_count"`
	Events       interface{}      `json:"events,omitempty"`
	EventsURL    string           `json:"events_url,omitempty"`
	EventMetrics map[string]int64 `json:"event_metrics,omitempty"`
	RetrievedAt  time.Time        `json:"retrieved_at"`
	Attachment   *Attachment      `json:"_attachment,omitempty"`
}

// Store reads and writes documents in Redis.
type Store struct {
	client *redis.Client
}

// New creates a document store backed by the given Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// CurrentKey builds the key of the current document for a (source, work)
// pair. The PID is escaped so DOIs with slashes stay one key segment.
func CurrentKey(source, pid string) string {
	return source + ":" + url.QueryEscape(pid)
}

// HistoryKey builds the key of one history document.
func HistoryKey(historyID uuid.UUID) string {
	return historyID.String()
}

// PutCurrent overwrites the current document for a (source, work) pair and
// returns the new revision. The attachment, when present, is carried on this
// document only.
func (s *Store) PutCurrent(ctx context.Context, source string, work *domain.Work, result *domain.FetchResult, retrievedAt time.Time) (int64, error) {
	if result == nil || result.EventCount == nil {
		return 0, domain.NewValidationError("result", "a confident fetch result is required")
	}

	key := CurrentKey(source, work.PID)
	doc := Document{
		ID:           key,
		DocType:      DocTypeCurrent,
		Source:       source,
		PID:          work.PID,
		EventCount:   *result.EventCount,
		Events:       result.Events,
		EventsURL:    result.EventsURL,
		EventMetrics: result.EventMetrics,
		RetrievedAt:  retrievedAt.UTC(),
	}
	if result.Attachment != nil {
		doc.Attachment = &Attachment{
			Filename:    result.Attachment.Filename,
			ContentType: result.Attachment.ContentType,
			Data:        base64.StdEncoding.EncodeToString(result.Attachment.Data),
		}
	}

	return s.put(ctx, key, &doc)
}

// PutHistory writes the immutable document for one history entry and returns
// its revision. History documents never carry attachments.
func (s *Store) PutHistory(ctx context.Context, historyID uuid.UUID, source string, work *domain.Work, result *domain.FetchResult, retrievedAt time.Time) (int64, error) {
	if result == nil || result.EventCount == nil {
		return 0, domain.NewValidationError("result", "a confident fetch result is required")
	}

	key := HistoryKey(historyID)
	doc := Document{
		ID:           key,
		DocType:      DocTypeHistory,
		Source:       source,
		PID:          work.PID,
		EventCount:   *result.EventCount,
		Events:       result.Events,
		EventsURL:    result.EventsURL,
		EventMetrics: result.EventMetrics,
		RetrievedAt:  retrievedAt.UTC(),
	}

	return s.put(ctx, key, &doc)
}

// Get retrieves the document stored under key.
// Returns domain.ErrNotFound when no document exists.
func (s *Store) Get(ctx context.Context, key string) (*Document, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewNotFoundError("document", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return &doc, nil
}

// GetCurrent retrieves the current document for a (source, work) pair.
func (s *Store) GetCurrent(ctx context.Context, source, pid string) (*Document, error) {
	return s.Get(ctx, CurrentKey(source, pid))
}

// Revision returns the current revision counter for a key, zero when the
// key has never been written.
func (s *Store) Revision(ctx context.Context, key string) (int64, error) {
	rev, err := s.client.Get(ctx, key+revisionSuffix).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get document revision: %w", err)
	}
	return rev, nil
}

// put bumps the revision counter for key and stores the document with the
// new revision embedded.
func (s *Store) put(ctx context.Context, key string, doc *Document) (int64, error) {
	rev, err := s.client.Incr(ctx, key+revisionSuffix).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump document revision: %w", err)
	}
	doc.Revision = rev

	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return 0, fmt.Errorf("failed to set document: %w", err)
	}

	return rev, nil
}
