// Package feedback implements the append-only feedback store. Records are
// immutable once written; corrections never mutate stored items, they
// accumulate here and drive the retrain scheduler.
package feedback

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common feedback errors.
var (
	ErrStoreClosed   = errors.New("feedback store is closed")
	ErrInvalidRecord = errors.New("invalid feedback record")
)

// Kind classifies a feedback record.
type Kind string

const (
	// KindClassificationCorrection asserts the correct category for an item.
	KindClassificationCorrection Kind = "classification-correction"

	// KindRelevanceJudgment asserts whether a retrieved item was relevant
	// to a query.
	KindRelevanceJudgment Kind = "relevance-judgment"
)

var validKinds = map[Kind]bool{
	KindClassificationCorrection: true,
	KindRelevanceJudgment:        true,
}

// Record is one immutable feedback entry.
type Record struct {
	// ID is a ULID assigned on insert when empty.
	ID string `json:"id"`

	// Source is the corrected item's ID, or the raw query text for
	// relevance judgments.
	Source string `json:"source"`

	// Kind of feedback.
	Kind Kind `json:"kind"`

	// Truth is the asserted category, or a relevance verdict.
	Truth string `json:"truth"`

	// Timestamp of the user's assertion, not of the insert.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries free-form context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks record fields.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("feedback source cannot be empty")
	}
	if !validKinds[r.Kind] {
		return errors.New("unknown feedback kind")
	}
	if strings.TrimSpace(r.Truth) == "" {
		return errors.New("feedback truth cannot be empty")
	}
	if r.Timestamp.IsZero() {
		return errors.New("feedback timestamp cannot be zero")
	}
	return nil
}

// Store is the feedback persistence contract. Append-only: Record is
// idempotent on (source, timestamp, kind) and nothing is ever updated.
type Store interface {
	// Record appends one entry. Duplicate (source, timestamp, kind)
	// triples are silently ignored.
	Record(ctx context.Context, rec *Record) error

	// Unseen returns the count and snapshot of records with a timestamp
	// strictly after since, ordered by timestamp then ID.
	Unseen(ctx context.Context, since time.Time) (int, []Record, error)

	// Samples returns up to limit records of the given kind, oldest first.
	Samples(ctx context.Context, kind Kind, limit int) ([]Record, error)

	// MarkConsumed advances a consumer's high-water mark.
	MarkConsumed(ctx context.Context, consumer string, upTo time.Time) error

	// LastConsumed returns a consumer's high-water mark, zero when unknown.
	LastConsumed(ctx context.Context, consumer string) (time.Time, error)

	// Close releases store resources.
	Close() error
}
