// Package audit delivers records of blocked requests to a persistent sink
// without ever holding up the request that produced them.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record describes one blocked request.
type Record struct {
	ID            string    `json:"id" dynamodbav:"id"`
	UserID        string    `json:"user_id,omitempty" dynamodbav:"user_id,omitempty"`
	Route         string    `json:"route" dynamodbav:"route"`
	Hits          int64     `json:"hits" dynamodbav:"hits"`
	WindowSeconds int64     `json:"window_seconds" dynamodbav:"window_seconds"`
	OccurredAt    time.Time `json:"occurred_at" dynamodbav:"occurred_at"`
}

// NewRecord creates a record with a fresh ID.
func NewRecord(userID, route string, hits, windowSeconds int64, at time.Time) Record {
	return Record{
		ID:            uuid.NewString(),
		UserID:        userID,
		Route:         route,
		Hits:          hits,
		WindowSeconds: windowSeconds,
		OccurredAt:    at.UTC(),
	}
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Write calls f(ctx, rec).
func (f SinkFunc) Write(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
