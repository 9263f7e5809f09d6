// Package activity keeps the append-only record of pipeline-triggered state
// transitions. Events are never updated or deleted; consumers recompute views
// by scanning with a time filter and a hard row cap.
package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"feedvault/internal/model"
)

// maxRows bounds the cost of any single scan.
const maxRows = 2000

type Store interface {
	InsertActivityEvent(eventType model.ActivityType, articleID *string, payloadJSON string) error
	ListActivityEvents(since, until *time.Time, limit int) ([]model.ActivityEvent, error)
}

type Log struct {
	store Store
}

func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Append records one event. The payload is serialized as JSON.
func (l *Log) Append(eventType model.ActivityType, articleID string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode activity payload: %w", err)
	}

	var id *string
	if articleID != "" {
		id = &articleID
	}

	if err := l.store.InsertActivityEvent(eventType, id, string(encoded)); err != nil {
		return fmt.Errorf("failed to append activity event: %w", err)
	}
	return nil
}

// List returns events newest-first within the optional time bounds, capped
// at the hard row limit.
func (l *Log) List(since, until *time.Time, limit int) ([]model.ActivityEvent, error) {
	if limit < 1 || limit > maxRows {
		limit = maxRows
	}
	return l.store.ListActivityEvents(since, until, limit)
}
