// ABOUTME: Domain types and errors for the SQLite-backed activity store.
// ABOUTME: Holds recent gateway log lines and a dispatch audit trail.

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("store: not found")

// LogEntry is one captured gateway log line. The registration list link
// subject serves these back to connected editors.
type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Component string
	Message   string
}

// DispatchRecord is one webhook delivery attempt for a matched trigger.
type DispatchRecord struct {
	ID            int64
	Timestamp     time.Time
	TriggerID     string
	Kind          string
	ChannelID     string
	PlaceholderID string
	Delivered     bool
}
