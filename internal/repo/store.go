package repo

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a threat or log event id does not exist.
var ErrNotFound = errors.New("record not found")

// StoreOptions tunes read-model queries shared by every adapter.
type StoreOptions struct {
	// CandidateWindow limits correlation candidates to threats discovered within the
	// window. Zero means every active threat.
	CandidateWindow time.Duration
	// PendingLimit caps how many unprocessed log events one batch reads. Zero means no cap.
	PendingLimit int
}
