// Package store provides SQLite-based scan history for scanwedge.
package store

import (
	"errors"
	"time"

	"scanwedge/internal/scanner"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Scan is one accepted scan as recorded in the history.
type Scan struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	Code        string         `json:"code"`
	Suffix      scanner.Suffix `json:"suffix"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Keystrokes  int            `json:"keystrokes"`
	AvgInterval time.Duration  `json:"avg_interval"`
}

// Result converts the row back to the controller's result type.
func (s Scan) Result() scanner.Result {
	return scanner.Result{
		Code:        s.Code,
		Suffix:      s.Suffix,
		SessionID:   s.SessionID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Keystrokes:  s.Keystrokes,
		AvgInterval: s.AvgInterval,
	}
}

// CodeCount is a code with how often it was scanned.
type CodeCount struct {
	Code  string    `json:"code"`
	Count int64     `json:"count"`
	Last  time.Time `json:"last"`
}

// Stats summarizes the history.
type Stats struct {
	TotalScans    int64     `json:"total_scans"`
	DistinctCodes int64     `json:"distinct_codes"`
	FirstScan     time.Time `json:"first_scan,omitempty"`
	LastScan      time.Time `json:"last_scan,omitempty"`
	SchemaVersion int       `json:"schema_version"`
}
