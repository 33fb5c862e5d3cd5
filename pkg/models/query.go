/*
2025 © Logset
*/

// Package models describes the data exchanged between the search
// orchestrator, its transports and the remote search backend.
package models

import (
	"encoding/json"
)

// SQL modes supported by the backend.
const (
	SQLModeFull    = "full"
	SQLModeContext = "context"
)

// SizeAllRows requests every matching row, used for aggregation and
// group-by queries where the backend ignores pagination.
const SizeAllRows = -1

// SQLSource holds either a single SQL statement or one statement per
// selected stream (multi-stream quick mode). It marshals as a plain
// string when it carries exactly one statement.
type SQLSource []string

// Single reports whether the source carries exactly one statement.
func (s SQLSource) Single() bool {
	return len(s) == 1
}

// First returns the first statement or an empty string.
func (s SQLSource) First() string {
	if len(s) == 0 {
		return ""
	}

	return s[0]
}

// MarshalJSON keeps the wire shape the backend expects: a bare string
// for one statement, an array otherwise.
func (s SQLSource) MarshalJSON() ([]byte, error) {
	if s.Single() {
		return json.Marshal(s[0])
	}

	return json.Marshal([]string(s))
}

// UnmarshalJSON accepts both the string and the array form.
func (s *SQLSource) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = SQLSource{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}

	*s = SQLSource(many)

	return nil
}

// QueryRequest is one search request as sent to the backend. It is
// owned by exactly one in-flight run and cloned before any derivation
// (histogram, page count, download).
type QueryRequest struct {
	SQL             SQLSource `json:"sql"`
	StartTime       int64     `json:"start_time"`
	EndTime         int64     `json:"end_time"`
	From            int       `json:"from"`
	Size            int       `json:"size"`
	QuickMode       bool      `json:"quick_mode"`
	SQLMode         string    `json:"sql_mode"`
	TrackTotalHits  bool      `json:"track_total_hits"`
	StreamingOutput bool      `json:"streaming_output,omitempty"`
	StreamingID     string    `json:"streaming_id,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (q *QueryRequest) Clone() *QueryRequest {
	c := *q
	c.SQL = append(SQLSource(nil), q.SQL...)

	return &c
}

// SearchRequest is the envelope posted to the search endpoint.
type SearchRequest struct {
	Query    *QueryRequest `json:"query"`
	Regions  []string      `json:"regions,omitempty"`
	Clusters []string      `json:"clusters,omitempty"`
}
