/*
2025 © Logset
*/

package history

import (
	"strconv"
	"time"
)

// Syncer records the filters of every run into the store. It
// implements the query synchronization hook of the builder.
type Syncer struct {
	store Store
	now   func() time.Time
}

// NewSyncer creates a Syncer on the given store.
func NewSyncer(store Store) *Syncer {
	return &Syncer{store: store, now: time.Now}
}

// SyncFilters converts one run's filters into a history entry.
func (s *Syncer) SyncFilters(filters map[string]string) {
	sqlMode, _ := strconv.ParseBool(filters["sql_mode"])
	startTime, _ := strconv.ParseInt(filters["from"], 10, 64)
	endTime, _ := strconv.ParseInt(filters["to"], 10, 64)
	page, _ := strconv.Atoi(filters["page"])

	s.store.Add(Entry{
		Query:     filters["query"],
		SQLMode:   sqlMode,
		StartTime: startTime,
		EndTime:   endTime,
		Page:      page,
		RanAt:     s.now(),
	})
}
