/*
2025 © Logset
*/

package history

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// maxEntries bounds the history file; the oldest entries fall off.
const maxEntries = 100

// Entry is one recorded search.
type Entry struct {
	Query     string    `json:"query"`
	SQLMode   bool      `json:"sql_mode"`
	StartTime int64     `json:"start_time"`
	EndTime   int64     `json:"end_time"`
	Page      int       `json:"page"`
	RanAt     time.Time `json:"ran_at"`
}

// JSONStore stores search history in a file in json format.
type JSONStore struct {
	mu      sync.Mutex
	entries []Entry

	filePath string
}

// NewJSONStore creates a new store backed by the given file.
func NewJSONStore(filePath string) *JSONStore {
	return &JSONStore{filePath: filePath}
}

// Load reads history data from disk.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// no history yet, ignore
			return nil
		}

		return errors.Wrap(err, "failed to read history data")
	}

	return json.Unmarshal(data, &s.entries)
}

// Save writes history data to disk.
func (s *JSONStore) Save() error {
	s.mu.Lock()
	data, err := json.Marshal(s.entries)
	s.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "failed to encode history data")
	}

	return os.WriteFile(s.filePath, data, 0600)
}

// Entries returns the recorded searches, newest last.
func (s *JSONStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Entry(nil), s.entries...)
}

// Add records one search, dropping the oldest entry when full.
func (s *JSONStore) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)

	if len(s.entries) > maxEntries {
		s.entries = s.entries[len(s.entries)-maxEntries:]
	}
}
