package memory

import (
	"context"
	"sync"

	"pulsequiz-sync/internal/app"
	"pulsequiz-sync/internal/domain"
)

// Journal keeps recorded events in memory, bounded per session.
type Journal struct {
	limit int

	mu      sync.RWMutex
	seq     int64
	entries map[string][]app.JournalEntry
}

func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{limit: limit, entries: make(map[string][]app.JournalEntry)}
}

func (j *Journal) Record(_ context.Context, code string, evt domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	list := append(j.entries[code], app.JournalEntry{Seq: j.seq, Code: code, Event: evt})
	if len(list) > j.limit {
		list = list[len(list)-j.limit:]
	}
	j.entries[code] = list
	return nil
}

// Entries returns the recorded events of a session, oldest first.
func (j *Journal) Entries(_ context.Context, code string) ([]app.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]app.JournalEntry(nil), j.entries[code]...), nil
}
