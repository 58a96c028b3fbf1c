package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/domain"
)

// EventJournal records normalized events for later inspection or replay.
type EventJournal interface {
	Record(ctx context.Context, code string, evt domain.Event) error
}

// JournalEntry is one recorded event.
type JournalEntry struct {
	Seq   int64
	Code  string
	Event domain.Event
}

// ErrJournalFull is returned when the async writer queue is saturated.
var ErrJournalFull = errors.New("journal queue full")

// MultiJournal fans one record out to several journals. The first error wins
// but every journal is attempted.
type MultiJournal []EventJournal

func (m MultiJournal) Record(ctx context.Context, code string, evt domain.Event) error {
	var first error
	for _, j := range m {
		if err := j.Record(ctx, code, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type journalItem struct {
	code string
	evt  domain.Event
}

// JournalWriter records events on a background goroutine so slow backends
// never hold up event reduction.
type JournalWriter struct {
	next  EventJournal
	queue chan journalItem

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func NewJournalWriter(next EventJournal, size int) *JournalWriter {
	if size <= 0 {
		size = 256
	}
	w := &JournalWriter{
		next:    next,
		queue:   make(chan journalItem, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Record enqueues an event. It never blocks; a full queue drops the event.
func (w *JournalWriter) Record(_ context.Context, code string, evt domain.Event) error {
	select {
	case <-w.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case w.queue <- journalItem{code: code, evt: evt}:
		return nil
	default:
		log.Warn().Str("code", code).Str("type", string(evt.Type)).Msg("journal queue full, dropping event")
		return ErrJournalFull
	}
}

func (w *JournalWriter) loop() {
	defer close(w.stopped)
	for {
		select {
		case item := <-w.queue:
			w.write(item)
		case <-w.done:
			// drain what is already queued
			for {
				select {
				case item := <-w.queue:
					w.write(item)
				default:
					return
				}
			}
		}
	}
}

func (w *JournalWriter) write(item journalItem) {
	if err := w.next.Record(context.Background(), item.code, item.evt); err != nil {
		log.Warn().Err(err).Str("code", item.code).Str("type", string(item.evt.Type)).Msg("journal write failed")
	}
}

// Close stops accepting events and flushes the queue.
func (w *JournalWriter) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.stopped
}

// Replay folds recorded entries into a fresh state. Malformed entries are skipped.
func Replay(code string, entries []JournalEntry) State {
	s := NewState(code)
	for _, e := range entries {
		if next, err := Reduce(s, e.Event); err == nil {
			s = next
		}
	}
	return s
}
