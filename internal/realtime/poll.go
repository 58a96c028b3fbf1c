package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/api"
	"pulsequiz-sync/internal/domain"
)

// EventSource is the pull side of the session API.
type EventSource interface {
	FetchState(ctx context.Context, code string, id domain.Identity) (domain.SessionSnapshot, error)
	FetchEvents(ctx context.Context, code string, id domain.Identity, sinceID int64) (api.EventPage, error)
}

// PollCursor fetches the session state once and then polls for events newer
// than its watermark.
type PollCursor struct {
	src      EventSource
	code     string
	id       domain.Identity
	clock    clockwork.Clock
	interval time.Duration

	watermark atomic.Int64

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPollCursor(src EventSource, code string, id domain.Identity, clock clockwork.Clock, interval time.Duration) *PollCursor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollCursor{src: src, code: code, id: id, clock: clock, interval: interval}
}

// Start delivers the current state as a session_state event and then polls
// on the interval. A failed initial fetch is returned and nothing is polled.
func (p *PollCursor) Start(ctx context.Context, deliver func(domain.Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		return domain.ErrConnectionClosed
	}
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	snap, err := p.src.FetchState(ctx, p.code, p.id)
	if err != nil {
		cancel()
		close(done)
		return fmt.Errorf("initial state fetch: %w", err)
	}
	evt, err := domain.NewEvent(domain.EventSessionState, domain.SessionStatePayload{State: snap})
	if err != nil {
		cancel()
		close(done)
		return err
	}
	deliver(evt)

	go p.loop(ctx, deliver, done)
	return nil
}

func (p *PollCursor) loop(ctx context.Context, deliver func(domain.Event), done chan struct{}) {
	defer close(done)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.poll(ctx, deliver)
		}
	}
}

func (p *PollCursor) poll(ctx context.Context, deliver func(domain.Event)) {
	since := p.watermark.Load()
	page, err := p.src.FetchEvents(ctx, p.code, p.id, since)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("code", p.code).Int64("since_id", since).Msg("poll failed")
		}
		return
	}

	for _, raw := range page.Events {
		frame, err := StripPrivate(raw)
		if err != nil {
			log.Warn().Err(err).Str("code", p.code).Msg("skipping malformed polled event")
			continue
		}
		evt, err := domain.DecodeEvent(frame)
		if err != nil {
			log.Warn().Err(err).Str("code", p.code).Msg("skipping malformed polled event")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		deliver(evt)
	}

	if page.LastEventID > since {
		p.watermark.Store(page.LastEventID)
	}
}

// Watermark returns the highest event id seen.
func (p *PollCursor) Watermark() int64 {
	return p.watermark.Load()
}

// Stop cancels polling and waits for the loop to exit. It must not be called
// from the deliver callback.
func (p *PollCursor) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StripPrivate drops top-level keys starting with an underscore so polled
// frames look like pushed ones.
func StripPrivate(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("event is not an object: %w", err)
	}
	stripped := false
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			delete(fields, k)
			stripped = true
		}
	}
	if !stripped {
		return raw, nil
	}
	return json.Marshal(fields)
}
