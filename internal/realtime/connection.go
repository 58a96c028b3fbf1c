package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/domain"
)

const (
	DefaultConnectTimeout = 5000 * time.Millisecond
	DefaultPollInterval   = 1000 * time.Millisecond
)

// Mode is the transport state of a SmartConnection.
//
//	connecting -> push | pull -> closed
//	push       -> pull
type Mode string

const (
	ModeConnecting Mode = "connecting"
	ModePush       Mode = "push"
	ModePull       Mode = "pull"
	ModeClosed     Mode = "closed"
)

// Handlers receive normalized events and advisory notifications. They are
// called from transport goroutines and must not call Close synchronously.
type Handlers struct {
	OnEvent      func(domain.Event)
	OnModeChange func(Mode)
	OnError      func(error)
}

type Options struct {
	ServerURL      string
	Clock          clockwork.Clock
	ConnectTimeout time.Duration
	PollInterval   time.Duration
}

// SmartConnection prefers the push channel and falls back to polling once,
// when push fails to open in time or drops.
type SmartConnection struct {
	id     string
	code   string
	ident  domain.Identity
	src    EventSource
	opts   Options
	h      Handlers
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	mode     Mode
	degraded bool
	channel  *EventChannel
	watchdog clockwork.Timer
	poll     *PollCursor
}

// Connect starts connecting and returns immediately. Events arrive through h.
func Connect(ctx context.Context, code string, ident domain.Identity, src EventSource, opts Options, h Handlers) (*SmartConnection, error) {
	if _, err := ident.Role(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	pushURL, err := PushURL(opts.ServerURL, code)
	if err != nil {
		return nil, err
	}

	c := &SmartConnection{
		id:      uuid.NewString(),
		code:    code,
		ident:   ident,
		src:     src,
		opts:    opts,
		h:       h,
		mode:    ModeConnecting,
		channel: NewEventChannel(pushURL),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	log.Debug().Str("conn_id", c.id).Str("code", code).Str("url", pushURL).Msg("connecting push channel")

	c.mu.Lock()
	c.watchdog = opts.Clock.AfterFunc(opts.ConnectTimeout, func() {
		go c.degrade("push connect timeout", nil)
	})
	c.mu.Unlock()

	c.channel.Open(c.ctx, ChannelHandlers{
		OnOpen:  c.onPushOpen,
		OnFrame: c.onPushFrame,
		OnClose: func(err error) { c.degrade("push channel closed", err) },
	})
	return c, nil
}

// ID identifies this connection in logs.
func (c *SmartConnection) ID() string {
	return c.id
}

func (c *SmartConnection) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *SmartConnection) onPushOpen() {
	c.mu.Lock()
	if c.mode != ModeConnecting {
		c.mu.Unlock()
		return
	}
	c.watchdog.Stop()
	c.mode = ModePush
	ch := c.channel
	c.mu.Unlock()

	log.Info().Str("conn_id", c.id).Str("code", c.code).Msg("push channel open")
	c.notifyMode(ModePush)

	msg, _ := c.ident.IdentifyMessage()
	if err := ch.Send(msg); err != nil {
		c.degrade("identify failed", err)
	}
}

func (c *SmartConnection) onPushFrame(frame []byte) {
	evt, err := domain.DecodeEvent(frame)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", c.id).Msg("skipping malformed push frame")
		return
	}
	if c.Mode() != ModePush {
		return
	}
	c.emit(evt)
}

func (c *SmartConnection) onPullEvent(evt domain.Event) {
	if c.Mode() != ModePull {
		return
	}
	c.emit(evt)
}

// degrade switches to polling. Only the first call has any effect.
func (c *SmartConnection) degrade(reason string, cause error) {
	c.mu.Lock()
	if c.degraded || c.mode == ModeClosed {
		c.mu.Unlock()
		return
	}
	c.degraded = true
	c.watchdog.Stop()
	ch := c.channel
	c.channel = nil
	from := c.mode
	c.mode = ModePull
	poll := NewPollCursor(c.src, c.code, c.ident, c.opts.Clock, c.opts.PollInterval)
	c.poll = poll
	c.mu.Unlock()

	log.Warn().Err(cause).Str("conn_id", c.id).Str("code", c.code).Str("from", string(from)).Str("reason", reason).Msg("falling back to polling")
	if ch != nil {
		_ = ch.Close()
	}
	c.notifyMode(ModePull)

	if err := poll.Start(c.ctx, c.onPullEvent); err != nil {
		if errors.Is(err, domain.ErrConnectionClosed) || c.ctx.Err() != nil {
			return
		}
		connErr := &domain.ConnectionError{Code: c.code, Cause: err}
		log.Error().Err(err).Str("conn_id", c.id).Str("code", c.code).Msg("transport failed")
		if c.h.OnError != nil {
			c.h.OnError(connErr)
		}
		_ = c.Close()
	}
}

// Send writes a frame on the push channel. In any other mode it does nothing.
func (c *SmartConnection) Send(v any) error {
	c.mu.Lock()
	if c.mode != ModePush {
		c.mu.Unlock()
		return nil
	}
	ch := c.channel
	c.mu.Unlock()
	return ch.Send(v)
}

// Close stops the watchdog and whichever transport is active. Safe to call
// repeatedly and before connecting finishes.
func (c *SmartConnection) Close() error {
	c.mu.Lock()
	if c.mode == ModeClosed {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeClosed
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	ch, poll := c.channel, c.poll
	c.channel, c.poll = nil, nil
	c.mu.Unlock()

	c.cancel()
	if ch != nil {
		_ = ch.Close()
	}
	if poll != nil {
		poll.Stop()
	}
	log.Info().Str("conn_id", c.id).Str("code", c.code).Msg("connection closed")
	c.notifyMode(ModeClosed)
	return nil
}

func (c *SmartConnection) emit(evt domain.Event) {
	if c.h.OnEvent != nil {
		c.h.OnEvent(evt)
	}
}

func (c *SmartConnection) notifyMode(m Mode) {
	if c.h.OnModeChange != nil {
		c.h.OnModeChange(m)
	}
}
