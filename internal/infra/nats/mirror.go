package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"pulsequiz-sync/internal/domain"
)

const DefaultSubjectPrefix = "pulsequiz.events"

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect opens a NATS connection that logs its lifecycle.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("pulsequiz-sync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher is the subset of *nats.Conn the mirror needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Mirror republishes recorded events on NATS subjects of the form
// <prefix>.<code>.<type>. It implements app.EventJournal.
type Mirror struct {
	pub    Publisher
	prefix string
}

func NewMirror(pub Publisher, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{pub: pub, prefix: prefix}
}

// Subject returns the subject an event of the session is published on.
func (m *Mirror) Subject(code string, t domain.EventType) string {
	return fmt.Sprintf("%s.%s.%s", m.prefix, code, t)
}

func (m *Mirror) Record(_ context.Context, code string, evt domain.Event) error {
	data, err := evt.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(m.Subject(code, evt.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Pulsequiz-Session", code)
	if err := m.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}
