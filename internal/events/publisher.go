// Package events publishes session lifecycle events to NATS so dashboards
// and LMS integrations can follow along without touching the server.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/store"
)

// Subjects for session lifecycle events.
const (
	SubjectSessionCreated = "arcade.session.created"
	SubjectSessionStarted = "arcade.session.started"
	SubjectSessionEnded   = "arcade.session.ended"
)

// Publisher emits session lifecycle events. Implementations must not block;
// publish failures are logged and counted, never surfaced to sessions.
type Publisher interface {
	SessionCreated(rec store.SessionRecord)
	SessionStarted(rec store.SessionRecord)
	SessionEnded(res store.SessionResults)
	Close()
}

// Noop drops all events. Used when no NATS URL is configured.
type Noop struct{}

func (Noop) SessionCreated(store.SessionRecord) {}
func (Noop) SessionStarted(store.SessionRecord) {}
func (Noop) SessionEnded(store.SessionResults)  {}
func (Noop) Close()                             {}

// NATS publishes events over a NATS connection.
type NATS struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATS connects to NATS with unlimited reconnects. Connection state
// changes are logged, not fatal.
func NewNATS(url, name string, logger zerolog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			evt := logger.Error().Err(err)
			if sub != nil {
				evt = evt.Str("subject", sub.Subject)
			}
			evt.Msg("nats error")
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to nats")
	return &NATS{conn: conn, logger: logger}, nil
}

func (p *NATS) SessionCreated(rec store.SessionRecord) {
	p.publish(SubjectSessionCreated, rec)
}

func (p *NATS) SessionStarted(rec store.SessionRecord) {
	p.publish(SubjectSessionStarted, rec)
}

func (p *NATS) SessionEnded(res store.SessionResults) {
	p.publish(SubjectSessionEnded, res)
}

// Close flushes buffered messages before dropping the connection.
func (p *NATS) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("nats drain failed")
		p.conn.Close()
	}
}

func (p *NATS) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		monitoring.EventPublishFailures.Inc()
		p.logger.Error().Err(err).Str("subject", subject).Msg("marshal event failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		monitoring.EventPublishFailures.Inc()
		p.logger.Error().Err(err).Str("subject", subject).Msg("publish event failed")
	}
}
