package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event type, e.g. "stablerouter.transfer.completed"
const DefaultSubjectPrefix = "stablerouter"

// Connect dials NATS with reconnects enabled
func Connect(url string, timeout time.Duration) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			eventsLog.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			eventsLog.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// DefaultDuplicateWindow is how long a stream remembers message ids
const DefaultDuplicateWindow = 10 * time.Minute

// eventNamespace scopes the name based message ids
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Cogwheel-Validator/spectra-stable-router/events"))

// NATSPublisher publishes JSON events, on core NATS or into a JetStream stream. Only a stream
// acts on the Nats-Msg-Id header; core subscribers see every publish.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher publishes on prefix + "." + event type with core NATS
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// NewJetStreamPublisher publishes into stream, creating it over prefix.> when it does not exist.
// The stream drops a repeated event inside its duplicate window.
func NewJetStreamPublisher(conn *nats.Conn, prefix, stream string) (*NATSPublisher, error) {
	p := NewNATSPublisher(conn, prefix)
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("look up stream %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       stream,
			Subjects:   []string{p.prefix + ".>"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     24 * time.Hour,
			Storage:    nats.FileStorage,
			Duplicates: DefaultDuplicateWindow,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
		eventsLog.Info().Str("stream", stream).Str("subjects", p.prefix+".>").Msg("Created event stream")
	}
	p.js = js
	return p, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := NewMessage(p.prefix, ev)
	if err != nil {
		return err
	}
	if p.js != nil {
		ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
		if ack.Duplicate {
			eventsLog.Debug().Str("subject", msg.Subject).Str("id", msg.Header.Get(nats.MsgIdHdr)).Msg("Stream dropped a duplicate event")
		}
		return nil
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// MessageID names one event of one transfer. A re-emitted event gets the same id.
func MessageID(ev Event) string {
	return uuid.NewSHA1(eventNamespace, []byte(ev.TransferID+"/"+string(ev.Type))).String()
}

// NewMessage builds the NATS message for an event
func NewMessage(prefix string, ev Event) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	msg := nats.NewMsg(prefix + "." + string(ev.Type))
	msg.Header.Set(nats.MsgIdHdr, MessageID(ev))
	msg.Data = data
	return msg, nil
}
