// Package events publishes trip and visit lifecycle events to NATS and
// receives device samples relayed over NATS.
package events

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const SubjectPrefix = "fieldops"

type Metrics interface {
	EventPublished(err error)
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subj string, data []byte) error
}

type Publisher struct {
	nc      *nats.Conn
	conn    conn
	log     logrus.FieldLogger
	metrics Metrics
	now     func() time.Time
}

// Envelope wraps every lifecycle event.
type Envelope struct {
	Kind       string    `json:"kind"`
	StaffID    string    `json:"staff_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

func Connect(url string, log logrus.FieldLogger, m Metrics) (*Publisher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name("fieldops-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, log, m)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, log logrus.FieldLogger, m Metrics) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{conn: c, log: log, metrics: m, now: time.Now}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// PublishEvent sends kind (for example "trip.started") on
// fieldops.<kind>.<staff>.
func (p *Publisher) PublishEvent(kind, staffID string, payload any) error {
	if kind == "" {
		return errors.New("event kind required")
	}
	b, err := json.Marshal(Envelope{Kind: kind, StaffID: staffID, OccurredAt: p.now().UTC(), Data: payload})
	if err != nil {
		return err
	}
	subject := EventSubject(kind, staffID)
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.EventPublished(err)
	}
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("nats publish failed")
	}
	return err
}

func EventSubject(kind, staffID string) string {
	return SubjectPrefix + "." + kind + "." + subjectToken(staffID)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
