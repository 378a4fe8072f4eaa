// Package notify announces finished corpus builds on NATS.
//
// Every accepted flight is published on <prefix>.flight, every rejected one
// on <prefix>.rejected, and one summary per build on <prefix>.batch. Payloads
// are JSON.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mathias-muench/igc-lab/internal/corpus"
	"github.com/mathias-muench/igc-lab/internal/flight"
	"github.com/mathias-muench/igc-lab/internal/normalize"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "igc.corpus"

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subj string, data []byte) error
	Flush() error
	Close()
}

// Publisher sends build notifications.
type Publisher struct {
	nc     conn
	prefix string
	log    *slog.Logger
}

// Connect dials a NATS server.
func Connect(url, prefix string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("igccorpus"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newPublisher(nc, prefix, log), nil
}

func newPublisher(nc conn, prefix string, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{nc: nc, prefix: prefix, log: log}
}

// Close drops the connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

// FlightMessage announces one accepted flight.
type FlightMessage struct {
	Flight normalize.MetadataRow `json:"flight"`
}

// RejectedMessage announces one flight dropped by a lenient build.
type RejectedMessage struct {
	Key    flight.Key `json:"key"`
	Source string     `json:"source,omitempty"`
	Notes  []string   `json:"notes,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// BatchMessage summarises one build.
type BatchMessage struct {
	Summary corpus.Summary `json:"summary"`
	BuiltAt time.Time      `json:"built_at"`
}

// PublishCorpus sends one message per flight and rejection, then the batch
// summary, and waits for the server to acknowledge them.
func (p *Publisher) PublishCorpus(c *corpus.Corpus) error {
	for _, m := range c.Metadata {
		if err := p.publish("flight", FlightMessage{Flight: m}); err != nil {
			return err
		}
	}
	for _, r := range c.Rejected {
		msg := RejectedMessage{Key: r.Key, Source: r.Source, Notes: r.Notes}
		if r.Err != nil {
			msg.Error = r.Err.Error()
		}
		if err := p.publish("rejected", msg); err != nil {
			return err
		}
	}
	if err := p.publish("batch", BatchMessage{Summary: c.Summary(), BuiltAt: time.Now().UTC()}); err != nil {
		return err
	}
	if err := p.nc.Flush(); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	p.log.Info("corpus published", "subject", p.prefix, "flights", len(c.Metadata), "rejected", len(c.Rejected))
	return nil
}

func (p *Publisher) publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", kind, err)
	}
	subj := p.prefix + "." + kind
	if err := p.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}
