// Package natsfwd republishes bus events on NATS subjects so a fleet
// dashboard can follow drivers without polling.
package natsfwd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
)

const handlerKey = "natsfwd"

type Publisher interface {
	Publish(subject string, data []byte) error
}

type Envelope struct {
	ID         string      `json:"id"`
	Topic      string      `json:"topic"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type Forwarder struct {
	pub    Publisher
	nc     *nats.Conn
	prefix string
	log    log.Logger
}

func New(pub Publisher, prefix string) *Forwarder {
	f := &Forwarder{pub: pub, prefix: prefix}
	f.log = log.DefaultLogger
	f.log.Context = log.NewContext(nil).Str("module", "natsfwd").Value()
	return f
}

func Connect(url string, prefix string) (*Forwarder, error) {
	nc, err := nats.Connect(url, nats.Name("trackee-agent"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	f := New(nc, prefix)
	f.nc = nc
	return f, nil
}

func (f *Forwarder) Attach(b *bus.Bus) {
	b.RegisterHandler(handlerKey, bus.Handler{Handle: f.handle, Matcher: ".*"})
}

func (f *Forwarder) Detach(b *bus.Bus) {
	b.DeregisterHandler(handlerKey)
}

func (f *Forwarder) Subject(topic string) string {
	return f.prefix + "." + topic
}

func (f *Forwarder) handle(_ context.Context, e bus.Event) {
	env := Envelope{ID: e.ID, Topic: e.Topic, OccurredAt: e.OccurredAt, Data: e.Data}
	data, err := json.Marshal(env)
	if err != nil {
		f.log.Error().Err(err).Str("topic", e.Topic).Msg("encode event")
		return
	}
	if err := f.pub.Publish(f.Subject(e.Topic), data); err != nil {
		f.log.Warn().Err(err).Str("topic", e.Topic).Msg("publish event")
	}
}

// Close flushes pending publishes when the forwarder owns the connection.
func (f *Forwarder) Close() error {
	if f.nc == nil {
		return nil
	}
	return f.nc.Drain()
}
