// Package events is the in-process event bus for cycle outcomes and agent
// lifecycle changes.
package events

import (
	"context"
	"fmt"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
)

const (
	CYCLE_COMPLETED  = "cycle.completed"
	REAUTH_REQUIRED  = "auth.reauth_required"
	TRACKING_STARTED = "tracking.started"
	TRACKING_STOPPED = "tracking.stopped"
)

var Topics = []string{CYCLE_COMPLETED, REAUTH_REQUIRED, TRACKING_STARTED, TRACKING_STOPPED}

// 2020-01-01T00:00:00Z in milliseconds, the epoch of event ids.
const initialTime = uint64(1577836800000)

type Emitter interface {
	Emit(ctx context.Context, topic string, data interface{}) error
}

func New(node uint64) (*bus.Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, initialTime)
	if err != nil {
		return nil, fmt.Errorf("event id generator: %w", err)
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	b.RegisterTopics(Topics...)
	return b, nil
}

type Discard struct{}

func (Discard) Emit(context.Context, string, interface{}) error { return nil }
