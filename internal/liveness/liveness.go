// Package liveness keeps the user-visible "tracking is running" indicator
// current. Updates are idempotent; the reporting loop calls Update once per cycle.
package liveness

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

const TITLE = "Trackee Driver Active"

type Status struct {
	Title   string    `json:"title"`
	Text    string    `json:"text"`
	Place   string    `json:"place"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

func NewStatus(place string, outcome string, at time.Time) Status {
	return Status{Title: TITLE, Text: "Current location: " + place, Place: place, Outcome: outcome, At: at}
}

func (s Status) MarshalObject(e *log.Entry) {
	e.Str("text", s.Text).Str("outcome", s.Outcome).Time("at", s.At)
}

type Signal interface {
	Update(s Status)
}

// LogSignal writes the status line to the log, at info level only when the text changes.
type LogSignal struct {
	mu   sync.Mutex
	last string
	log  log.Logger
}

func NewLogSignal() *LogSignal {
	l := &LogSignal{}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "liveness").Value()
	return l
}

func (l *LogSignal) Update(s Status) {
	l.mu.Lock()
	changed := s.Text != l.last
	l.last = s.Text
	l.mu.Unlock()
	if changed {
		l.log.Info().EmbedObject(s).Msg(s.Title)
	} else {
		l.log.Debug().EmbedObject(s).Msg(s.Title)
	}
}

type Multi []Signal

func (m Multi) Update(s Status) {
	for _, sig := range m {
		sig.Update(s)
	}
}

type Subscriber struct {
	C       chan Status
	skipped uint64
	pushed  uint64
}

func (sub *Subscriber) push(s Status) {
	select {
	case sub.C <- s:
		atomic.AddUint64(&sub.pushed, 1)
	default:
		atomic.AddUint64(&sub.skipped, 1)
	}
}

func (sub *Subscriber) Stat() (pushed uint64, skipped uint64) {
	return atomic.LoadUint64(&sub.pushed), atomic.LoadUint64(&sub.skipped)
}

// Board holds the latest status and fans it out to subscribers. A slow
// subscriber misses updates instead of blocking the loop.
type Board struct {
	mu     sync.Mutex
	latest Status
	has    bool
	subs   map[*Subscriber]struct{}
}

func NewBoard() *Board {
	return &Board{subs: make(map[*Subscriber]struct{})}
}

func (b *Board) Update(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = s
	b.has = true
	for sub := range b.subs {
		sub.push(s)
	}
}

func (b *Board) Latest() (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Subscribe registers a subscriber; the latest status, if any, is delivered first.
func (b *Board) Subscribe(buf int) *Subscriber {
	sub := &Subscriber{C: make(chan Status, buf)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	if b.has {
		sub.push(b.latest)
	}
	b.mu.Unlock()
	return sub
}

func (b *Board) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
