// Package journal records one entry per completed reporting cycle.
package journal

import (
	"time"
)

type Entry struct {
	CycleID   string    `json:"cycle_id"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	City      string    `json:"city"`
	Outcome   string    `json:"outcome"`
	Status    int       `json:"status"`
	Sends     int       `json:"sends"`
	CycleTime time.Time `json:"cycle_time"`
}

type Journal interface {
	Put(e Entry)
}

type Discard struct{}

func (Discard) Put(Entry) {}
