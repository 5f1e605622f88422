// Package position defines where the reporting loop gets its fixes from.
package position

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"
)

// ErrUnavailable means the source has no usable fix right now.
var ErrUnavailable = errors.New("location unavailable")

type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s Sample) MarshalObject(e *log.Entry) {
	e.Float64("lat", s.Latitude).Float64("lon", s.Longitude).Time("observed_at", s.ObservedAt)
}

// Source yields the most recent known position.
type Source interface {
	Current(ctx context.Context) (Sample, error)
}

// Static always reports the same coordinates, stamped with the time of the request.
type Static struct {
	Latitude  float64
	Longitude float64
	Now       func() time.Time
}

func (s *Static) Current(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Sample{Latitude: s.Latitude, Longitude: s.Longitude, ObservedAt: now().UTC()}, nil
}
