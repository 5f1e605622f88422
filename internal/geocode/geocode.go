// Package geocode turns a position into a human readable place name.
package geocode

import (
	"context"
	"strings"

	"github.com/phuslu/log"
	"nuha.dev/trackee/internal/position"
)

// Unknown is reported whenever a lookup fails or finds nothing.
const Unknown = "Unknown"

type Resolver interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// PlaceName never fails: lookup errors and empty names degrade to Unknown.
func PlaceName(ctx context.Context, r Resolver, s position.Sample) string {
	if r == nil {
		return Unknown
	}
	name, err := r.Reverse(ctx, s.Latitude, s.Longitude)
	if err != nil {
		log.Debug().Err(err).Str("resolver", r.Name()).EmbedObject(s).Msg("reverse lookup failed")
		return Unknown
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Unknown
	}
	return name
}

// ResolverFunc adapts a plain function.
type ResolverFunc func(ctx context.Context, lat, lon float64) (string, error)

func (f ResolverFunc) Name() string { return "func" }

func (f ResolverFunc) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return f(ctx, lat, lon)
}
