// Package gazetteer is an offline reverse geocoder backed by an R-Tree of
// known places. The nearest place within a distance limit wins.
package gazetteer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dhconnelly/rtreego"
)

const (
	tolerance   = 0.0001
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371.0 // km
)

var ErrNoPlace = errors.New("no place within range")

type Place struct {
	Name string
	Lat  float64
	Lon  float64
}

type placeItem struct {
	*Place
	rect *rtreego.Rect
}

func (p *placeItem) Bounds() *rtreego.Rect {
	return p.rect
}

type Gazetteer struct {
	mu          sync.RWMutex
	tree        *rtreego.Rtree
	size        int
	maxDistance float64
}

// New indexes places; maxDistanceKm <= 0 disables the range limit.
func New(places []Place, maxDistanceKm float64) *Gazetteer {
	g := &Gazetteer{
		tree:        rtreego.NewTree(dimensions, minChildren, maxChildren),
		maxDistance: maxDistanceKm,
	}
	for i := range places {
		p := places[i]
		rect := rtreego.Point{p.Lat, p.Lon}.ToRect(tolerance)
		g.tree.Insert(&placeItem{&p, rect})
		g.size++
	}
	return g
}

// Load reads a name,lat,lon CSV file. A header row is skipped when its
// coordinates do not parse.
func Load(path string, maxDistanceKm float64) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	places, err := ReadPlaces(f)
	if err != nil {
		return nil, fmt.Errorf("gazetteer %s: %w", path, err)
	}
	return New(places, maxDistanceKm), nil
}

func ReadPlaces(r io.Reader) ([]Place, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	places := make([]Place, 0, 64)
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err1 != nil || err2 != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: bad coordinates", line)
		}
		places = append(places, Place{Name: strings.TrimSpace(rec[0]), Lat: lat, Lon: lon})
	}
	return places, nil
}

func (g *Gazetteer) Name() string { return "gazetteer" }

func (g *Gazetteer) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.size
}

func (g *Gazetteer) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.size == 0 {
		return "", ErrNoPlace
	}
	nearest := g.tree.NearestNeighbor(rtreego.Point{lat, lon})
	item, ok := nearest.(*placeItem)
	if !ok || item.Place == nil {
		return "", ErrNoPlace
	}
	if g.maxDistance > 0 && haversine(lat, lon, item.Lat, item.Lon) > g.maxDistance {
		return "", ErrNoPlace
	}
	return item.Name, nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
