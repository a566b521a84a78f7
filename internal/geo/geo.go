package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// NearestRadiusKm is the search radius used by Nearest.
const NearestRadiusKm = 10

// Index answers proximity queries against live driver positions. Drivers are
// bucketed into fixed-precision geohash cells; a query inspects only the cell
// containing the query point. Drivers sitting just across a cell boundary are
// not returned; accepted trade-off of the fixed-cell design.
type Index interface {
	Upsert(driverID string, lat, lng float64)
	Remove(driverID string)
	Nearby(lat, lng, maxDistanceKm float64) []models.DriverPosition
	Nearest(lat, lng float64) (models.DriverPosition, bool)
	All() []models.DriverPosition
}

type MemoryIndex struct {
	mu        sync.RWMutex
	cells     map[string][]string // geohash -> driver ids, insertion order
	positions map[string]models.DriverPosition
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		cells:     make(map[string][]string),
		positions: make(map[string]models.DriverPosition),
	}
}

func (g *MemoryIndex) Upsert(driverID string, lat, lng float64) {
	cell := Encode(lat, lng, CellPrecision)
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.positions[driverID]; ok {
		g.evict(Encode(prev.Lat, prev.Lng, CellPrecision), driverID)
	}
	g.positions[driverID] = models.DriverPosition{DriverID: driverID, Lat: lat, Lng: lng, UpdatedAt: time.Now()}
	g.cells[cell] = append(g.cells[cell], driverID)
}

func (g *MemoryIndex) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.positions[driverID]
	if !ok {
		return
	}
	delete(g.positions, driverID)
	g.evict(Encode(prev.Lat, prev.Lng, CellPrecision), driverID)
}

// evict drops driverID from a cell's member list. Caller holds the lock.
func (g *MemoryIndex) evict(cell, driverID string) {
	members := g.cells[cell]
	for i, id := range members {
		if id == driverID {
			g.cells[cell] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(g.cells[cell]) == 0 {
		delete(g.cells, cell)
	}
}

// Nearby returns drivers in the query point's cell within maxDistanceKm,
// ordered ascending by distance. Ties keep insertion order.
func (g *MemoryIndex) Nearby(lat, lng, maxDistanceKm float64) []models.DriverPosition {
	cell := Encode(lat, lng, CellPrecision)
	g.mu.RLock()
	defer g.mu.RUnlock()

	type candidate struct {
		pos  models.DriverPosition
		dist float64
	}
	var found []candidate
	for _, id := range g.cells[cell] {
		pos, ok := g.positions[id]
		if !ok {
			continue
		}
		d := Haversine(lat, lng, pos.Lat, pos.Lng)
		if d <= maxDistanceKm {
			found = append(found, candidate{pos, d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })

	out := make([]models.DriverPosition, 0, len(found))
	for _, c := range found {
		out = append(out, c.pos)
	}
	return out
}

func (g *MemoryIndex) Nearest(lat, lng float64) (models.DriverPosition, bool) {
	near := g.Nearby(lat, lng, NearestRadiusKm)
	if len(near) == 0 {
		return models.DriverPosition{}, false
	}
	return near[0], true
}

func (g *MemoryIndex) All() []models.DriverPosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.DriverPosition, 0, len(g.positions))
	for _, pos := range g.positions {
		out = append(out, pos)
	}
	return out
}

const earthRadiusKm = 6371.0

// Haversine returns the raw great-circle distance in km. Proximity filtering
// uses this directly so a zero radius still matches an exactly colocated
// driver.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceKm is the ride distance between two points. Points within 0.0001
// degrees on both axes count as the same location; the result is floored at
// 0.5 km and rounded to two decimals.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if math.Abs(lat1-lat2) < 0.0001 && math.Abs(lng1-lng2) < 0.0001 {
		return 0.5
	}
	d := Haversine(lat1, lng1, lat2, lng2)
	if d < 0.5 {
		d = 0.5
	}
	return math.Round(d*100) / 100
}
