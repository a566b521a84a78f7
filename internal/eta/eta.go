package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Client is the interface used to get trip duration estimates.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// City traffic speeds in km/h per vehicle class.
var vehicleSpeedKmh = map[string]float64{
	"BIKE":       28.0,
	"MOTORCYCLE": 28.0,
	"SCOOTER":    26.0,
	"AUTO":       22.0,
	"CAR":        25.0,
	"XUV":        23.0,
}

const defaultSpeedKmh = 25.0

// MinutesForVehicle estimates the trip duration from distance and vehicle
// class, with a 3 minute floor for very short hops.
func MinutesForVehicle(distanceKm float64, vehicleType string) float64 {
	speed, ok := vehicleSpeedKmh[vehicleType]
	if !ok {
		speed = defaultSpeedKmh
	}
	minutes := math.Round(distanceKm / speed * 60)
	return math.Max(3.0, minutes)
}
