package eta

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMinutesForVehicle(t *testing.T) {
	// 28 km at 28 km/h is an hour
	if got := MinutesForVehicle(28, "BIKE"); got != 60 {
		t.Fatalf("expected 60 minutes, got %v", got)
	}
	// unknown vehicle falls back to the default speed
	if got := MinutesForVehicle(25, "HOVERCRAFT"); got != 60 {
		t.Fatalf("expected 60 minutes at default speed, got %v", got)
	}
}

func TestMinutesFloor(t *testing.T) {
	if got := MinutesForVehicle(0.5, "CAR"); got != 3 {
		t.Fatalf("expected 3 minute floor, got %v", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	a := models.Coord{Lat: 17.4, Lng: 78.4}
	b := models.Coord{Lat: 17.5, Lng: 78.5}
	c.Set(a, b, 123)
	if v, ok := c.Get(a, b); !ok || v != 123 {
		t.Fatalf("expected cached 123, got %v %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expected cache entry to expire")
	}
}
