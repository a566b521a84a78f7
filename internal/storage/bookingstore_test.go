package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.FindBooking(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	b := &models.Booking{ID: "b1", RiderID: "r1", Status: models.StatusRequested}
	if err := s.SaveBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindBooking(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RiderID != "r1" {
		t.Fatalf("unexpected booking %+v", got)
	}

	// returned copy must not alias the stored record
	got.Status = models.StatusCancelled
	again, _ := s.FindBooking(ctx, "b1")
	if again.Status != models.StatusRequested {
		t.Fatal("store leaked a mutable reference")
	}
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	b := &models.Booking{ID: "b1", Status: models.StatusRequested}
	_ = s.SaveBooking(ctx, b)
	b.Status = models.StatusInProgress
	b.DriverID = "d1"
	_ = s.SaveBooking(ctx, b)

	got, _ := s.FindBooking(ctx, "b1")
	if got.Status != models.StatusInProgress || got.DriverID != "d1" {
		t.Fatalf("overwrite lost fields: %+v", got)
	}
}

func TestMemoryStoreDriverLocations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SaveDriverLocation(ctx, models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDriverLocation(ctx, models.DriverPosition{DriverID: "d1", Lat: 3, Lng: 4}); err != nil {
		t.Fatal(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos := s.locations["d1"]; pos.Lat != 3 || pos.Lng != 4 {
		t.Fatalf("latest location not kept: %+v", pos)
	}
}
