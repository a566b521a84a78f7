package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/storage"
)

type fakeConn struct {
	written []notify.Envelope
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.written = append(f.written, v.(notify.Envelope))
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) byType(msgType string) []notify.Envelope {
	var out []notify.Envelope
	for _, env := range f.written {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := notify.NewRegistry(logger)
	channel := notify.NewWSChannel(reg, nil, logger)
	srv := NewServer(geo.NewMemoryIndex(), storage.NewMemoryStore(), reg, channel, nil, nil, nil, logger)
	api := httptest.NewServer(srv)
	t.Cleanup(api.Close)
	return srv, api
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	return resp, buf.Bytes()
}

func TestDirectedRideEndToEnd(t *testing.T) {
	srv, api := newTestServer(t)

	driver := &fakeConn{}
	rider := &fakeConn{}
	srv.Registry.Add(notify.RoleDriver, "d1", driver)
	srv.Registry.Add(notify.RoleRider, "r1", rider)

	// driver position lands in the geo index
	resp, _ := postJSON(t, api.URL+"/internal/driver/locations", map[string]any{
		"driver_id": "d1", "lat": 17.4065, "lng": 78.4772,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("location update status %d", resp.StatusCode)
	}

	// booking directed at the connected driver
	resp, body := postJSON(t, api.URL+"/api/v1/bookings", map[string]any{
		"rider_id":     "r1",
		"pickup":       map[string]float64{"lat": 17.4065, "lng": 78.4772},
		"destination":  map[string]float64{"lat": 17.4399, "lng": 78.4983},
		"vehicle_type": "CAR",
		"driver_id":    "d1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create booking status %d: %s", resp.StatusCode, body)
	}
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	b := created.Booking
	if b.Status != models.StatusRequested || b.Price <= 0 || b.DistanceKm < 0.5 {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if got := driver.byType(notify.TypeRideRequest); len(got) != 1 || got[0].BookingID != b.ID {
		t.Fatalf("driver should hold one ride request, got %+v", got)
	}

	// accept, then walk the ride through to completion
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/response", api.URL, b.ID),
		map[string]string{"driver_id": "d1", "action": "accept"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d", resp.StatusCode)
	}

	steps := []struct {
		path   string
		body   map[string]string
		status models.BookingStatus
	}{
		{"progress", map[string]string{"driver_id": "d1", "event": "arrived"}, models.StatusPickup},
		{"rider-confirm", map[string]string{"rider_id": "r1"}, models.StatusRiderConfirmed},
		{"progress", map[string]string{"driver_id": "d1", "event": "start"}, models.StatusInTransit},
		{"progress", map[string]string{"driver_id": "d1", "event": "complete"}, models.StatusCompleted},
	}
	for _, step := range steps {
		resp, body := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/%s", api.URL, b.ID, step.path), step.body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", step.path, resp.StatusCode, body)
		}
		var got models.Booking
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatal(err)
		}
		if got.Status != step.status {
			t.Fatalf("%s: status %s, want %s", step.path, got.Status, step.status)
		}
	}

	// rider heard accept, arrival, start, completion; driver heard the confirm
	if got := len(rider.written); got != 4 {
		t.Fatalf("rider notes %d, want 4", got)
	}
	if got := driver.byType(notify.TypeRiderConfirmed); len(got) != 1 {
		t.Fatalf("driver should hear the pickup confirmation, got %+v", driver.written)
	}
}

func TestDirectedDispatchUnreachableDriver(t *testing.T) {
	_, api := newTestServer(t)

	resp, _ := postJSON(t, api.URL+"/api/v1/bookings", map[string]any{
		"rider_id":    "r1",
		"pickup":      map[string]float64{"lat": 17.40, "lng": 78.47},
		"destination": map[string]float64{"lat": 17.44, "lng": 78.49},
		"driver_id":   "ghost",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for unreachable driver, got %d", resp.StatusCode)
	}
}

func TestBroadcastWithNoDriversAccepted(t *testing.T) {
	_, api := newTestServer(t)

	resp, body := postJSON(t, api.URL+"/api/v1/bookings", map[string]any{
		"rider_id":    "r1",
		"pickup":      map[string]float64{"lat": 17.40, "lng": 78.47},
		"destination": map[string]float64{"lat": 17.44, "lng": 78.49},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for async fallback, got %d: %s", resp.StatusCode, body)
	}
}

func TestBroadcastRaceSecondAcceptConflicts(t *testing.T) {
	srv, api := newTestServer(t)

	d1 := &fakeConn{}
	d2 := &fakeConn{}
	srv.Registry.Add(notify.RoleDriver, "d1", d1)
	srv.Registry.Add(notify.RoleDriver, "d2", d2)

	resp, body := postJSON(t, api.URL+"/api/v1/bookings", map[string]any{
		"rider_id":    "r1",
		"pickup":      map[string]float64{"lat": 17.40, "lng": 78.47},
		"destination": map[string]float64{"lat": 17.44, "lng": 78.49},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("broadcast status %d: %s", resp.StatusCode, body)
	}
	var created struct {
		Booking   models.Booking `json:"booking"`
		Delivered int            `json:"delivered"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Delivered != 2 {
		t.Fatalf("delivered %d, want 2", created.Delivered)
	}
	id := created.Booking.ID

	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/response", api.URL, id),
		map[string]string{"driver_id": "d1", "action": "accept"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first accept status %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/response", api.URL, id),
		map[string]string{"driver_id": "d2", "action": "accept"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale accept status %d, want 409", resp.StatusCode)
	}
	if got := d2.byType(notify.TypeAlreadyAssigned); len(got) != 1 {
		t.Fatalf("loser should get a neutral ack, got %+v", d2.written)
	}
}

func TestWrongActorForbidden(t *testing.T) {
	srv, api := newTestServer(t)
	d1 := &fakeConn{}
	srv.Registry.Add(notify.RoleDriver, "d1", d1)

	resp, body := postJSON(t, api.URL+"/api/v1/bookings", map[string]any{
		"rider_id":    "r1",
		"pickup":      map[string]float64{"lat": 17.40, "lng": 78.47},
		"destination": map[string]float64{"lat": 17.44, "lng": 78.49},
		"driver_id":   "d1",
	})
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	id := created.Booking.ID

	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/response", api.URL, id),
		map[string]string{"driver_id": "d1", "action": "accept"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%s/progress", api.URL, id),
		map[string]string{"driver_id": "intruder", "event": "arrived"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign driver status %d, want 403", resp.StatusCode)
	}
}

func TestGetBookingNotFound(t *testing.T) {
	_, api := newTestServer(t)
	resp, err := http.Get(api.URL + "/api/v1/bookings/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestInternalDispatchRefusesMovedBooking(t *testing.T) {
	srv, api := newTestServer(t)
	d1 := &fakeConn{}
	srv.Registry.Add(notify.RoleDriver, "d1", d1)

	b := &models.Booking{ID: "b9", RiderID: "r1", Status: models.StatusInProgress, DriverID: "d2"}
	if err := srv.Store.SaveBooking(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	resp, _ := postJSON(t, api.URL+"/internal/dispatch", map[string]string{
		"booking_id": "b9", "driver_id": "d1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}
}

func TestNearbyAndNearestEndpoints(t *testing.T) {
	_, api := newTestServer(t)

	for i, pos := range []map[string]any{
		{"driver_id": "d1", "lat": 17.4065, "lng": 78.4772},
		{"driver_id": "d2", "lat": 17.4070, "lng": 78.4775},
	} {
		resp, _ := postJSON(t, api.URL+"/internal/driver/locations", pos)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("location %d status %d", i, resp.StatusCode)
		}
	}

	resp, err := http.Get(api.URL + "/api/v1/drivers/nearest?lat=17.4065&lng=78.4772")
	if err != nil {
		t.Fatal(err)
	}
	var nearest models.DriverPosition
	if err := json.NewDecoder(resp.Body).Decode(&nearest); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if nearest.DriverID != "d1" {
		t.Fatalf("nearest %s, want d1", nearest.DriverID)
	}

	resp, err = http.Get(api.URL + "/api/v1/drivers/nearby?lat=17.4065&lng=78.4772&max_km=5")
	if err != nil {
		t.Fatal(err)
	}
	var nearby []models.DriverPosition
	if err := json.NewDecoder(resp.Body).Decode(&nearby); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(nearby) != 2 {
		t.Fatalf("nearby %d drivers, want 2", len(nearby))
	}
}
