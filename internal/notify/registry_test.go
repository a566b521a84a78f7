package notify

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeConn struct {
	written []Envelope
	failAll bool
	closed  bool
	onWrite func() // runs before the write result is decided
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.failAll {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, v.(Envelope))
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendDeliversToSession(t *testing.T) {
	r := testRegistry()
	conn := &fakeConn{}
	r.Add(RoleDriver, "d1", conn)

	env := Envelope{Type: TypeRideRequest, BookingID: "b1", DriverID: "d1"}
	if err := r.Send(RoleDriver, "d1", env); err != nil {
		t.Fatal(err)
	}
	if len(conn.written) != 1 || conn.written[0].BookingID != "b1" {
		t.Fatalf("unexpected writes: %+v", conn.written)
	}
}

func TestSendNoSession(t *testing.T) {
	r := testRegistry()
	if err := r.Send(RoleDriver, "ghost", Envelope{Type: TypeRideRequest}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFailedWriteDropsSession(t *testing.T) {
	r := testRegistry()
	r.Add(RoleDriver, "d1", &fakeConn{failAll: true})

	if err := r.Send(RoleDriver, "d1", Envelope{Type: TypeRideRequest}); err == nil {
		t.Fatal("expected write error")
	}
	if r.IsConnected(RoleDriver, "d1") {
		t.Fatal("session should be dropped after a failed write")
	}
}

func TestReconnectReplacesAndClosesOldSession(t *testing.T) {
	r := testRegistry()
	old := &fakeConn{}
	r.Add(RoleDriver, "d1", old)
	fresh := &fakeConn{}
	r.Add(RoleDriver, "d1", fresh)

	if !old.closed {
		t.Fatal("stale connection should be closed on reconnect")
	}
	// the old read loop's cleanup must not evict the fresh session
	r.Remove(RoleDriver, "d1", old)
	if !r.IsConnected(RoleDriver, "d1") {
		t.Fatal("fresh session evicted by stale cleanup")
	}
	r.Remove(RoleDriver, "d1", fresh)
	if r.IsConnected(RoleDriver, "d1") {
		t.Fatal("session should be gone")
	}
}

func TestFailedWriteKeepsConcurrentReconnect(t *testing.T) {
	r := testRegistry()
	fresh := &fakeConn{}
	stale := &fakeConn{failAll: true}
	// reconnect lands while the stale session's write is in flight
	stale.onWrite = func() { r.Add(RoleDriver, "d1", fresh) }
	r.Add(RoleDriver, "d1", stale)

	if err := r.Send(RoleDriver, "d1", Envelope{Type: TypeRideRequest}); err == nil {
		t.Fatal("expected write error")
	}
	if !r.IsConnected(RoleDriver, "d1") {
		t.Fatal("stale write failure evicted the reconnected session")
	}
	if err := r.Send(RoleDriver, "d1", Envelope{Type: TypeRideRequest}); err != nil {
		t.Fatal(err)
	}
	if len(fresh.written) != 1 {
		t.Fatalf("fresh session should receive sends, got %d", len(fresh.written))
	}
}

func TestConnectedDrivers(t *testing.T) {
	r := testRegistry()
	r.Add(RoleDriver, "d1", &fakeConn{})
	r.Add(RoleDriver, "d2", &fakeConn{})
	r.Add(RoleRider, "r1", &fakeConn{})

	got := r.ConnectedDrivers()
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %v", got)
	}
}

func TestWSChannelRiderFallsBackToPush(t *testing.T) {
	r := testRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// no push configured: offline rider surfaces the session error
	ch := NewWSChannel(r, nil, logger)
	if err := ch.NotifyRider("r1", Envelope{Type: TypeDriverAccepted}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	// connected rider gets the websocket delivery
	conn := &fakeConn{}
	r.Add(RoleRider, "r1", conn)
	if err := ch.NotifyRider("r1", Envelope{Type: TypeDriverAccepted}); err != nil {
		t.Fatal(err)
	}
	if len(conn.written) != 1 {
		t.Fatalf("expected delivery over the session, got %d", len(conn.written))
	}
}
