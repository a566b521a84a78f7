package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// DefaultResponseTimeout is how long a directed offer waits for a reply
// before it is logged as expired.
const DefaultResponseTimeout = 30 * time.Second

var (
	// ErrDriverUnreachable means the target driver has no live session; the
	// attempt is abandoned, not retried.
	ErrDriverUnreachable = errors.New("driver unreachable")
	// ErrNoDriversOnline means broadcast found nobody; the request was handed
	// to the async fallback channel.
	ErrNoDriversOnline = errors.New("no drivers online")
)

// Assigner resolves accept/decline replies against booking state. Implemented
// by lifecycle.Machine.
type Assigner interface {
	Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error)
	Decline(ctx context.Context, bookingID, driverID string) (*models.Booking, error)
}

// FallbackPublisher hands a ride request to the asynchronous matching channel
// when no driver is directly reachable. Best-effort, fire-and-forget.
type FallbackPublisher interface {
	Publish(ctx context.Context, req models.RideRequest) error
}

type attemptKey struct {
	bookingID string
	driverID  string
}

// Coordinator fans ride requests out to candidate drivers and resolves the
// race among their replies exactly once per booking. Fan-out and timeout
// watchers never block the caller.
type Coordinator struct {
	Channel  notify.Channel
	Store    storage.BookingStore
	Assigner Assigner
	Fallback FallbackPublisher
	Timeout  time.Duration
	Logger   *slog.Logger

	mu       sync.Mutex
	attempts map[attemptKey]*models.DispatchAttempt
	watchers map[attemptKey]*time.Timer
}

func NewCoordinator(channel notify.Channel, store storage.BookingStore, assigner Assigner,
	fallback FallbackPublisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Channel:  channel,
		Store:    store,
		Assigner: assigner,
		Fallback: fallback,
		Timeout:  DefaultResponseTimeout,
		Logger:   logger,
		attempts: make(map[attemptKey]*models.DispatchAttempt),
		watchers: make(map[attemptKey]*time.Timer),
	}
}

// DispatchDirect offers the ride to one driver. The request is sent only if
// the driver is currently reachable; otherwise the attempt is abandoned and
// the caller told so. A 30 s watcher logs an expiry if the booking is still
// REQUESTED when it fires; no other driver is picked automatically.
func (c *Coordinator) DispatchDirect(ctx context.Context, driverID string, req models.RideRequest) error {
	observability.DispatchAttempts.WithLabelValues("direct").Inc()
	if !c.Channel.IsDriverConnected(driverID) {
		observability.UnreachableDrivers.Inc()
		c.Logger.Warn("directed dispatch abandoned, driver unreachable",
			"booking_id", req.BookingID, "driver_id", driverID)
		return ErrDriverUnreachable
	}
	if err := c.send(driverID, req); err != nil {
		observability.UnreachableDrivers.Inc()
		return ErrDriverUnreachable
	}
	c.track(req.BookingID, driverID, true)
	c.Logger.Info("ride request sent", "mode", "direct", "booking_id", req.BookingID, "driver_id", driverID)
	return nil
}

// DispatchBroadcast offers the ride to every reachable driver; sends are
// independent and a failed one skips that candidate only. With zero reachable
// drivers the request goes to the fallback channel instead.
func (c *Coordinator) DispatchBroadcast(ctx context.Context, req models.RideRequest) (int, error) {
	observability.DispatchAttempts.WithLabelValues("broadcast").Inc()
	drivers := c.Channel.ConnectedDrivers()
	if len(drivers) == 0 {
		observability.FallbackPublishes.Inc()
		c.Logger.Info("no drivers online, publishing to fallback channel", "booking_id", req.BookingID)
		if c.Fallback != nil {
			if err := c.Fallback.Publish(ctx, req); err != nil {
				c.Logger.Warn("fallback publish failed", "booking_id", req.BookingID, "error", err)
			}
		}
		return 0, ErrNoDriversOnline
	}

	delivered := 0
	for _, driverID := range drivers {
		if err := c.send(driverID, req); err != nil {
			c.Logger.Warn("broadcast send skipped", "booking_id", req.BookingID, "driver_id", driverID, "error", err)
			continue
		}
		c.track(req.BookingID, driverID, false)
		delivered++
	}
	c.Logger.Info("ride request broadcast", "booking_id", req.BookingID, "delivered", delivered, "candidates", len(drivers))
	return delivered, nil
}

// HandleDriverReply resolves one driver's accept or decline. Resolution for a
// booking is serialized by the assigner; the first accept to reach a
// still-REQUESTED booking wins and every later accept is rejected as stale.
func (c *Coordinator) HandleDriverReply(ctx context.Context, bookingID, driverID string, accepted bool) error {
	if accepted {
		return c.handleAccept(ctx, bookingID, driverID)
	}
	return c.handleDecline(ctx, bookingID, driverID)
}

func (c *Coordinator) handleAccept(ctx context.Context, bookingID, driverID string) error {
	b, err := c.Assigner.Accept(ctx, bookingID, driverID)
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyAssigned):
		observability.StaleAccepts.Inc()
		c.Logger.Info("stale accept rejected", "booking_id", bookingID, "driver_id", driverID)
		// neutral acknowledgment, not an error push
		_ = c.Channel.NotifyDriver(driverID, notify.Envelope{
			Type: notify.TypeAlreadyAssigned, BookingID: bookingID, DriverID: driverID,
			Payload: "ride already assigned to another driver",
		})
		return err
	case errors.Is(err, storage.ErrNotFound):
		c.Logger.Warn("accept for unknown booking", "booking_id", bookingID, "driver_id", driverID)
		return err
	case err != nil:
		return err
	}

	c.resolve(bookingID)
	observability.DispatchOutcomes.WithLabelValues(string(models.OutcomeAccepted)).Inc()
	c.Logger.Info("assignment resolved", "booking_id", bookingID, "driver_id", b.DriverID)
	return nil
}

func (c *Coordinator) handleDecline(ctx context.Context, bookingID, driverID string) error {
	if _, err := c.Assigner.Decline(ctx, bookingID, driverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.Logger.Warn("decline for unknown booking", "booking_id", bookingID, "driver_id", driverID)
		}
		return err
	}
	c.mu.Lock()
	key := attemptKey{bookingID, driverID}
	delete(c.attempts, key)
	c.cancelWatcher(key)
	c.mu.Unlock()
	observability.DispatchOutcomes.WithLabelValues(string(models.OutcomeDeclined)).Inc()
	c.Logger.Info("driver declined", "booking_id", bookingID, "driver_id", driverID)
	return nil
}

// Attempt reports the outstanding attempt for a (booking, driver) pair.
// Resolved attempts are pruned; only pending offers are observable here.
func (c *Coordinator) Attempt(bookingID, driverID string) (models.DispatchAttempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[attemptKey{bookingID, driverID}]
	if !ok {
		return models.DispatchAttempt{}, false
	}
	return *a, true
}

func (c *Coordinator) send(driverID string, req models.RideRequest) error {
	return c.Channel.NotifyDriver(driverID, notify.Envelope{
		Type:      notify.TypeRideRequest,
		BookingID: req.BookingID,
		DriverID:  driverID,
		RiderID:   req.RiderID,
		Payload:   req,
	})
}

// track records the attempt and, for directed offers, arms the cancellable
// response watcher.
func (c *Coordinator) track(bookingID, driverID string, watch bool) {
	now := time.Now()
	key := attemptKey{bookingID, driverID}
	c.mu.Lock()
	c.attempts[key] = &models.DispatchAttempt{
		BookingID: bookingID,
		DriverID:  driverID,
		SentAt:    now,
		Deadline:  now.Add(c.Timeout),
		Outcome:   models.OutcomePending,
	}
	if watch {
		c.watchers[key] = time.AfterFunc(c.Timeout, func() { c.expire(key) })
	}
	c.mu.Unlock()
}

// expire runs in the watcher's own goroutine. It reads booking state once and
// only logs; re-dispatch after a timeout is an external decision. The attempt
// entry is dropped either way so resolved offers do not accumulate.
func (c *Coordinator) expire(key attemptKey) {
	c.mu.Lock()
	delete(c.watchers, key)
	a, ok := c.attempts[key]
	if !ok || a.Outcome != models.OutcomePending {
		c.mu.Unlock()
		return
	}
	delete(c.attempts, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := c.Store.FindBooking(ctx, key.bookingID)
	if err != nil || b.Status != models.StatusRequested {
		return
	}

	observability.DispatchTimeouts.Inc()
	observability.DispatchOutcomes.WithLabelValues(string(models.OutcomeTimedOut)).Inc()
	c.Logger.Info("dispatch timeout, driver did not respond",
		"booking_id", key.bookingID, "driver_id", key.driverID, "timeout", c.Timeout)
}

// resolve prunes every attempt for the booking and cancels its outstanding
// watchers; replies on the mooted attempts will be rejected as stale. Entries
// are deleted rather than marked so the maps stay bounded by in-flight offers.
func (c *Coordinator) resolve(bookingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.attempts {
		if key.bookingID != bookingID {
			continue
		}
		delete(c.attempts, key)
		c.cancelWatcher(key)
	}
}

// cancelWatcher stops a pending timer. Caller holds c.mu.
func (c *Coordinator) cancelWatcher(key attemptKey) {
	if t, ok := c.watchers[key]; ok {
		t.Stop()
		delete(c.watchers, key)
	}
}
