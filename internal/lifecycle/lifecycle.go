package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/locks"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Event is a ride-progress signal applied to a booking.
type Event string

const (
	EventDriverAccept  Event = "DRIVER_ACCEPT"
	EventDriverDecline Event = "DRIVER_DECLINE"
	EventDriverArrived Event = "DRIVER_ARRIVED"
	EventRiderConfirm  Event = "RIDER_CONFIRM"
	EventTripStart     Event = "TRIP_START"
	EventTripComplete  Event = "TRIP_COMPLETE"
	EventCancel        Event = "CANCEL"
)

var (
	// ErrInvalidTransition means the event does not apply to the booking's
	// current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrWrongActor means the submitting participant does not own the booking
	// side the event belongs to.
	ErrWrongActor = errors.New("actor does not match booking")
	// ErrAlreadyAssigned means an accept arrived after the booking left the
	// awaiting-assignment state.
	ErrAlreadyAssigned = errors.New("booking already assigned")
)

// Payments places and settles fare holds. Optional; every call is
// best-effort and never blocks a transition.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentRef string) error
	Cancel(ctx context.Context, paymentRef string) error
}

// Machine drives booking status through the legal transition sequence and
// emits exactly one counter-party notification per transition. All events
// for one booking are serialized through a per-booking lock.
type Machine struct {
	store    storage.BookingStore
	channel  notify.Channel
	payments Payments
	logger   *slog.Logger
	locks    *locks.Keyed
}

func NewMachine(store storage.BookingStore, channel notify.Channel, payments Payments, logger *slog.Logger) *Machine {
	return &Machine{store: store, channel: channel, payments: payments, logger: logger, locks: locks.NewKeyed()}
}

// Accept applies a driver accept; first caller to reach a REQUESTED booking
// wins the assignment.
func (m *Machine) Accept(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	return m.ApplyEvent(ctx, bookingID, EventDriverAccept, driverID)
}

// Decline applies a driver decline.
func (m *Machine) Decline(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	return m.ApplyEvent(ctx, bookingID, EventDriverDecline, driverID)
}

// ApplyEvent loads the booking, validates the event against its status and
// actor, persists the transition, and fires the side-effect notification.
// Re-applying an event whose target state is already current is a no-op
// success; rider confirm is the exception and errors whenever status is not
// PICKUP.
func (m *Machine) ApplyEvent(ctx context.Context, bookingID string, ev Event, actorID string) (*models.Booking, error) {
	m.locks.Lock(bookingID)
	defer m.locks.Unlock(bookingID)

	b, err := m.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch ev {
	case EventDriverAccept:
		return m.accept(ctx, b, actorID)
	case EventDriverDecline:
		return m.decline(ctx, b, actorID)
	case EventDriverArrived:
		return m.driverTransition(ctx, b, actorID, models.StatusInProgress, models.StatusPickup,
			notify.TypeDriverArrived, "driver arrived at pickup")
	case EventRiderConfirm:
		return m.riderConfirm(ctx, b, actorID)
	case EventTripStart:
		return m.driverTransition(ctx, b, actorID, models.StatusRiderConfirmed, models.StatusInTransit,
			notify.TypeTripStarted, "trip started")
	case EventTripComplete:
		return m.complete(ctx, b, actorID)
	case EventCancel:
		return m.cancel(ctx, b, actorID)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
}

func (m *Machine) accept(ctx context.Context, b *models.Booking, driverID string) (*models.Booking, error) {
	if b.Status == models.StatusInProgress && b.DriverID == driverID {
		return b, nil // duplicate accept from the winner
	}
	// a prior decline leaves the booking open; only a resolved assignment
	// or a status move closes the race
	if b.Status != models.StatusRequested || b.DriverID != "" {
		return nil, ErrAlreadyAssigned
	}
	b.DriverID = driverID
	b.AssignmentStatus = models.AssignmentAccepted
	b.Status = models.StatusInProgress
	if m.payments != nil && b.Price > 0 && b.PaymentRef == "" {
		if ref, err := m.payments.Hold(ctx, int64(b.Price*100), "inr", b.RiderID); err == nil {
			b.PaymentRef = ref
		} else {
			m.logger.Warn("payment hold failed", "booking_id", b.ID, "error", err)
		}
	}
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Info("driver assigned", "booking_id", b.ID, "driver_id", driverID)
	m.notifyRider(b, notify.TypeDriverAccepted, "driver accepted your ride request")
	return b, nil
}

func (m *Machine) decline(ctx context.Context, b *models.Booking, driverID string) (*models.Booking, error) {
	if b.Status != models.StatusRequested {
		// late decline after the race resolved; observability only
		m.logger.Info("stale decline ignored", "booking_id", b.ID, "driver_id", driverID, "status", b.Status)
		return b, nil
	}
	if b.DriverID != "" && b.DriverID != driverID {
		m.logger.Info("decline from non-offered driver ignored", "booking_id", b.ID, "driver_id", driverID)
		return b, nil
	}
	b.DriverID = ""
	b.AssignmentStatus = models.AssignmentDeclined
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Info("driver declined, booking eligible for re-dispatch", "booking_id", b.ID, "driver_id", driverID)
	return b, nil
}

// driverTransition handles the arrival and trip-start legs, which share the
// same shape: assigned driver only, one status forward, one rider ping.
func (m *Machine) driverTransition(ctx context.Context, b *models.Booking, driverID string,
	from, to models.BookingStatus, msgType, msg string) (*models.Booking, error) {
	if driverID != b.DriverID {
		return nil, fmt.Errorf("%w: driver %s", ErrWrongActor, driverID)
	}
	if b.Status == to {
		return b, nil
	}
	if b.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Info("ride progressed", "booking_id", b.ID, "status", to, "driver_id", driverID)
	m.notifyRider(b, msgType, msg)
	return b, nil
}

func (m *Machine) riderConfirm(ctx context.Context, b *models.Booking, riderID string) (*models.Booking, error) {
	if riderID != b.RiderID {
		return nil, fmt.Errorf("%w: rider %s", ErrWrongActor, riderID)
	}
	if b.Status != models.StatusPickup {
		return nil, fmt.Errorf("%w: rider confirm requires PICKUP, booking is %s", ErrInvalidTransition, b.Status)
	}
	b.Status = models.StatusRiderConfirmed
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Info("rider confirmed pickup", "booking_id", b.ID, "rider_id", riderID)
	m.notifyDriver(b, notify.TypeRiderConfirmed, "rider confirmed pickup, you can start the trip")
	return b, nil
}

func (m *Machine) complete(ctx context.Context, b *models.Booking, driverID string) (*models.Booking, error) {
	if driverID != b.DriverID {
		return nil, fmt.Errorf("%w: driver %s", ErrWrongActor, driverID)
	}
	if b.Status == models.StatusCompleted {
		return b, nil
	}
	if b.Status != models.StatusInTransit {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, models.StatusCompleted)
	}
	b.Status = models.StatusCompleted
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	if m.payments != nil && b.PaymentRef != "" {
		if err := m.payments.Capture(ctx, b.PaymentRef); err != nil {
			m.logger.Warn("payment capture failed", "booking_id", b.ID, "error", err)
		}
	}
	m.logger.Info("ride completed", "booking_id", b.ID, "driver_id", driverID)
	m.notifyRider(b, notify.TypeRideCompleted, "trip completed")
	return b, nil
}

func (m *Machine) cancel(ctx context.Context, b *models.Booking, actorID string) (*models.Booking, error) {
	if b.Status == models.StatusCancelled {
		return b, nil
	}
	if b.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: cannot cancel a completed ride", ErrInvalidTransition)
	}
	b.Status = models.StatusCancelled
	if err := m.save(ctx, b); err != nil {
		return nil, err
	}
	if m.payments != nil && b.PaymentRef != "" {
		if err := m.payments.Cancel(ctx, b.PaymentRef); err != nil {
			m.logger.Warn("payment release failed", "booking_id", b.ID, "error", err)
		}
	}
	m.logger.Info("ride cancelled", "booking_id", b.ID, "actor_id", actorID)
	m.notifyRider(b, notify.TypeRideCancelled, "ride cancelled")
	if b.DriverID != "" {
		m.notifyDriver(b, notify.TypeRideCancelled, "ride cancelled")
	}
	return b, nil
}

func (m *Machine) save(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = time.Now()
	return m.store.SaveBooking(ctx, b)
}

func (m *Machine) notifyRider(b *models.Booking, msgType, msg string) {
	env := notify.Envelope{Type: msgType, BookingID: b.ID, DriverID: b.DriverID, RiderID: b.RiderID, Payload: msg}
	if err := m.channel.NotifyRider(b.RiderID, env); err != nil {
		m.logger.Warn("rider notification dropped", "booking_id", b.ID, "type", msgType, "error", err)
		return
	}
	observability.NotificationsSent.WithLabelValues(msgType).Inc()
}

func (m *Machine) notifyDriver(b *models.Booking, msgType, msg string) {
	env := notify.Envelope{Type: msgType, BookingID: b.ID, DriverID: b.DriverID, RiderID: b.RiderID, Payload: msg}
	if err := m.channel.NotifyDriver(b.DriverID, env); err != nil {
		m.logger.Warn("driver notification dropped", "booking_id", b.ID, "type", msgType, "error", err)
		return
	}
	observability.NotificationsSent.WithLabelValues(msgType).Inc()
}
