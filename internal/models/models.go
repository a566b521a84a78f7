package models

import "time"

// BookingStatus tracks a ride through its lifecycle.
type BookingStatus string

const (
	StatusRequested      BookingStatus = "REQUESTED"
	StatusInProgress     BookingStatus = "IN_PROGRESS"
	StatusPickup         BookingStatus = "PICKUP"
	StatusRiderConfirmed BookingStatus = "RIDER_CONFIRMED"
	StatusInTransit      BookingStatus = "IN_TRANSIT"
	StatusCompleted      BookingStatus = "COMPLETED"
	StatusCancelled      BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AssignmentStatus tracks the driver-offer side of a booking.
type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "PENDING"
	AssignmentAccepted AssignmentStatus = "ACCEPTED"
	AssignmentDeclined AssignmentStatus = "DECLINED"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverPosition is the last reported location of a driver. One per driver id,
// overwritten in place on every update.
type DriverPosition struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RideRequest is the immutable payload fanned out to candidate drivers.
type RideRequest struct {
	BookingID   string  `json:"booking_id"`
	RiderID     string  `json:"rider_id"`
	PickupLat   float64 `json:"pickup_lat"`
	PickupLng   float64 `json:"pickup_lng"`
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
	Price       float64 `json:"price"`
}

// AttemptOutcome is the resolution of a single (booking, driver) offer.
type AttemptOutcome string

const (
	OutcomePending  AttemptOutcome = "PENDING"
	OutcomeAccepted AttemptOutcome = "ACCEPTED"
	OutcomeDeclined AttemptOutcome = "DECLINED"
	OutcomeTimedOut AttemptOutcome = "TIMED_OUT"
)

// DispatchAttempt records one offer of a booking to one driver. Under
// broadcast dispatch many attempts for the same booking are outstanding at
// once; the first accepted one wins.
type DispatchAttempt struct {
	BookingID string         `json:"booking_id"`
	DriverID  string         `json:"driver_id"`
	SentAt    time.Time      `json:"sent_at"`
	Deadline  time.Time      `json:"deadline"`
	Outcome   AttemptOutcome `json:"outcome"`
}

type Booking struct {
	ID               string           `json:"id"`
	RiderID          string           `json:"rider_id"`
	DriverID         string           `json:"driver_id,omitempty"`
	Status           BookingStatus    `json:"status"`
	AssignmentStatus AssignmentStatus `json:"driver_assignment_status"`
	Pickup           Coord            `json:"pickup"`
	Destination      Coord            `json:"destination"`
	DistanceKm       float64          `json:"distance_km"`
	DurationMin      float64          `json:"duration_min"`
	Price            float64          `json:"price"`
	VehicleType      string           `json:"vehicle_type"`
	PaymentRef       string           `json:"payment_ref,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// RideRequest builds the dispatch payload for this booking.
func (b *Booking) RideRequest() RideRequest {
	return RideRequest{
		BookingID:   b.ID,
		RiderID:     b.RiderID,
		PickupLat:   b.Pickup.Lat,
		PickupLng:   b.Pickup.Lng,
		DistanceKm:  b.DistanceKm,
		DurationMin: b.DurationMin,
		Price:       b.Price,
	}
}
