package notify

// Message types delivered over the notification channel.
const (
	TypeRideRequest     = "RIDE_REQUEST"
	TypeRideResponse    = "RIDE_RESPONSE"
	TypeAlreadyAssigned = "ALREADY_ASSIGNED"
	TypeDriverAccepted  = "DRIVER_ACCEPTED"
	TypeDriverArrived   = "DRIVER_ARRIVED"
	TypeRiderConfirmed  = "RIDER_CONFIRMED"
	TypeTripStarted     = "TRIP_STARTED"
	TypeRideCompleted   = "RIDE_COMPLETED"
	TypeRideCancelled   = "RIDE_CANCELLED"
	TypeLocationUpdate  = "LOCATION_UPDATE"
)

// Envelope is the wire format for every notification, sent as JSON text over
// a persistent duplex connection keyed by participant id.
type Envelope struct {
	Type      string `json:"type"`
	BookingID string `json:"booking_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
	RiderID   string `json:"rider_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}
