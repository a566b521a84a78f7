package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	Geo         geo.Index
	Store       storage.BookingStore
	Registry    *notify.Registry
	Channel     notify.Channel
	Coordinator *dispatch.Coordinator
	Lifecycle   *lifecycle.Machine
	Locations   *ingest.KafkaProducer // optional location stream

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the dispatch core around explicitly constructed
// collaborators. Tests use this directly.
func NewServer(gidx geo.Index, store storage.BookingStore, reg *notify.Registry,
	channel notify.Channel, fallback dispatch.FallbackPublisher,
	pay lifecycle.Payments, locations *ingest.KafkaProducer, logger *slog.Logger) *Server {

	lc := lifecycle.NewMachine(store, channel, pay, logger)
	coord := dispatch.NewCoordinator(channel, store, lc, fallback, logger)

	s := &Server{
		Geo:         gidx,
		Store:       store,
		Registry:    reg,
		Channel:     channel,
		Coordinator: coord,
		Lifecycle:   lc,
		Locations:   locations,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromEnv builds the production wiring: redis-or-memory geo index,
// postgres-or-memory store, optional Kafka fallback and location streams,
// optional FCM push and Stripe holds.
func NewServerFromEnv() *Server {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("config problems", "error", err)
	}

	var gidx geo.Index
	if cfg.RedisAddr != "" {
		gidx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		gidx = geo.NewMemoryIndex()
	}

	var store storage.BookingStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var fallback dispatch.FallbackPublisher
	var locations *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		fallback = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.FallbackTopic)
		locations = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
	}

	var push *notify.FCMPusher
	if cfg.FCMEndpoint != "" {
		push = notify.NewFCMPusher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	var pay lifecycle.Payments
	if os.Getenv("STRIPE_API_KEY") != "" {
		pay = payments.NewStripeClient()
	}

	reg := notify.NewRegistry(logger)
	channel := notify.NewWSChannel(reg, push, logger)

	s := NewServer(gidx, store, reg, channel, fallback, pay, locations, logger)
	s.Coordinator.Timeout = cfg.DispatchTimeout
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/internal/dispatch", s.handleInternalDispatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/response", s.handleDriverResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/progress", s.handleRideProgress).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/rider-confirm", s.handleRiderConfirm).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/nearest", s.handleNearest).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers", s.handleAllDrivers).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/connected", s.handleConnectedDrivers).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/driver/{id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/rider/{id}", s.handleRiderWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var pos models.DriverPosition
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pos.DriverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	s.trackDriverLocation(r, pos)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) trackDriverLocation(r *http.Request, pos models.DriverPosition) {
	pos.UpdatedAt = time.Now()
	s.Geo.Upsert(pos.DriverID, pos.Lat, pos.Lng)
	if err := s.Store.SaveDriverLocation(r.Context(), pos); err != nil {
		s.logger.Warn("location persist failed", "driver_id", pos.DriverID, "error", err)
	}
	if s.Locations != nil {
		if err := s.Locations.PublishLocation(pos); err != nil {
			s.logger.Warn("location publish failed", "driver_id", pos.DriverID, "error", err)
		}
	}
}

type createBookingRequest struct {
	RiderID     string       `json:"rider_id"`
	Pickup      models.Coord `json:"pickup"`
	Destination models.Coord `json:"destination"`
	VehicleType string       `json:"vehicle_type"`
	DriverID    string       `json:"driver_id,omitempty"` // directed dispatch when set
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RiderID == "" {
		http.Error(w, "rider_id required", http.StatusBadRequest)
		return
	}
	if req.VehicleType == "" {
		req.VehicleType = "BIKE"
	}

	distance := geo.DistanceKm(req.Pickup.Lat, req.Pickup.Lng, req.Destination.Lat, req.Destination.Lng)
	now := time.Now()
	b := &models.Booking{
		ID:               newID(),
		RiderID:          req.RiderID,
		Status:           models.StatusRequested,
		AssignmentStatus: models.AssignmentPending,
		Pickup:           req.Pickup,
		Destination:      req.Destination,
		DistanceKm:       distance,
		DurationMin:      eta.MinutesForVehicle(distance, req.VehicleType),
		Price:            pricing.Price(distance, req.VehicleType),
		VehicleType:      req.VehicleType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Store.SaveBooking(r.Context(), b); err != nil {
		http.Error(w, "could not save booking", http.StatusInternalServerError)
		return
	}

	rideReq := b.RideRequest()
	if req.DriverID != "" {
		if err := s.Coordinator.DispatchDirect(r.Context(), req.DriverID, rideReq); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"booking": b,
				"error":   "driver unreachable",
			})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"booking": b, "dispatch": "direct"})
		return
	}

	delivered, err := s.Coordinator.DispatchBroadcast(r.Context(), rideReq)
	if errors.Is(err, dispatch.ErrNoDriversOnline) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"booking":  b,
			"dispatch": "async",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"booking":   b,
		"dispatch":  "broadcast",
		"delivered": delivered,
	})
}

type internalDispatchRequest struct {
	BookingID string `json:"booking_id"`
	DriverID  string `json:"driver_id"`
}

// handleInternalDispatch lets the fallback match worker offer an existing
// booking to a driver it picked. Bookings that already moved on are refused.
func (s *Server) handleInternalDispatch(w http.ResponseWriter, r *http.Request) {
	var req internalDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.BookingID == "" || req.DriverID == "" {
		http.Error(w, "booking_id and driver_id required", http.StatusBadRequest)
		return
	}
	b, err := s.Store.FindBooking(r.Context(), req.BookingID)
	if err != nil {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	if b.Status != models.StatusRequested {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "booking no longer dispatchable"})
		return
	}
	if err := s.Coordinator.DispatchDirect(r.Context(), req.DriverID, b.RideRequest()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "driver unreachable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.Store.FindBooking(r.Context(), id)
	if err != nil {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type driverResponseRequest struct {
	DriverID string `json:"driver_id"`
	Action   string `json:"action"` // accept | decline
}

func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	accepted := req.Action == "accept"
	if !accepted && req.Action != "decline" {
		http.Error(w, "action must be accept or decline", http.StatusBadRequest)
		return
	}
	if err := s.Coordinator.HandleDriverReply(r.Context(), id, req.DriverID, accepted); err != nil {
		s.writeReplyError(w, err)
		return
	}
	b, err := s.Store.FindBooking(r.Context(), id)
	if err != nil {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type rideProgressRequest struct {
	DriverID string `json:"driver_id"`
	Event    string `json:"event"` // arrived | start | complete
}

func (s *Server) handleRideProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req rideProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ev lifecycle.Event
	switch req.Event {
	case "arrived":
		ev = lifecycle.EventDriverArrived
	case "start":
		ev = lifecycle.EventTripStart
	case "complete":
		ev = lifecycle.EventTripComplete
	default:
		http.Error(w, "event must be arrived, start or complete", http.StatusBadRequest)
		return
	}
	b, err := s.Lifecycle.ApplyEvent(r.Context(), id, ev, req.DriverID)
	if err != nil {
		s.writeReplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRiderConfirm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		RiderID string `json:"rider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Lifecycle.ApplyEvent(r.Context(), id, lifecycle.EventRiderConfirm, req.RiderID)
	if err != nil {
		s.writeReplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Lifecycle.ApplyEvent(r.Context(), id, lifecycle.EventCancel, req.ActorID)
	if err != nil {
		s.writeReplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) writeReplyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrAlreadyAssigned):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "ride already assigned"})
	case errors.Is(err, lifecycle.ErrWrongActor):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(r)
	if !ok {
		http.Error(w, "lat and lng required", http.StatusBadRequest)
		return
	}
	maxKm := 10.0
	if v := r.URL.Query().Get("max_km"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			maxKm = f
		}
	}
	writeJSON(w, http.StatusOK, s.Geo.Nearby(lat, lng, maxKm))
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(r)
	if !ok {
		http.Error(w, "lat and lng required", http.StatusBadRequest)
		return
	}
	pos, found := s.Geo.Nearest(lat, lng)
	if !found {
		http.Error(w, "no drivers in range", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleAllDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Geo.All())
}

func (s *Server) handleConnectedDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Channel.ConnectedDrivers())
}

func latLng(r *http.Request) (float64, float64, bool) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	return lat, lng, err1 == nil && err2 == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
