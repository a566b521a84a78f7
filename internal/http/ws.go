package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage is what participants send us over the socket. Payload stays
// raw until the type is known.
type inboundMessage struct {
	Type      string          `json:"type"`
	BookingID string          `json:"booking_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type rideResponsePayload struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]
	if driverID == "" {
		http.Error(w, "driver id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	s.Registry.Add(notify.RoleDriver, driverID, conn)
	observability.DriversOnline.Inc()
	defer func() {
		s.Registry.Remove(notify.RoleDriver, driverID, conn)
		observability.DriversOnline.Dec()
		conn.Close()
	}()

	s.logger.Info("driver connected", "driver_id", driverID)
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Info("driver disconnected", "driver_id", driverID, "error", err)
			return
		}
		s.handleDriverMessage(r, driverID, msg)
	}
}

func (s *Server) handleDriverMessage(r *http.Request, driverID string, msg inboundMessage) {
	switch msg.Type {
	case notify.TypeRideResponse:
		var p rideResponsePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.logger.Warn("bad ride response", "driver_id", driverID, "error", err)
			return
		}
		if err := s.Coordinator.HandleDriverReply(r.Context(), msg.BookingID, driverID, p.Accepted); err != nil {
			s.logger.Info("driver reply not applied",
				"booking_id", msg.BookingID, "driver_id", driverID, "error", err)
		}
	case notify.TypeLocationUpdate:
		var pos models.DriverPosition
		if err := json.Unmarshal(msg.Payload, &pos); err != nil {
			s.logger.Warn("bad location update", "driver_id", driverID, "error", err)
			return
		}
		pos.DriverID = driverID
		s.trackDriverLocation(r, pos)
	default:
		s.logger.Warn("unknown message type", "driver_id", driverID, "type", msg.Type)
	}
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	riderID := mux.Vars(r)["id"]
	if riderID == "" {
		http.Error(w, "rider id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "rider_id", riderID, "error", err)
		return
	}
	s.Registry.Add(notify.RoleRider, riderID, conn)
	defer func() {
		s.Registry.Remove(notify.RoleRider, riderID, conn)
		conn.Close()
	}()

	s.logger.Info("rider connected", "rider_id", riderID)
	// Riders are receive-only; the read loop just detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Info("rider disconnected", "rider_id", riderID, "error", err)
			return
		}
	}
}
