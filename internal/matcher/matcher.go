package matcher

import (
	"log/slog"
	"sort"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Geo is the minimal query surface the matcher needs.
type Geo interface {
	Nearby(lat, lng, maxDistanceKm float64) []models.DriverPosition
}

// Service ranks candidate drivers for a ride request that reached the
// asynchronous matching path. Candidates come from the shared geo index; ETA
// breaks ties when a routing backend is configured.
type Service struct {
	Geo       Geo
	ETAClient eta.Client // optional OSRM client
	ETACache  *eta.Cache // optional ETA cache
	Logger    *slog.Logger
}

// PickDriver returns the best candidate for the request's pickup point, or
// false when the cell holds nobody in range.
func (s *Service) PickDriver(req models.RideRequest) (models.DriverPosition, bool) {
	cands := s.Geo.Nearby(req.PickupLat, req.PickupLng, geo.NearestRadiusKm)
	if len(cands) == 0 {
		return models.DriverPosition{}, false
	}

	pickup := models.Coord{Lat: req.PickupLat, Lng: req.PickupLng}
	type scored struct {
		pos    models.DriverPosition
		etaSec float64
	}
	list := make([]scored, 0, len(cands))
	for _, cand := range cands {
		list = append(list, scored{cand, s.estimate(models.Coord{Lat: cand.Lat, Lng: cand.Lng}, pickup)})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].etaSec < list[j].etaSec })

	best := list[0]
	if s.Logger != nil {
		s.Logger.Info("fallback match picked driver",
			"booking_id", req.BookingID, "driver_id", best.pos.DriverID, "eta_seconds", best.etaSec)
	}
	return best.pos, true
}

func (s *Service) estimate(from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	// straight-line fallback at default city speed
	return eta.MinutesForVehicle(geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng), "") * 60
}
