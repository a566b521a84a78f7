package pricing

import "math"

// Per-km rates and base fares by vehicle class.
var (
	perKm = map[string]float64{
		"BIKE":             7.0,
		"SCOOTER":          8.0,
		"MOTORCYCLE":       9.0,
		"ELECTRIC_BIKE":    6.0,
		"ELECTRIC_SCOOTER": 7.0,
		"AUTO":             11.0,
		"CAR":              18.0,
	}
	baseFare = map[string]float64{
		"BIKE":             20.0,
		"SCOOTER":          25.0,
		"MOTORCYCLE":       30.0,
		"ELECTRIC_BIKE":    15.0,
		"ELECTRIC_SCOOTER": 18.0,
		"AUTO":             30.0,
		"CAR":              50.0,
	}
)

// Price returns the total fare for a ride: base fare plus distance times the
// per-km rate, rounded to two decimals. Unknown vehicle types and
// non-positive distances price at 0.
func Price(distanceKm float64, vehicleType string) float64 {
	if distanceKm <= 0 {
		return 0
	}
	rate, ok := perKm[vehicleType]
	if !ok {
		return 0
	}
	base := baseFare[vehicleType]
	return math.Round((base+distanceKm*rate)*100) / 100
}

// Known reports whether the vehicle type has a fare entry.
func Known(vehicleType string) bool {
	_, ok := perKm[vehicleType]
	return ok
}
