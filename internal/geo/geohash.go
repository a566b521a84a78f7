package geo

// CellPrecision is the geohash length used for driver cells. Six characters
// is roughly a 1.2 km x 0.6 km cell at the equator.
const CellPrecision = 6

var base32 = []byte("0123456789bcdefghjkmnpqrstuvwxyz")

// Encode computes the base32 geohash of (lat, lng) at the given precision.
func Encode(lat, lng float64, precision int) string {
	var (
		even   = true
		bit    int
		ch     int
		out    = make([]byte, 0, precision)
		latMin = -90.0
		latMax = 90.0
		lngMin = -180.0
		lngMax = 180.0
	)
	for len(out) < precision {
		if even {
			mid := (lngMin + lngMax) / 2
			if lng > mid {
				ch |= 16 >> bit
				lngMin = mid
			} else {
				lngMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat > mid {
				ch |= 16 >> bit
				latMin = mid
			} else {
				latMax = mid
			}
		}
		even = !even
		bit++
		if bit == 5 {
			out = append(out, base32[ch])
			bit = 0
			ch = 0
		}
	}
	return string(out)
}
