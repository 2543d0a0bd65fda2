package jobs

import (
	"math"

	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

const earthRadiusKm = 6371.0

// Optimize orders stops by repeatedly visiting the nearest unvisited stop,
// starting from origin (or the first stop when origin is nil).
func Optimize(origin *protocol.Stop, stops []protocol.Stop) ([]protocol.Stop, float64) {
	if len(stops) == 0 {
		return nil, 0
	}

	remaining := append([]protocol.Stop(nil), stops...)
	ordered := make([]protocol.Stop, 0, len(stops))
	var total float64

	var cur protocol.Stop
	if origin != nil {
		cur = *origin
	} else {
		cur = remaining[0]
		ordered = append(ordered, cur)
		remaining = remaining[1:]
	}

	for len(remaining) > 0 {
		best, bestDist := 0, math.Inf(1)
		for i, s := range remaining {
			if d := haversine(cur, s); d < bestDist {
				best, bestDist = i, d
			}
		}
		cur = remaining[best]
		total += bestDist
		ordered = append(ordered, cur)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered, total
}

func haversine(a, b protocol.Stop) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
