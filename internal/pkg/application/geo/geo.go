package geo

import (
	"math"
	"strconv"
	"strings"
)

type Coordinates struct {
	Lat float64
	Lon float64
}

// Paris is used as map center when no zone has usable coordinates.
var Paris = Coordinates{Lat: 48.8566, Lon: 2.3522}

// ParseCoordinates parses a "lat,lon" pair. The result is valid only when the
// input has exactly two comma separated parts that both parse as finite floats.
// Values outside of the valid latitude and longitude ranges are accepted.
func ParseCoordinates(geom string) (Coordinates, bool) {
	parts := strings.Split(geom, ",")
	if len(parts) != 2 {
		return Coordinates{}, false
	}

	lat, ok := parseFinite(parts[0])
	if !ok {
		return Coordinates{}, false
	}

	lon, ok := parseFinite(parts[1])
	if !ok {
		return Coordinates{}, false
	}

	return Coordinates{Lat: lat, Lon: lon}, true
}

// parseFinite rejects NaN and infinities, which ParseFloat accepts.
func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}
