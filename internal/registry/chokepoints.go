package registry

import (
	"math"
	"strings"
)

// Chokepoint is a named maritime strait or canal the system knows about.
type Chokepoint struct {
	Name      string
	Region    string
	Latitude  float64
	Longitude float64
	Aliases   []string
	Keywords  []string
}

var chokepoints = []Chokepoint{
	{
		Name: "Suez Canal", Region: "Middle East", Latitude: 30.45, Longitude: 32.35,
		Aliases:  []string{"suez", "suez canal"},
		Keywords: []string{"suez", "suez canal", "ever given"},
	},
	{
		Name: "Red Sea", Region: "Middle East", Latitude: 17.0, Longitude: 40.0,
		Aliases:  []string{"red sea"},
		Keywords: []string{"red sea", "houthi", "yemen coast"},
	},
	{
		Name: "Bab el-Mandeb", Region: "Middle East", Latitude: 12.58, Longitude: 43.33,
		Aliases:  []string{"bab el-mandeb", "bab al-mandab", "mandeb strait"},
		Keywords: []string{"bab el-mandeb", "mandeb"},
	},
	{
		Name: "Strait of Hormuz", Region: "Middle East", Latitude: 26.57, Longitude: 56.25,
		Aliases:  []string{"hormuz", "strait of hormuz"},
		Keywords: []string{"hormuz", "persian gulf"},
	},
	{
		Name: "Strait of Malacca", Region: "Southeast Asia", Latitude: 2.5, Longitude: 101.5,
		Aliases:  []string{"malacca", "strait of malacca"},
		Keywords: []string{"malacca", "singapore strait"},
	},
	{
		Name: "Panama Canal", Region: "Central America", Latitude: 9.08, Longitude: -79.68,
		Aliases:  []string{"panama", "panama canal"},
		Keywords: []string{"panama canal", "gatun"},
	},
	{
		Name: "Bosporus", Region: "Europe", Latitude: 41.12, Longitude: 29.05,
		Aliases:  []string{"bosporus", "bosphorus", "turkish straits"},
		Keywords: []string{"bosporus", "bosphorus", "dardanelles"},
	},
	{
		Name: "Strait of Gibraltar", Region: "Europe", Latitude: 35.95, Longitude: -5.6,
		Aliases:  []string{"gibraltar", "strait of gibraltar"},
		Keywords: []string{"gibraltar"},
	},
	{
		Name: "Taiwan Strait", Region: "East Asia", Latitude: 24.0, Longitude: 119.0,
		Aliases:  []string{"taiwan strait", "formosa strait"},
		Keywords: []string{"taiwan strait", "formosa"},
	},
	{
		Name: "Cape of Good Hope", Region: "Southern Africa", Latitude: -34.35, Longitude: 18.47,
		Aliases:  []string{"cape of good hope", "cape route"},
		Keywords: []string{"cape of good hope", "cape route"},
	},
	{
		Name: "Strait of Dover", Region: "Europe", Latitude: 51.0, Longitude: 1.5,
		Aliases:  []string{"dover", "strait of dover", "english channel"},
		Keywords: []string{"dover strait", "english channel"},
	},
}

// Chokepoints returns a copy of the chokepoint table.
func Chokepoints() []Chokepoint {
	out := make([]Chokepoint, len(chokepoints))
	copy(out, chokepoints)
	return out
}

// ChokepointByAlias resolves an alias (case-insensitive) to its
// chokepoint.
func ChokepointByAlias(alias string) (Chokepoint, bool) {
	needle := strings.ToLower(strings.TrimSpace(alias))
	for _, cp := range chokepoints {
		if strings.ToLower(cp.Name) == needle {
			return cp, true
		}
		for _, a := range cp.Aliases {
			if a == needle {
				return cp, true
			}
		}
	}
	return Chokepoint{}, false
}

// ChokepointNames lists the canonical names in table order.
func ChokepointNames() []string {
	names := make([]string, len(chokepoints))
	for i, cp := range chokepoints {
		names[i] = cp.Name
	}
	return names
}

const earthRadiusKM = 6371.0

// DistanceKM returns the great-circle distance from the chokepoint to a
// point, in kilometres.
func (c Chokepoint) DistanceKM(lat, lon float64) float64 {
	lat1 := c.Latitude * math.Pi / 180
	lat2 := lat * math.Pi / 180
	dLat := (lat - c.Latitude) * math.Pi / 180
	dLon := (lon - c.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// NearestChokepoint returns the chokepoint closest to the point and its
// distance in kilometres.
func NearestChokepoint(lat, lon float64) (Chokepoint, float64) {
	var nearest Chokepoint
	min := math.Inf(1)
	for _, cp := range chokepoints {
		if d := cp.DistanceKM(lat, lon); d < min {
			min = d
			nearest = cp
		}
	}
	return nearest, min
}
