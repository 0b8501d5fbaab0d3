package model

import (
	"github.com/twpayne/go-geom"
)

// Fallback viewport used when location permission is denied: a whole-country
// view of South Korea.
var (
	FallbackCenter = LatLng{Lat: 36.2, Lon: 127.8}
)

const (
	// FallbackZoom is the zoom level paired with FallbackCenter.
	FallbackZoom float64 = 7

	// DefaultZoom is the initial zoom for the granted flow when none is configured.
	DefaultZoom float64 = 15
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// IsZero reports whether both coordinates are exactly zero.
func (p LatLng) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Bounds is a viewport rectangle. The zero value is the "no viewport yet"
// sentinel.
type Bounds struct {
	NorthEast LatLng `json:"north_east"`
	SouthWest LatLng `json:"south_west"`
}

// BoundsFromCorners builds normalized Bounds from any set of corner points.
// Map SDKs report corners in different shapes (ne/sw, min/max, four-point
// rings); the extent of all points is taken so NorthEast is always the max
// corner.
func BoundsFromCorners(corners ...LatLng) Bounds {
	if len(corners) == 0 {
		return Bounds{}
	}

	flat := make([]float64, 0, len(corners)*2)
	for _, c := range corners {
		flat = append(flat, c.Lon, c.Lat)
	}
	ext := geom.NewBounds(geom.XY).Extend(geom.NewMultiPointFlat(geom.XY, flat))

	return Bounds{
		NorthEast: LatLng{Lat: ext.Max(1), Lon: ext.Max(0)},
		SouthWest: LatLng{Lat: ext.Min(1), Lon: ext.Min(0)},
	}
}

// IsZero reports whether all four corner fields are zero.
func (b Bounds) IsZero() bool {
	return b.NorthEast.IsZero() && b.SouthWest.IsZero()
}

// HasZeroField reports whether any of the four corner fields is zero.
func (b Bounds) HasZeroField() bool {
	return b.NorthEast.Lat == 0 || b.NorthEast.Lon == 0 ||
		b.SouthWest.Lat == 0 || b.SouthWest.Lon == 0
}

// Valid reports whether NorthEast is at or above SouthWest on both axes.
func (b Bounds) Valid() bool {
	return b.NorthEast.Lat >= b.SouthWest.Lat && b.NorthEast.Lon >= b.SouthWest.Lon
}

// Contains reports whether p lies inside (or on the edge of) the bounds.
func (b Bounds) Contains(p LatLng) bool {
	ext := geom.NewBounds(geom.XY).Set(b.SouthWest.Lon, b.SouthWest.Lat, b.NorthEast.Lon, b.NorthEast.Lat)
	return ext.OverlapsPoint(geom.XY, geom.Coord{p.Lon, p.Lat})
}

// Viewport is the published map state. Center, Zoom and Bounds always change
// together.
type Viewport struct {
	Center LatLng  `json:"center"`
	Zoom   float64 `json:"zoom"`
	Bounds Bounds  `json:"bounds"`
}

// BoundsQuery is the request body of the store search endpoint.
type BoundsQuery struct {
	NorthEastLat float64 `json:"northEastLat"`
	NorthEastLon float64 `json:"northEastLon"`
	SouthWestLat float64 `json:"southWestLat"`
	SouthWestLon float64 `json:"southWestLon"`
}

// QueryFromBounds maps bounds corners onto the four query fields.
func QueryFromBounds(b Bounds) BoundsQuery {
	return BoundsQuery{
		NorthEastLat: b.NorthEast.Lat,
		NorthEastLon: b.NorthEast.Lon,
		SouthWestLat: b.SouthWest.Lat,
		SouthWestLon: b.SouthWest.Lon,
	}
}

// DefaultCountryQuery is the whole-country box used by the denied flow before
// a real viewport exists.
func DefaultCountryQuery() BoundsQuery {
	return BoundsQuery{
		NorthEastLat: 38,
		NorthEastLon: 132,
		SouthWestLat: 33,
		SouthWestLon: 124,
	}
}

// Bounds converts the query back into a Bounds rectangle.
func (q BoundsQuery) Bounds() Bounds {
	return Bounds{
		NorthEast: LatLng{Lat: q.NorthEastLat, Lon: q.NorthEastLon},
		SouthWest: LatLng{Lat: q.SouthWestLat, Lon: q.SouthWestLon},
	}
}
