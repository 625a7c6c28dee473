package domain

// GeometryKind enumerates supported geometry shapes.
type GeometryKind string

// Supported geometry kinds. Points carry a single coordinate pair, polygons a
// closed outer ring.
const (
	GeometryPoint   GeometryKind = "point"
	GeometryPolygon GeometryKind = "polygon"
)

// CRSWGS84 is the canonical coordinate reference system for all persisted
// geometries. Payloads in other systems are reprojected during ingestion.
const CRSWGS84 = "EPSG:4326"

// Geometry is a point or polygon in a declared coordinate reference system.
// Coordinates are [longitude, latitude] pairs; after normalization CRS is
// always CRSWGS84.
type Geometry struct {
	Kind        GeometryKind `json:"kind"`
	CRS         string       `json:"crs"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Clone returns a deep copy of the geometry.
func (g Geometry) Clone() Geometry {
	cp := g
	cp.Coordinates = make([][2]float64, len(g.Coordinates))
	copy(cp.Coordinates, g.Coordinates)
	return cp
}

// BoundingBox is an axis-aligned lon/lat extent used for spatial queries.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Bounds computes the bounding box of the geometry.
func (g Geometry) Bounds() BoundingBox {
	if len(g.Coordinates) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{
		MinLon: g.Coordinates[0][0],
		MinLat: g.Coordinates[0][1],
		MaxLon: g.Coordinates[0][0],
		MaxLat: g.Coordinates[0][1],
	}
	for _, c := range g.Coordinates[1:] {
		if c[0] < b.MinLon {
			b.MinLon = c[0]
		}
		if c[0] > b.MaxLon {
			b.MaxLon = c[0]
		}
		if c[1] < b.MinLat {
			b.MinLat = c[1]
		}
		if c[1] > b.MaxLat {
			b.MaxLat = c[1]
		}
	}
	return b
}

// Intersects reports whether two boxes overlap, boundaries included.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains reports whether the box contains the given coordinate.
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}
