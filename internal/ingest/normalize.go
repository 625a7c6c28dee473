package ingest

import (
	"fmt"
	"math"
	"strings"

	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

// unitFactors maps accepted units to the multiplier that converts a value into
// the dimension's canonical unit (metres, grays, years).
var unitFactors = map[schema.Dimension]map[string]float64{
	schema.DimensionLength: {"m": 1, "cm": 0.01, "mm": 0.001, "km": 1000},
	schema.DimensionDose:   {"Gy": 1, "mGy": 0.001},
	schema.DimensionAge:    {"a": 1, "ka": 1e3, "Ma": 1e6},
}

const crsWebMercator = "EPSG:3857"

// earthRadius is the spherical Mercator radius in metres.
const earthRadius = 6378137.0

// normalizeAttributes converts a shape-valid payload into canonical form:
// strings trimmed, dimensioned values converted to canonical units, dates kept
// as supplied, geometry decoded and reprojected to WGS84. Conversion failures
// are collected on the report; callers must re-check report.Valid afterwards.
func normalizeAttributes(def schema.EntityTypeDef, payload map[string]any, report *domain.ValidationReport) {
	report.Normalized = make(map[string]any, len(payload))
	for name, spec := range def.Attributes {
		value, present := payload[name]
		if !present || value == nil {
			continue
		}
		switch spec.Kind {
		case schema.KindText, schema.KindReference:
			if s, ok := value.(string); ok {
				report.Normalized[name] = strings.TrimSpace(s)
			}
		case schema.KindDate:
			if s, ok := value.(string); ok {
				report.Normalized[name] = strings.TrimSpace(s)
			}
		case schema.KindInteger, schema.KindBoolean:
			report.Normalized[name] = value
		case schema.KindFloat:
			f, err := canonicalFloat(spec, value)
			if err != nil {
				report.AddIssue(name, schema.CodeBadUnit, err.Error())
				continue
			}
			report.Normalized[name] = f
		case schema.KindGeometry:
			g, err := schema.DecodeGeometry(value)
			if err != nil {
				report.AddIssue(name, schema.CodeTypeMismatch, err.Error())
				continue
			}
			projected, err := reproject(g)
			if err != nil {
				report.AddIssue(name, schema.CodeBadCRS, err.Error())
				continue
			}
			if bad, ok := outOfRange(projected); ok {
				report.AddIssue(name, schema.CodeOutOfRange,
					fmt.Sprintf("coordinate [%g, %g] outside valid longitude/latitude range", bad[0], bad[1]))
				continue
			}
			report.Geometry = &projected
		}
	}
}

// canonicalFloat resolves a plain number (already canonical) or a
// {"value", "unit"} object into the dimension's canonical unit.
func canonicalFloat(spec schema.AttributeSpec, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case map[string]any:
		if spec.Dimension == schema.DimensionNone {
			return 0, fmt.Errorf("unit object supplied for dimensionless attribute")
		}
		raw, ok := numeric(v["value"])
		if !ok {
			return 0, fmt.Errorf("unit object missing numeric value")
		}
		unit, _ := v["unit"].(string)
		factor, ok := unitFactors[spec.Dimension][unit]
		if !ok {
			return 0, fmt.Errorf("unit %q not convertible for dimension %q", unit, spec.Dimension)
		}
		return raw * factor, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value %T", value)
	}
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// outOfRange returns the first coordinate pair outside WGS84 bounds.
func outOfRange(g domain.Geometry) ([2]float64, bool) {
	for _, c := range g.Coordinates {
		if c[0] < -180 || c[0] > 180 || c[1] < -90 || c[1] > 90 {
			return c, true
		}
	}
	return [2]float64{}, false
}

// reproject converts supported coordinate reference systems to WGS84. Only
// the identity (EPSG:4326) and inverse spherical Mercator (EPSG:3857) are
// implemented; anything else is rejected rather than passed through.
func reproject(g domain.Geometry) (domain.Geometry, error) {
	switch g.CRS {
	case domain.CRSWGS84:
		return g, nil
	case crsWebMercator:
		out := g.Clone()
		out.CRS = domain.CRSWGS84
		for i, c := range g.Coordinates {
			lon := c[0] / earthRadius * 180 / math.Pi
			lat := (2*math.Atan(math.Exp(c[1]/earthRadius)) - math.Pi/2) * 180 / math.Pi
			out.Coordinates[i] = [2]float64{lon, lat}
		}
		return out, nil
	default:
		return domain.Geometry{}, fmt.Errorf("unsupported coordinate reference system %q", g.CRS)
	}
}
