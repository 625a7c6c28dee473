package schema

import (
	"fmt"
	"math"
	"sort"
	"time"

	"lithocore/pkg/domain"
)

// Issue codes reported by shape validation.
const (
	CodeMissing      = "missing"
	CodeUnknownField = "unknown_field"
	CodeTypeMismatch = "type_mismatch"
	CodeOutOfRange   = "out_of_range"
	CodeNotInEnum    = "not_in_enum"
	CodeBadUnit      = "bad_unit"
	CodeBadCRS       = "bad_crs"
)

// CheckShape validates a payload against a frozen entity-type definition. It
// has no side effects: failures for every field are collected into one report
// so callers see all problems in a single round trip.
func CheckShape(def EntityTypeDef, payload map[string]any) domain.ValidationReport {
	report := domain.ValidationReport{Type: def.Name}

	names := make([]string, 0, len(def.Attributes))
	for name := range def.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := def.Attributes[name]
		value, present := payload[name]
		if !present || value == nil {
			if spec.Required {
				report.AddIssue(name, CodeMissing, fmt.Sprintf("required attribute %q missing", name))
			}
			continue
		}
		checkValue(&report, name, spec, value)
	}

	extras := make([]string, 0)
	for name := range payload {
		if _, declared := def.Attributes[name]; !declared {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		report.AddIssue(name, CodeUnknownField, fmt.Sprintf("attribute %q not declared by type %q", name, def.Name))
	}
	return report
}

func checkValue(report *domain.ValidationReport, name string, spec AttributeSpec, value any) {
	switch spec.Kind {
	case KindText:
		s, ok := value.(string)
		if !ok {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects text", name))
			return
		}
		if len(spec.Enum) > 0 && !inEnum(spec.Enum, s) {
			report.AddIssue(name, CodeNotInEnum, fmt.Sprintf("attribute %q value %q not in enum", name, s))
		}
	case KindInteger:
		f, ok := numericValue(value)
		if !ok || f != math.Trunc(f) {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects an integer", name))
			return
		}
		checkRange(report, name, spec, f)
	case KindFloat:
		f, ok := floatValue(value, spec)
		if !ok {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects a number", name))
			return
		}
		checkRange(report, name, spec, f)
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects a boolean", name))
		}
	case KindDate:
		s, ok := value.(string)
		if !ok {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects a date string", name))
			return
		}
		if _, err := ParseDate(s); err != nil {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q: %v", name, err))
		}
	case KindGeometry:
		if _, err := DecodeGeometry(value); err != nil {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q: %v", name, err))
		}
	case KindReference:
		s, ok := value.(string)
		if !ok || s == "" {
			report.AddIssue(name, CodeTypeMismatch, fmt.Sprintf("attribute %q expects a record identifier", name))
		}
	}
}

func checkRange(report *domain.ValidationReport, name string, spec AttributeSpec, f float64) {
	if spec.Min != nil && f < *spec.Min {
		report.AddIssue(name, CodeOutOfRange, fmt.Sprintf("attribute %q value %g below minimum %g", name, f, *spec.Min))
	}
	if spec.Max != nil && f > *spec.Max {
		report.AddIssue(name, CodeOutOfRange, fmt.Sprintf("attribute %q value %g above maximum %g", name, f, *spec.Max))
	}
}

// numericValue accepts JSON numbers and Go integer types.
func numericValue(value any) (float64, bool) {
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

// floatValue accepts a plain number (assumed canonical unit) or, for
// dimensioned attributes, a {"value": n, "unit": "cm"} object.
func floatValue(value any, spec AttributeSpec) (float64, bool) {
	if f, ok := numericValue(value); ok {
		return f, true
	}
	if spec.Dimension == DimensionNone {
		return 0, false
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return 0, false
	}
	f, ok := numericValue(obj["value"])
	if !ok {
		return 0, false
	}
	if _, ok := obj["unit"].(string); !ok {
		return 0, false
	}
	return f, true
}

func inEnum(enum []string, s string) bool {
	for _, candidate := range enum {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseDate accepts RFC3339 timestamps and plain calendar dates.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// DecodeGeometry converts a payload value into a domain.Geometry without
// reprojection. Accepted forms: a domain.Geometry value or a JSON object
// {"kind": "point"|"polygon", "crs": "...", "coordinates": [[lon,lat],...]}.
// Point coordinates may be given flat: [lon, lat].
func DecodeGeometry(value any) (domain.Geometry, error) {
	switch v := value.(type) {
	case domain.Geometry:
		return v.Clone(), nil
	case *domain.Geometry:
		if v == nil {
			return domain.Geometry{}, fmt.Errorf("nil geometry")
		}
		return v.Clone(), nil
	case map[string]any:
		return decodeGeometryObject(v)
	default:
		return domain.Geometry{}, fmt.Errorf("unsupported geometry value %T", value)
	}
}

func decodeGeometryObject(obj map[string]any) (domain.Geometry, error) {
	kind, _ := obj["kind"].(string)
	switch domain.GeometryKind(kind) {
	case domain.GeometryPoint, domain.GeometryPolygon:
	default:
		return domain.Geometry{}, fmt.Errorf("unknown geometry kind %q", kind)
	}
	crs, _ := obj["crs"].(string)
	if crs == "" {
		crs = domain.CRSWGS84
	}
	coords, err := decodeCoordinates(obj["coordinates"])
	if err != nil {
		return domain.Geometry{}, err
	}
	g := domain.Geometry{Kind: domain.GeometryKind(kind), CRS: crs, Coordinates: coords}
	if g.Kind == domain.GeometryPoint && len(coords) != 1 {
		return domain.Geometry{}, fmt.Errorf("point geometry needs exactly one coordinate pair")
	}
	if g.Kind == domain.GeometryPolygon && len(coords) < 3 {
		return domain.Geometry{}, fmt.Errorf("polygon geometry needs at least three coordinate pairs")
	}
	return g, nil
}

func decodeCoordinates(value any) ([][2]float64, error) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("geometry coordinates missing")
	}
	// Flat [lon, lat] pair for points.
	if f0, ok0 := numericValue(list[0]); ok0 && len(list) == 2 {
		if f1, ok1 := numericValue(list[1]); ok1 {
			return [][2]float64{{f0, f1}}, nil
		}
	}
	out := make([][2]float64, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("coordinate must be a [lon, lat] pair")
		}
		lon, okLon := numericValue(pair[0])
		lat, okLat := numericValue(pair[1])
		if !okLon || !okLat {
			return nil, fmt.Errorf("coordinate components must be numbers")
		}
		out = append(out, [2]float64{lon, lat})
	}
	return out, nil
}
