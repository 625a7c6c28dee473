package ingest

import (
	"math"
	"testing"

	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

func normalizeDef() schema.EntityTypeDef {
	return schema.EntityTypeDef{
		Name: "measurement",
		Attributes: map[string]schema.AttributeSpec{
			"name":       {Kind: schema.KindText, Required: true},
			"depth":      {Kind: schema.KindFloat, Dimension: schema.DimensionLength},
			"palaeodose": {Kind: schema.KindFloat, Dimension: schema.DimensionDose},
			"age":        {Kind: schema.KindFloat, Dimension: schema.DimensionAge},
			"ratio":      {Kind: schema.KindFloat},
			"location":   {Kind: schema.KindGeometry},
		},
	}
}

func TestNormalizeUnitConversions(t *testing.T) {
	cases := []struct {
		field string
		value map[string]any
		want  float64
	}{
		{"depth", map[string]any{"value": 80.0, "unit": "cm"}, 0.8},
		{"depth", map[string]any{"value": 2.0, "unit": "km"}, 2000},
		{"palaeodose", map[string]any{"value": 1500.0, "unit": "mGy"}, 1.5},
		{"age", map[string]any{"value": 12.5, "unit": "ka"}, 12500},
		{"age", map[string]any{"value": 1.2, "unit": "Ma"}, 1.2e6},
	}
	for _, tc := range cases {
		var report domain.ValidationReport
		normalizeAttributes(normalizeDef(), map[string]any{tc.field: tc.value}, &report)
		if !report.Valid() {
			t.Fatalf("%s %v: unexpected issues %+v", tc.field, tc.value, report.Issues)
		}
		got, ok := report.Normalized[tc.field].(float64)
		if !ok || math.Abs(got-tc.want) > 1e-9*math.Max(1, tc.want) {
			t.Errorf("%s %v: got %v, want %v", tc.field, tc.value, report.Normalized[tc.field], tc.want)
		}
	}
}

func TestNormalizeRejectsUnknownUnit(t *testing.T) {
	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{
		"depth": map[string]any{"value": 3.0, "unit": "fathom"},
	}, &report)
	if report.Valid() || report.Issues[0].Code != schema.CodeBadUnit {
		t.Fatalf("expected bad_unit issue, got %+v", report.Issues)
	}
}

func TestNormalizeRejectsUnitObjectWithoutDimension(t *testing.T) {
	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{
		"ratio": map[string]any{"value": 1.0, "unit": "m"},
	}, &report)
	if report.Valid() {
		t.Fatalf("unit object on dimensionless attribute must be rejected")
	}
}

func TestNormalizeTrimsText(t *testing.T) {
	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{"name": "  KB-12  "}, &report)
	if report.Normalized["name"] != "KB-12" {
		t.Fatalf("expected trimmed name, got %q", report.Normalized["name"])
	}
}

func TestReprojectWebMercatorRoundTrip(t *testing.T) {
	lon, lat := 6.9, 50.9
	x := lon * math.Pi / 180 * earthRadius
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/180/2))

	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{
		"location": map[string]any{"kind": "point", "crs": "EPSG:3857", "coordinates": []any{x, y}},
	}, &report)
	if !report.Valid() {
		t.Fatalf("unexpected issues %+v", report.Issues)
	}
	if report.Geometry == nil || report.Geometry.CRS != domain.CRSWGS84 {
		t.Fatalf("geometry not reprojected: %+v", report.Geometry)
	}
	c := report.Geometry.Coordinates[0]
	if math.Abs(c[0]-lon) > 1e-6 || math.Abs(c[1]-lat) > 1e-6 {
		t.Fatalf("round trip drifted: got %v, want [%g %g]", c, lon, lat)
	}
}

func TestReprojectRejectsUnsupportedCRS(t *testing.T) {
	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{
		"location": map[string]any{"kind": "point", "crs": "EPSG:31466", "coordinates": []any{2.5e6, 5.6e6}},
	}, &report)
	if report.Valid() || report.Issues[0].Code != schema.CodeBadCRS {
		t.Fatalf("expected bad_crs issue, got %+v", report.Issues)
	}
}

func TestNormalizeFlagsOutOfRangeCoordinates(t *testing.T) {
	var report domain.ValidationReport
	normalizeAttributes(normalizeDef(), map[string]any{
		"location": map[string]any{"kind": "point", "coordinates": []any{6.9, 95.0}},
	}, &report)
	if report.Valid() || report.Issues[0].Code != schema.CodeOutOfRange {
		t.Fatalf("expected out_of_range issue, got %+v", report.Issues)
	}
	if report.Geometry != nil {
		t.Fatalf("invalid geometry must not be attached to the report")
	}
}

func TestRecordIDDeterministic(t *testing.T) {
	a := RecordID("sample", "S-001")
	b := RecordID("sample", "S-001")
	if a != b {
		t.Fatalf("record id not deterministic: %s vs %s", a, b)
	}
	if a == RecordID("site", "S-001") || a == RecordID("sample", "S-002") {
		t.Fatalf("record id must depend on both type and source id")
	}
}

func TestSourceHashIgnoresAttributeOrder(t *testing.T) {
	h1, err := SourceHash("sample", map[string]any{"a": 1.0, "b": 2.0}, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := SourceHash("sample", map[string]any{"b": 2.0, "a": 1.0}, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash depends on map iteration order")
	}
	h3, _ := SourceHash("sample", map[string]any{"a": 1.0, "b": 3.0}, nil)
	if h1 == h3 {
		t.Fatalf("hash must change with content")
	}
}
