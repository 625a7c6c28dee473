// Package luminescence contributes the luminescence dating method module:
// a measurement entity type plus a dose consistency rule.
package luminescence

import (
	"context"
	"math"

	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

// Plugin implements the luminescence dating method module.
type Plugin struct{}

// New constructs a luminescence plugin instance.
func New() Plugin {
	return Plugin{}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "luminescence" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// TypeName is the entity type contributed by this plugin.
const TypeName = "luminescence_measurement"

func floatPtr(v float64) *float64 { return &v }

// Register wires the measurement entity type and the dose consistency rule.
func (Plugin) Register(registry *schema.PluginRegistry) error {
	err := registry.RegisterEntityType(schema.EntityTypeDef{
		Name:  TypeName,
		Title: "Luminescence Measurement",
		Attributes: map[string]schema.AttributeSpec{
			"laboratory_id": {Kind: schema.KindText, Required: true, Description: "Laboratory identifier"},
			"sample":        {Kind: schema.KindReference, RefType: "sample", Description: "Sample being dated"},
			"mineral": {Kind: schema.KindText, Required: true,
				Enum: []string{"quartz", "feldspar", "polymineral"}},
			"signal": {Kind: schema.KindText,
				Enum: []string{"OSL", "IRSL", "pIRIR", "TL"}},
			"protocol":         {Kind: schema.KindText, Description: "Measurement protocol, e.g. SAR"},
			"dating_approach":  {Kind: schema.KindText},
			"luminescence_age": {Kind: schema.KindFloat, Required: true, Dimension: schema.DimensionAge, Min: floatPtr(0)},
			"age_error":        {Kind: schema.KindFloat, Dimension: schema.DimensionAge, Min: floatPtr(0)},
			"palaeodose":       {Kind: schema.KindFloat, Dimension: schema.DimensionDose, Min: floatPtr(0)},
			"palaeodose_error": {Kind: schema.KindFloat, Dimension: schema.DimensionDose, Min: floatPtr(0)},
			"dose_rate":        {Kind: schema.KindFloat, Min: floatPtr(0), Description: "Environmental dose rate in Gy/ka"},
			"dose_rate_error":  {Kind: schema.KindFloat, Min: floatPtr(0)},
			"grain_size_min":   {Kind: schema.KindInteger, Min: floatPtr(0), Description: "Minimum grain size in µm"},
			"grain_size_max":   {Kind: schema.KindInteger, Min: floatPtr(0)},
			"published":        {Kind: schema.KindBoolean},
			"measured_at":      {Kind: schema.KindDate},
			"location":         {Kind: schema.KindGeometry, Description: "Sampling location"},
			"comments":         {Kind: schema.KindText},
		},
	})
	if err != nil {
		return err
	}

	registry.RegisterRule(doseConsistencyRule{})
	return nil
}

// doseConsistencyRule warns when the reported age disagrees with the age
// implied by palaeodose and dose rate (age = palaeodose / dose rate). A
// mismatch flags a transcription error but never blocks the commit.
type doseConsistencyRule struct{}

const doseConsistencyTolerance = 0.25

func (doseConsistencyRule) Name() string { return "luminescence_dose_consistency" }

func (doseConsistencyRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityRecord || change.Action == domain.ActionDelete {
			continue
		}
		record, ok := change.After.(domain.Record)
		if !ok || record.Type != TypeName {
			continue
		}
		age, okAge := attrFloat(record.Attributes, "luminescence_age")
		palaeodose, okDose := attrFloat(record.Attributes, "palaeodose")
		doseRate, okRate := attrFloat(record.Attributes, "dose_rate")
		if !okAge || !okDose || !okRate || doseRate == 0 {
			continue
		}
		// Age is stored in years, dose rate in Gy/ka.
		impliedAge := palaeodose / doseRate * 1000
		if impliedAge == 0 {
			continue
		}
		deviation := math.Abs(age-impliedAge) / impliedAge
		if deviation <= doseConsistencyTolerance {
			continue
		}
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "luminescence_dose_consistency",
			Severity: domain.SeverityWarn,
			Message:  "reported age inconsistent with palaeodose and dose rate",
			Entity:   domain.EntityRecord,
			EntityID: record.ID,
		})
	}
	return result, nil
}

func attrFloat(attrs map[string]any, name string) (float64, bool) {
	switch v := attrs[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
