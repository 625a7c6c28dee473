package domain

import (
	"context"
	"fmt"
)

// NewCoordinateRangeRule returns the in-transaction rule enforcing that
// normalized geometries stay within WGS84 coordinate bounds.
func NewCoordinateRangeRule() Rule {
	return coordinateRangeRule{}
}

type coordinateRangeRule struct{}

func (coordinateRangeRule) Name() string { return "coordinate_range" }

func (coordinateRangeRule) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityRecord || change.After == nil {
			continue
		}
		record, ok := change.After.(Record)
		if !ok || record.Geometry == nil {
			continue
		}
		if record.Geometry.CRS != CRSWGS84 {
			res.Violations = append(res.Violations, coordinateViolation(record.ID,
				fmt.Sprintf("record %s geometry not normalized to %s", record.ID, CRSWGS84)))
			continue
		}
		for _, c := range record.Geometry.Coordinates {
			if c[0] < -180 || c[0] > 180 || c[1] < -90 || c[1] > 90 {
				res.Violations = append(res.Violations, coordinateViolation(record.ID,
					fmt.Sprintf("record %s coordinate (%g, %g) outside WGS84 bounds", record.ID, c[0], c[1])))
				break
			}
		}
	}
	return res, nil
}

func coordinateViolation(entityID, message string) Violation {
	return Violation{
		Rule:     "coordinate_range",
		Severity: SeverityBlock,
		Message:  message,
		Entity:   EntityRecord,
		EntityID: entityID,
	}
}
