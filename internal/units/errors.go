package units

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentUnits = "units"

// ErrInvalidParameter is returned when a unit is created with an unusable setting
var ErrInvalidParameter = errors.Newf("invalid unit parameter").
	Component(componentUnits).
	Category(errors.CategoryValidation).
	Build()

func invalidParameter(unit, param string, value any) error {
	return errors.New(ErrInvalidParameter).
		Component(componentUnits).
		Category(errors.CategoryValidation).
		Context("unit", unit).
		Context("parameter", param).
		Context("value", value).
		Build()
}
