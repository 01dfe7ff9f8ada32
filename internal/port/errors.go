package port

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

var errConfigRequired = errors.Newf("port config is required").
	Component("port").
	Category(errors.CategoryValidation).
	Build()

// ErrNotControl is returned when a control operation targets another kind
var ErrNotControl = errors.Newf("port is not a control port").
	Component("port").
	Category(errors.CategoryPort).
	Build()

// ErrUnknownHandle is returned when a handle does not resolve
var ErrUnknownHandle = errors.Newf("unknown port handle").
	Component("port").
	Category(errors.CategoryNotFound).
	Build()

func newPortError(id Identifier, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("port").
		Category(errors.CategoryValidation).
		Context("port", id.String()).
		Build()
}
