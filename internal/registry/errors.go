package registry

import (
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/port"
)

const componentRegistry = "registry"

// ErrSelfConnection is returned when source and destination are the same port
var ErrSelfConnection = errors.Newf("cannot connect a port to itself").
	Component(componentRegistry).
	Category(errors.CategoryValidation).
	Build()

// ErrIncompatiblePorts is returned for a flow or kind mismatch
var ErrIncompatiblePorts = errors.Newf("incompatible port pairing").
	Component(componentRegistry).
	Category(errors.CategoryValidation).
	Build()

// ErrUnknownPort is returned when a handle is not in the port table
var ErrUnknownPort = errors.Newf("unknown port").
	Component(componentRegistry).
	Category(errors.CategoryNotFound).
	Build()

// ErrNotConnected is returned when editing a connection that does not exist
var ErrNotConnected = errors.Newf("connection not found").
	Component(componentRegistry).
	Category(errors.CategoryNotFound).
	Build()

// ErrLocked is returned when disconnecting a locked connection without force
var ErrLocked = errors.Newf("connection is locked").
	Component(componentRegistry).
	Category(errors.CategoryState).
	Build()

// connectionError wraps a sentinel with the handles involved, keeping its category
func connectionError(base *errors.EnhancedError, src, dst port.Handle) error {
	return errors.New(base).
		Component(componentRegistry).
		Category(base.Category).
		Context("src", uint32(src)).
		Context("dest", uint32(dst)).
		Build()
}
