package router

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentRouter = "router"

// ErrRebuildInProgress is returned by StartCycle when a rebuild holds the graph
var ErrRebuildInProgress = errors.Newf("graph rebuild in progress, cycle skipped").
	Component(componentRouter).
	Category(errors.CategoryState).
	Build()

// ErrRouterStopped is returned by every operation after Stop
var ErrRouterStopped = errors.Newf("router stopped").
	Component(componentRouter).
	Category(errors.CategoryState).
	Build()

// ErrControlQueueFull is returned when the control ring has no room
var ErrControlQueueFull = errors.Newf("control change queue full").
	Component(componentRouter).
	Category(errors.CategoryLimit).
	Build()

// ErrInvalidControlChange is returned for an unknown kind or out-of-range value
var ErrInvalidControlChange = errors.Newf("invalid control change").
	Component(componentRouter).
	Category(errors.CategoryValidation).
	Build()

// ErrCatalogReadOnly is returned by AddUnit and RemoveUnit when the catalog
// cannot be modified through the router
var ErrCatalogReadOnly = errors.Newf("unit catalog is read-only").
	Component(componentRouter).
	Category(errors.CategoryState).
	Build()

// ErrUnknownUnit is returned when a unit ID is not in the catalog
var ErrUnknownUnit = errors.Newf("unknown unit").
	Component(componentRouter).
	Category(errors.CategoryNotFound).
	Build()

// ErrDuplicateUnit is returned when a unit ID is already in the catalog
var ErrDuplicateUnit = errors.Newf("unit already registered").
	Component(componentRouter).
	Category(errors.CategoryConflict).
	Build()

// ErrInvalidTimeInfo is returned for an empty or out-of-block sub-block
var ErrInvalidTimeInfo = errors.Newf("invalid cycle time info").
	Component(componentRouter).
	Category(errors.CategoryValidation).
	Build()

// ErrNotKickoffThread is returned when a cycle is started from a context
// that does not carry the kickoff role
var ErrNotKickoffThread = errors.Newf("cycle started outside the kickoff thread").
	Component(componentRouter).
	Category(errors.CategoryState).
	Build()

// wrap attaches context to a sentinel while keeping its category
func wrap(base *errors.EnhancedError, key string, value any) error {
	return errors.New(base).
		Component(componentRouter).
		Category(base.Category).
		Context(key, value).
		Build()
}
