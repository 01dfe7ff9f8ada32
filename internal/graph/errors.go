package graph

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentGraph = "graph"

// ErrCycleDetected is returned when the connections would form a cycle
var ErrCycleDetected = errors.Newf("cycle detected in processing graph").
	Component(componentGraph).
	Category(errors.CategoryGraph).
	Build()

// ErrDanglingConnection is returned when a connection references a port the
// table does not know
var ErrDanglingConnection = errors.Newf("connection references an unregistered port").
	Component(componentGraph).
	Category(errors.CategoryValidation).
	Build()

// ErrInvalidPairing is returned when a dry run rejects a port pairing
var ErrInvalidPairing = errors.Newf("ports cannot be connected").
	Component(componentGraph).
	Category(errors.CategoryValidation).
	Build()

func cycleError(nodes []string) error {
	return errors.New(ErrCycleDetected).
		Component(componentGraph).
		Category(errors.CategoryGraph).
		Context("nodes", nodes).
		Build()
}

func wrapValidation(base *errors.EnhancedError, key string, value any) error {
	return errors.New(base).
		Component(componentGraph).
		Category(errors.CategoryValidation).
		Context(key, value).
		Build()
}
