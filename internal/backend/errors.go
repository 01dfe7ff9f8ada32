package backend

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentBackend = "backend"

// ErrUnknownBackend is returned for a backend type that is not built in
var ErrUnknownBackend = errors.Newf("unknown backend type").
	Component(componentBackend).
	Category(errors.CategoryConfiguration).
	Build()

// ErrUnsupportedPlatform is returned when no audio API is known for the OS
var ErrUnsupportedPlatform = errors.Newf("no audio backend for this platform").
	Component(componentBackend).
	Category(errors.CategoryAudioIO).
	Build()

// ErrAlreadyRunning is returned when Run is called on a running driver
var ErrAlreadyRunning = errors.Newf("backend already running").
	Component(componentBackend).
	Category(errors.CategoryState).
	Build()

func deviceError(err error, operation string) error {
	return errors.New(err).
		Component(componentBackend).
		Category(errors.CategoryAudioIO).
		Context("operation", operation).
		Build()
}
