package monitor

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentMonitor = "monitor"

// ErrNoTap is returned when a port without a meter tap is watched
var ErrNoTap = errors.Newf("port has no meter tap").
	Component(componentMonitor).
	Category(errors.CategoryValidation).
	Build()

// ErrUnknownTap is returned for a tap name that is not watched
var ErrUnknownTap = errors.Newf("tap not watched").
	Component(componentMonitor).
	Category(errors.CategoryNotFound).
	Build()

// ErrInsufficientSpace is returned when the capture directory is too full
var ErrInsufficientSpace = errors.Newf("not enough free disk space for capture").
	Component(componentMonitor).
	Category(errors.CategorySystem).
	Build()

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component(componentMonitor).
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}

func wrapTap(base *errors.EnhancedError, name string) error {
	return errors.New(base).
		Component(componentMonitor).
		Category(base.Category).
		Context("tap", name).
		Build()
}
