package engine

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentEngine = "engine"

func setupError(err error, step string) error {
	return errors.New(err).
		Component(componentEngine).
		Category(errors.CategoryConfiguration).
		Context("step", step).
		Build()
}
