package ringbuffer

import "github.com/tphakala/signalgraph/internal/errors"

const componentRingBuffer = "ringbuffer"

func newMlockError(err error, size int) error {
	return errors.New(err).
		Component(componentRingBuffer).
		Category(errors.CategoryBuffer).
		Context("operation", "mlock").
		Context("size", size).
		Build()
}
