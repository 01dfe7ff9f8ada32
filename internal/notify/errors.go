package notify

import (
	"github.com/tphakala/signalgraph/internal/errors"
)

const componentNotify = "notify"

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.Newf("not connected to MQTT broker").
	Component(componentNotify).
	Category(errors.CategoryNetwork).
	Build()

// ErrTimeout is returned when the broker does not acknowledge in time
var ErrTimeout = errors.Newf("MQTT operation timed out").
	Component(componentNotify).
	Category(errors.CategoryTimeout).
	Build()

// ErrConnectCooldown is returned when a connect follows the previous attempt too closely
var ErrConnectCooldown = errors.Newf("connection attempt too recent").
	Component(componentNotify).
	Category(errors.CategoryState).
	Build()

// ErrInvalidBroker is returned for a broker URL that cannot be parsed
var ErrInvalidBroker = errors.Newf("invalid broker URL").
	Component(componentNotify).
	Category(errors.CategoryConfiguration).
	Build()

func brokerError(err error, operation, broker string) error {
	return errors.New(err).
		Component(componentNotify).
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Context("broker", broker).
		Build()
}

func publishError(err error, topic string) error {
	return errors.New(err).
		Component(componentNotify).
		Category(errors.CategoryMQTTPublish).
		Context("topic", topic).
		Build()
}

func wrapBroker(base *errors.EnhancedError, operation, broker string) error {
	return errors.New(base).
		Component(componentNotify).
		Category(base.Category).
		Context("operation", operation).
		Context("broker", broker).
		Build()
}
