// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"engine.sample_rate", "SIGNALGRAPH_SAMPLE_RATE", validateEnvPositiveInt},
		{"engine.block_length", "SIGNALGRAPH_BLOCK_LENGTH", validateEnvPowerOfTwo},
		{"engine.workers", "SIGNALGRAPH_WORKERS", validateEnvNonNegativeInt},
		{"backend.type", "SIGNALGRAPH_BACKEND", validateEnvBackend},
		{"backend.device", "SIGNALGRAPH_BACKEND_DEVICE", nil},
		{"telemetry.enabled", "SIGNALGRAPH_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "SIGNALGRAPH_TELEMETRY_LISTEN", nil},
		{"mqtt.enabled", "SIGNALGRAPH_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "SIGNALGRAPH_MQTT_BROKER", nil},
		{"mqtt.username", "SIGNALGRAPH_MQTT_USERNAME", nil},
		{"mqtt.password", "SIGNALGRAPH_MQTT_PASSWORD", nil},
		{"sentry.enabled", "SIGNALGRAPH_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "SIGNALGRAPH_SENTRY_DSN", nil},
		{"logging.default_level", "SIGNALGRAPH_LOG_LEVEL", validateEnvLogLevel},
	}
}

// bindEnvVars binds environment variables and validates any that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be zero or a positive integer")
	}
	return nil
}

func validateEnvPowerOfTwo(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || !isPowerOfTwo(n) {
		return fmt.Errorf("must be a power of two")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendDummy, BackendMalgo:
		return nil
	}
	return fmt.Errorf("must be %q or %q", BackendDummy, BackendMalgo)
}

func validateEnvLogLevel(value string) error {
	switch value {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level")
}
