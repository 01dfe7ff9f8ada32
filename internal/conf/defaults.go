// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("engine.sample_rate", 48000)
	v.SetDefault("engine.block_length", 256)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.queue_capacity", 4096)

	v.SetDefault("ports.meter_ring_blocks", 32)
	v.SetDefault("ports.meter_evict_blocks", 8)
	v.SetDefault("ports.event_ring_records", 64)
	v.SetDefault("ports.external_ring_records", 256)

	v.SetDefault("router.control_queue_size", 128)
	v.SetDefault("router.validation_cache_ttl", 30*time.Second)
	v.SetDefault("router.failure_log_rate", 1.0)

	v.SetDefault("backend.type", "dummy")
	v.SetDefault("backend.device", "")
	v.SetDefault("backend.channels", 2)
	v.SetDefault("backend.period", 0)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", 50*time.Millisecond)
	v.SetDefault("monitor.record_path", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "signalgraph")
	v.SetDefault("mqtt.client_id", "signalgraph")

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("diagnostics.trace_enabled", false)
	v.SetDefault("diagnostics.trace_capacity", 4096)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
}
