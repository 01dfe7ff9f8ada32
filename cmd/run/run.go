package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/signalgraph/internal/buildinfo"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/engine"
	"github.com/tphakala/signalgraph/internal/notify"
)

// Command creates the command that runs the engine until interrupted
func Command(v *viper.Viper, settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine",
		Long:  "Build the demo topology and drive it from the configured backend, with the meter monitor, MQTT notifier and status server when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := notify.InitSentry(settings, build.GetVersion()); err != nil {
				return err
			}
			defer notify.FlushSentry()

			e, err := engine.New(settings, build)
			if err != nil {
				return err
			}
			return e.Run(cmd.Context())
		},
	}

	setupFlags(cmd, v)
	return cmd
}

// setupFlags binds the run flags to their settings keys
func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("backend", "", "Cycle driver (dummy, malgo)")
	flags.String("device", "", "malgo audio API (alsa, pulse, jack, wasapi, coreaudio)")
	flags.Int("block-length", 0, "Frames per cycle, a power of two")
	flags.Int("sample-rate", 0, "Sample rate in Hz")
	flags.Int("workers", 0, "Processing threads, 0 sizes from the CPU")
	flags.Bool("telemetry", false, "Enable the status and metrics server")
	flags.String("listen", "", "Status server listen address")
	flags.String("record", "", "Capture the master bus to this WAV file")
	flags.Bool("trace", false, "Enable the execution tracer")

	for flag, key := range map[string]string{
		"backend":      "backend.type",
		"device":       "backend.device",
		"block-length": "engine.block_length",
		"sample-rate":  "engine.sample_rate",
		"workers":      "engine.workers",
		"telemetry":    "telemetry.enabled",
		"listen":       "telemetry.listen",
		"record":       "monitor.record_path",
		"trace":        "diagnostics.trace_enabled",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}
