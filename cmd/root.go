package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/signalgraph/cmd/config"
	"github.com/tphakala/signalgraph/cmd/graph"
	"github.com/tphakala/signalgraph/cmd/run"
	"github.com/tphakala/signalgraph/internal/buildinfo"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

// RootCommand creates the root command bound to the global viper instance
func RootCommand(build *buildinfo.Context) *cobra.Command {
	return NewRootCommand(viper.GetViper(), build)
}

// NewRootCommand creates the root command. Settings are loaded into one
// shared struct before any subcommand runs, so flags, environment and the
// config file are merged by v.
func NewRootCommand(v *viper.Viper, build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "signalgraph",
		Short:        "Real-time audio signal graph engine",
		Version:      build.GetVersion(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search ., user config dir, /etc/signalgraph)")
	rootCmd.PersistentFlags().String("log-level", "", "Default log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("logging.default_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		run.Command(v, settings, build),
		graph.Command(settings, build),
		config.Command(settings, &configFile),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(v, settings, configFile, rootCmd.PersistentFlags().Changed("log-level"))
	}

	return rootCmd
}

// initialize loads settings and sets up the global logger before any
// subcommand runs
func initialize(v *viper.Viper, settings *conf.Settings, configFile string, levelFlag bool) error {
	loaded, err := conf.LoadWith(v, configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	// --log-level applies to the console too
	if settings.Logging.Console != nil && levelFlag {
		settings.Logging.Console.Level = settings.Logging.DefaultLevel
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logging").
			Build()
	}
	logger.SetGlobal(cl)
	return nil
}
