package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/signalgraph/internal/conf"
)

// Command creates the command that prints the effective settings
func Command(settings *conf.Settings, configFile *string) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the settings after merging defaults, the config file, environment and flags. With --save the result is written to a file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if save != "" {
				if err := conf.SaveYAMLConfig(save, settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration saved to %s\n", save)
				return nil
			}
			if *configFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", *configFile)
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "Write the effective configuration to this file")
	return cmd
}
