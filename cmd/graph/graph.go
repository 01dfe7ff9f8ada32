package graph

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/signalgraph/internal/buildinfo"
	"github.com/tphakala/signalgraph/internal/conf"
	"github.com/tphakala/signalgraph/internal/engine"
	"github.com/tphakala/signalgraph/internal/logger"
	"github.com/tphakala/signalgraph/internal/router"
)

// Report is the YAML document the graph command prints
type Report struct {
	BlockLength int               `yaml:"block_length"`
	SampleRate  int               `yaml:"sample_rate"`
	Order       []string          `yaml:"order"`
	Graph       *router.GraphInfo `yaml:"graph"`
}

// Command creates the command that prints the demo topology
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the processing order and latencies of the demo topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.New(settings, build, engine.GraphOnly(),
				engine.WithLogger(logger.Global().Module("cli")))
			if err != nil {
				return err
			}
			defer e.Close()

			out, err := yaml.Marshal(NewReport(e.Router.Info(), settings))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	return cmd
}

// NewReport resolves the topological order to node names
func NewReport(info *router.GraphInfo, settings *conf.Settings) Report {
	r := Report{
		BlockLength: settings.Engine.BlockLength,
		SampleRate:  settings.Engine.SampleRate,
		Graph:       info,
	}
	names := make(map[int32]string, len(info.Nodes))
	for _, n := range info.Nodes {
		names[n.Index] = n.Name
	}
	for _, idx := range info.Order {
		r.Order = append(r.Order, names[idx])
	}
	return r
}
