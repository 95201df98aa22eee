package commands

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/orneryd/minicl/pkg/minicl"
)

func (a *app) buildCommand() *cobra.Command {
	var options string

	cmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Compile a kernel source on the configured device and print the build log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "reading kernel source")
			}

			opts := []minicl.Option{minicl.WithConfig(a.cfg.ToGPU())}
			if cmd.Flags().Changed("options") {
				opts = append(opts, minicl.WithBuildOptions(options))
			}

			c, err := minicl.New(string(source), a.cfg.Device.Selector, opts...)
			if err != nil {
				var buildErr *minicl.BuildError
				if errors.As(err, &buildErr) {
					fmt.Fprint(cmd.ErrOrStderr(), buildErr.Log)
				}
				return err
			}
			defer c.Close()

			info := c.Device()
			fmt.Fprintf(cmd.OutOrStdout(), "built %s on %s device %q\n", args[0], info.Backend, info.Name)
			if log := c.BuildLog(); log != "" {
				fmt.Fprint(cmd.OutOrStdout(), log)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&options, "options", "", "compiler options (overrides build.options)")
	return cmd
}
