package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/gpu"
)

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List compute devices of every available backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devs, err := gpu.Devices()
			if err != nil {
				if len(devs) == 0 {
					return err
				}
				klog.Warningf("minicl: some backends failed to enumerate: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tINDEX\tNAME\tVENDOR\tMEMORY\tMAX GROUP")
			for _, d := range devs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\n",
					d.Backend, d.Index, d.Name, d.Vendor, humanize.IBytes(d.MemoryBytes), d.MaxWorkGroupSize)
			}
			return w.Flush()
		},
	}
}
