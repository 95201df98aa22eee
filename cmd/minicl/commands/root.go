package commands

import (
	goflag "flag"
	"strconv"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/config"
	"github.com/orneryd/minicl/pkg/pool"
)

// app carries state shared by every subcommand of one root command.
type app struct {
	cfgFile   string
	cfg       *config.Config
	klogFlags *goflag.FlagSet
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the minicl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{klogFlags: goflag.NewFlagSet("klog", goflag.ContinueOnError)}
	klog.InitFlags(a.klogFlags)

	root := &cobra.Command{
		Use:   "minicl",
		Short: "A safety boundary around a compute-offload device",
		Long: `minicl compiles kernel sources for an OpenCL device (or the host backend),
validates buffers, arguments and work partitioning before anything reaches the
device, and records a profile of every dispatch.`,
		Version:           "0.1.0",
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./minicl.yaml or $HOME/.minicl/config.yaml)")
	root.PersistentFlags().AddGoFlagSet(a.klogFlags)

	root.AddCommand(
		a.devicesCommand(),
		a.buildCommand(),
		a.runCommand(),
		a.profileCommand(),
	)
	return root
}

// loadConfig reads configuration, configures the scratch pool and applies
// log.verbosity unless -v was given.
func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if f := cmd.Flags().Lookup("v"); f != nil && !f.Changed && cfg.Log.Verbosity > 0 {
		if err := a.klogFlags.Set("v", strconv.Itoa(cfg.Log.Verbosity)); err != nil {
			return err
		}
	}
	pool.Configure(cfg.ToPool())
	klog.V(2).Infof("minicl: backend=%s selector=%d fallback=%v scratch-pool=%v",
		cfg.Device.Backend, cfg.Device.Selector, cfg.Device.FallbackOnError, pool.IsEnabled())
	return nil
}
