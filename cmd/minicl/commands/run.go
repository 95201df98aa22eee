package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/orneryd/minicl/pkg/gpu/host"
	"github.com/orneryd/minicl/pkg/minicl"
	"github.com/orneryd/minicl/pkg/storage"
)

type runOptions struct {
	n          int
	x          int32
	local      int
	profileDir string
}

func (a *app) runCommand() *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the built-in simple_add kernel twice over 0..n-1 and verify the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("profile-dir") {
				o.profileDir = a.cfg.Profile.Dir
			}
			return a.run(cmd, o)
		},
	}
	cmd.Flags().IntVar(&o.n, "n", 1024, "number of work items")
	cmd.Flags().Int32Var(&o.x, "x", 1000, "value added to every element")
	cmd.Flags().IntVar(&o.local, "local", 16, "work-group size")
	cmd.Flags().StringVar(&o.profileDir, "profile-dir", "", "store dispatch profiles here (overrides profile.dir)")
	return cmd
}

func (a *app) run(cmd *cobra.Command, o runOptions) (err error) {
	opts := []minicl.Option{minicl.WithConfig(a.cfg.ToGPU())}
	if o.profileDir != "" {
		var store *storage.ProfileStore
		store, err = storage.OpenProfileStore(o.profileDir)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		opts = append(opts, minicl.WithProfileSink(store))
	}

	c, err := minicl.New(host.DefaultSource, a.cfg.Device.Selector, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.Close()) }()

	k, err := c.RegisterKernel("simple_add")
	if err != nil {
		return err
	}

	v := make([]int32, o.n)
	for i := range v {
		v[i] = int32(i)
	}
	id, err := minicl.Register(c, v)
	if err != nil {
		return err
	}
	if err := c.BindAllAndDispatch(k, o.n, o.local, id, minicl.Scalar(o.x)); err != nil {
		return err
	}
	// Bindings persist, so the second dispatch adds x again.
	if err := c.Dispatch(k, o.n, o.local); err != nil {
		return err
	}

	out, err := minicl.Map[int32](c, id)
	if err != nil {
		return err
	}
	for i, got := range out {
		if want := int32(i) + 2*o.x; got != want {
			return errors.Errorf("simple_add: v[%d] = %d, want %d", i, got, want)
		}
	}

	info, stats := c.Device(), c.Stats()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "device:   %s (%s)\n", info.Name, info.Backend)
	fmt.Fprintf(w, "context:  %s\n", c.ID())
	fmt.Fprintf(w, "result:   v[0]=%d v[%d]=%d\n", out[0], len(out)-1, out[len(out)-1])
	fmt.Fprintf(w, "buffers:  %d (%s)\n", stats.Buffers, humanize.IBytes(uint64(stats.Bytes)))
	fmt.Fprintf(w, "verified: %s work items\n", humanize.Comma(int64(o.n)))

	_, err = minicl.Unmap(c, out)
	return err
}
