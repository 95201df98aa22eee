package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/orneryd/minicl/pkg/storage"
)

func (a *app) profileCommand() *cobra.Command {
	var dir, contextID string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Summarize stored dispatch profiles",
		Long: `Summarize the dispatch profiles stored by "minicl run --profile-dir" (or any
context opened with a profile store). With --context the individual records of
one context are listed in dispatch order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if dir == "" {
				dir = a.cfg.Profile.Dir
			}
			if dir == "" {
				return errors.New("no profile directory: set --dir or profile.dir")
			}

			store, err := storage.OpenProfileStore(dir)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, store.Close()) }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if contextID != "" {
				err = listRecords(w, store, contextID)
			} else {
				err = listSummaries(w, store)
			}
			return multierr.Append(err, w.Flush())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "profile store directory (overrides profile.dir)")
	cmd.Flags().StringVar(&contextID, "context", "", "list the records of one context")
	return cmd
}

func listSummaries(w *tabwriter.Writer, store *storage.ProfileStore) error {
	sums, err := store.Summaries()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "KERNEL\tDISPATCHES\tFAILURES\tWORK ITEMS\tMEAN\tMIN\tMAX")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			s.Kernel, s.Dispatches, s.Failures, humanize.Comma(int64(s.WorkItems)), s.Mean(), s.Min, s.Max)
	}
	return nil
}

func listRecords(w *tabwriter.Writer, store *storage.ProfileStore, contextID string) error {
	recs, err := store.List(contextID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.Errorf("no records for context %s", contextID)
	}
	fmt.Fprintln(w, "SEQ\tKERNEL\tDEVICE\tGLOBAL\tLOCAL\tSTARTED\tDURATION\tERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Seq, r.Kernel, r.Device, r.GlobalSize, r.LocalSize, humanize.Time(r.Start), r.Duration, r.Err)
	}
	return nil
}
