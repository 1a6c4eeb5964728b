package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/dirsearch/internal/query"
)

type searchOptions struct {
	output string
}

func newSearchCommand(o *rootOptions) *cobra.Command {
	so := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <filter>",
		Short: "Search every directory once and print the results",
		Long: `Search every configured directory for one filter and print one table per
directory. Multi-valued attributes are shown one value per line.`,
		Example: `  # Search both directories
  dirsearch search dupont

  # Machine-readable output
  dirsearch search dupont --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, o, so, args[0])
		},
	}

	cmd.Flags().StringVarP(&so.output, "output", "o", FormatTable, "Output format: table, json, csv, markdown")
	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return formats, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runSearch(cmd *cobra.Command, o *rootOptions, so *searchOptions, filter string) (err error) {
	format, err := parseFormat(so.output)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := o.openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	snap, err := s.orchestrator.Await(ctx, s.orchestrator.Submit(filter))
	if err != nil {
		return err
	}

	switch snap.Status {
	case query.StatusIdle:
		return fmt.Errorf("filter %q is shorter than %d characters", filter, o.cfg.Display.MinFilterLength)
	case query.StatusFailed:
		return snap.Err
	}

	return renderAggregate(cmd.OutOrStdout(), snap.Aggregate, format, o.cfg.Display.SkipLastField)
}
