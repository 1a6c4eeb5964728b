package cli

import (
	"errors"
	"fmt"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newCheckCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that every configured directory answers",
		Long: `Connect and bind to every configured directory, resolve its base DN and
report the outcome. Exits non-zero when a directory fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, o)
		},
	}
}

func runCheck(cmd *cobra.Command, o *rootOptions) (err error) {
	ctx := cmd.Context()
	dirs, err := o.openDirs(ctx, o.cfg)
	if err != nil {
		return fmt.Errorf("opening directories: %w", err)
	}
	defer func() {
		err = errors.Join(err, dirs.Close())
	}()

	results := dirs.Check(ctx)
	stats := dirs.Stats()

	t := prettytable.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(prettytable.StyleLight)
	t.AppendHeader(prettytable.Row{"Directory", "Status", "Connections", "Errors"})

	failed := 0
	ids := o.cfg.TableDirectories()
	for _, d := range ids {
		status := "ok"
		if checkErr, ok := results[d.ID]; !ok {
			status = "not checked"
			failed++
		} else if checkErr != nil {
			status = checkErr.Error()
			failed++
		}
		st := stats[d.ID]
		t.AppendRow(prettytable.Row{d.ID, status, st.Created, st.Errors})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d directories failed", failed, len(ids))
	}
	return nil
}
