package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUICommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Start the interactive search screen (default)",
		Long: `Start the interactive search screen. Every keystroke searches both
directories for the filter typed so far; results of an older filter are
never shown over a newer one.

Keys: esc or ctrl+c quits, up/down and pgup/pgdown scroll the results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, o)
		},
	}
}

func runUI(cmd *cobra.Command, o *rootOptions) (err error) {
	if root, levels := logLevels(); loggingEnabled(root, levels) && term.IsTerminal(int(os.Stderr.Fd())) {
		return errors.New("logging to the terminal would corrupt the search screen, redirect stderr (e.g. 2>dirsearch.log)")
	}

	ctx := cmd.Context()
	s, err := o.openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	return o.runInteractive(ctx, s.orchestrator, displayOptions(o.cfg.Display))
}
