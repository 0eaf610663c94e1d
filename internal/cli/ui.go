package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klubi/scout/internal/tui"
)

func newUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ui",
		Aliases: []string{"browse"},
		Short:   "Browse saved runs in a terminal UI",
		Long: `Launch a terminal UI listing saved runs. Enter shows the selected run's
transcript, d deletes it, / filters, 1-5 switch the phase view, r refreshes
and q quits.`,
		Example: `  scout ui
  scout ui --server http://127.0.0.1:7118`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, label, closeFn, err := openSource()
			if err != nil {
				return err
			}
			defer closeFn()

			app := tui.NewApp(src, label)
			if err := app.Run(); err != nil {
				return fmt.Errorf("UI error: %w", err)
			}
			return nil
		},
	}

	addServerFlag(cmd)

	return cmd
}
