package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

func newRunsCmd() *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:     "runs",
		Aliases: []string{"ls"},
		Short:   "List saved runs",
		Example: `  scout runs
  scout runs --phase Aborted
  scout runs -o json
  scout runs --server http://127.0.0.1:7118`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, closeFn, err := openSource()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := src.ListRuns(v1alpha1.RunPhase(phase))
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.Metadata.Name,
					run.Spec.Target,
					string(run.Spec.Mode),
					string(run.Status.Phase),
					fmt.Sprintf("%d/%d", run.Status.Iterations, run.Spec.MaxIterations),
					fmt.Sprintf("%d", len(run.Status.Invocations)),
					formatAge(run.Metadata.CreatedAt),
				})
			}
			return printOutput(cmd.OutOrStdout(), runs,
				[]string{"ID", "TARGET", "MODE", "PHASE", "ROUNDS", "TOOLS", "AGE"}, rows)
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "Only runs in this phase: Running|Completed|BudgetExhausted|Aborted")
	addServerFlag(cmd)

	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <run-id>",
		Aliases: []string{"describe"},
		Short:   "Show a saved run and its transcript",
		Example: `  scout show 20261018-101500-1a2b3c4d
  scout show 20261018-101500-1a2b3c4d -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, closeFn, err := openSource()
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := src.GetRun(args[0])
			if err != nil {
				return fmt.Errorf("getting run %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if outputFormat == "json" || outputFormat == "yaml" {
				return printOutput(out, run, nil, nil)
			}
			describeRun(out, run)
			return nil
		},
	}

	addServerFlag(cmd)

	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <run-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete saved runs",
		Long: `Delete saved run records. Against a server, deleting an active run
stops it instead; delete it again once it has finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, _, closeFn, err := openSource()
			if err != nil {
				return err
			}
			defer closeFn()

			for _, id := range args {
				if err := src.DeleteRun(id); err != nil {
					return fmt.Errorf("deleting run %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %q deleted\n", id)
			}
			return nil
		},
	}

	addServerFlag(cmd)

	return cmd
}

// describeRun prints a run's metadata, tool invocations and transcript.
func describeRun(w io.Writer, run *v1alpha1.Run) {
	bold := color.New(color.Bold)
	heading := color.New(color.FgCyan, color.Bold)

	fmt.Fprintf(w, "Run:        %s\n", run.Metadata.Name)
	fmt.Fprintf(w, "Target:     %s\n", run.Spec.Target)
	fmt.Fprintf(w, "Mode:       %s (%d rounds)\n", run.Spec.Mode, run.Spec.MaxIterations)
	if run.Spec.Profile != "" {
		fmt.Fprintf(w, "Profile:    %s\n", run.Spec.Profile)
	}
	if run.Spec.Model != "" {
		fmt.Fprintf(w, "Model:      %s\n", run.Spec.Model)
	}
	fmt.Fprintf(w, "Phase:      %s\n", run.Status.Phase)
	fmt.Fprintf(w, "Rounds:     %d\n", run.Status.Iterations)
	if !run.Status.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:    %s\n", run.Status.StartedAt.Format(time.RFC3339))
	}
	if !run.Status.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished:   %s (%s)\n", run.Status.FinishedAt.Format(time.RFC3339),
			run.Status.FinishedAt.Sub(run.Status.StartedAt).Round(time.Second))
	}
	if run.Status.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", run.Status.Error)
	}

	if len(run.Status.Invocations) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Tool invocations:")
		rows := make([][]string, 0, len(run.Status.Invocations))
		for _, inv := range run.Status.Invocations {
			command := strings.Join(inv.Argv, " ")
			if command == "" {
				command = "(rejected) " + inv.Arguments
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", inv.Iteration),
				inv.ToolName,
				string(inv.Status),
				fmt.Sprintf("%d", inv.ExitCode),
				inv.Duration.Round(time.Millisecond).String(),
				command,
			})
		}
		printTable(w, []string{"  ROUND", "TOOL", "STATUS", "EXIT", "DURATION", "COMMAND"}, indent(rows))
	}

	fmt.Fprintln(w)
	bold.Fprintln(w, "Transcript:")
	for _, turn := range run.Status.Turns {
		switch turn.Role {
		case v1alpha1.RoleTool:
			heading.Fprintf(w, "\n[tool %s %s]\n", turn.ToolName, turn.ToolCallID)
		default:
			heading.Fprintf(w, "\n[%s]\n", turn.Role)
		}
		for _, call := range turn.ToolCalls {
			fmt.Fprintf(w, "-> %s %s (%s)\n", call.Name, call.Arguments, call.ID)
		}
		if turn.Content != "" {
			fmt.Fprintln(w, turn.Content)
		}
	}
}

func indent(rows [][]string) [][]string {
	for _, row := range rows {
		if len(row) > 0 {
			row[0] = "  " + row[0]
		}
	}
	return rows
}
