package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/store"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [routine]",
	Short: "List past routine runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Maximum number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print runs as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	routineID := ""
	if len(args) == 1 {
		routineID = args[0]
	}
	st, err := store.Open(cmd.Context(), proj.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListExecutions(cmd.Context(), routineID, historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}
	return printHistory(out, runs)
}

func printHistory(out io.Writer, runs []execution.State) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tROUTINE\tSTATUS\tDONE\tSKIPPED\tMINUTES")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.RoutineID,
			run.Status,
			run.Count(execution.StepCompleted),
			run.Count(execution.StepSkipped),
			runMinutes(run),
		)
	}
	return tw.Flush()
}

func runMinutes(run execution.State) int {
	if run.TotalDurationMinutes > 0 || run.Finished() {
		return run.TotalDurationMinutes
	}
	return int((time.Duration(run.ElapsedSeconds) * time.Second).Minutes())
}
