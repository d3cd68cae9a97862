package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/cadence/internal/routine"
)

var nextWindow time.Duration

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show upcoming scheduled routines",
	Args:  cobra.NoArgs,
	RunE:  runNext,
}

func init() {
	nextCmd.Flags().DurationVarP(&nextWindow, "window", "w", 24*time.Hour, "How far ahead to look")
	rootCmd.AddCommand(nextCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	routines, err := proj.routines()
	if err != nil {
		return err
	}
	upcoming, err := routine.Upcoming(routines, time.Now(), nextWindow)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(upcoming) == 0 {
		fmt.Fprintf(out, "Nothing scheduled in the next %s.\n", nextWindow)
		return nil
	}
	for _, occ := range upcoming {
		fmt.Fprintf(out, "%s  %s (%s)\n", occ.At.Local().Format("Mon 15:04"), occ.Name, occ.RoutineID)
	}
	return nil
}
