package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/cadence/internal/config"
)

var initSample bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .cadence directory",
	Long: `Create .cadence/ with its logs, state and routines directories and a
default config.yaml. Existing files are left alone.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initSample, "sample", true, "Write a sample morning routine")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}
	if err := config.InitCadenceDir(dir); err != nil {
		return err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized %s\n", cfg.CadenceProjectDir)
	if !initSample {
		return nil
	}
	path := filepath.Join(cfg.RoutinesDir(), "morning.yaml")
	written, err := writeIfMissing(path, []byte(sampleRoutine))
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(out, "Wrote sample routine %s\n", path)
	}
	return nil
}

func writeIfMissing(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sampleRoutine = `id: morning
name: Morning
description: Wake up, take meds, get moving.
schedule: "0 7 * * 1-5"
steps:
  - id: water
    title: Drink a glass of water
    duration_minutes: 2
    order: 1
    timer:
      auto_start: true
  - id: meds
    title: Take medication
    kind: medication
    duration_minutes: 3
    order: 2
    cue:
      kind: mixed
      text: Medication time
      required: true
  - id: stretch
    title: Stretch
    kind: flexible
    duration_minutes: 10
    order: 3
    cue:
      text: Time to stretch
      auto_dismiss_seconds: 10
    timer:
      warning_minutes: 2
  - id: journal
    title: Journal
    kind: note
    duration_minutes: 5
    order: 4
    cue:
      text: Write a few lines
`
