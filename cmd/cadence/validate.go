package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/cadence/internal/config"
	"github.com/kingrea/cadence/internal/routine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check routine definitions",
	Long: `Parse and validate routine files. Without arguments every definition in
.cadence/routines is checked. Exits non-zero when any file is invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		cfg, err := config.NewConfig(dir)
		if err != nil {
			return err
		}
		paths, err = definitionFiles(cfg.RoutinesDir())
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No routines in %s\n", cfg.RoutinesDir())
			return nil
		}
	}

	out := cmd.OutOrStdout()
	invalid := 0
	seen := map[string]string{}
	for _, path := range paths {
		r, err := routine.LoadFile(path)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "Invalid: %s\n  - %v\n", path, err)
			continue
		}
		if other, dup := seen[r.ID]; dup {
			invalid++
			fmt.Fprintf(out, "Invalid: %s\n  - id %s already defined in %s\n", path, r.ID, other)
			continue
		}
		seen[r.ID] = path
		fmt.Fprintf(out, "OK: %s (%s, %d steps, %d min)\n", path, r.ID, len(r.Steps), r.PlannedMinutes())
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d routines invalid", invalid, len(paths))
	}
	return nil
}

func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}
