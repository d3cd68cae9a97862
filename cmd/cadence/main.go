// cmd/cadence/main.go
//
// Entry point for the cadence CLI. Each subcommand lives in its own file
// and registers itself with rootCmd from init().

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kingrea/cadence/internal/config"
	"github.com/kingrea/cadence/internal/logging"
	"github.com/kingrea/cadence/internal/routine"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Run timed routines step by step",
	Long: `cadence walks through a routine one timed step at a time, presents a
transition cue between steps and keeps a history of every run.

Routines live in .cadence/routines as YAML or JSON files.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "Project directory (default: current directory)")
}

func main() {
	// .env is optional; CADENCE_* variables may come from the shell instead.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// project is the configuration and logger shared by commands that touch
// the .cadence directory.
type project struct {
	cfg    *config.Config
	logger *logging.Logger
}

func resolveProjectDir() (string, error) {
	if projectDir != "" {
		return filepath.Abs(projectDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}

// openProject ensures .cadence exists, then loads its config and opens the
// project log.
func openProject() (*project, error) {
	dir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if err := config.InitCadenceDir(dir); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(dir)
	if err != nil {
		return nil, err
	}
	return &project{cfg: cfg, logger: logger}, nil
}

func (p *project) Close() error {
	return p.logger.Close()
}

func (p *project) routines() ([]routine.Routine, error) {
	return routine.LoadDir(p.cfg.RoutinesDir())
}

// findRoutine resolves ref as a path, id or file stem.
func (p *project) findRoutine(ref string) (routine.Routine, error) {
	return routine.Find(p.cfg.RoutinesDir(), ref)
}
