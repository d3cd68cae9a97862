package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/session"
	"github.com/kingrea/cadence/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [routine]",
	Short: "Run a routine in the terminal UI",
	Long: `Open the terminal UI. With a routine argument (id, file stem or path)
the routine starts immediately; otherwise pick one from the list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	routines, err := proj.routines()
	if err != nil {
		return err
	}
	var appOpts []tui.AppOption
	if len(args) == 1 {
		r, err := proj.findRoutine(args[0])
		if err != nil {
			return err
		}
		if !containsRoutine(routines, r.ID) {
			routines = append(routines, r)
		}
		appOpts = append(appOpts, tui.WithInitialRoutine(r.ID))
	}
	if len(routines) == 0 {
		return fmt.Errorf("no routines in %s (try `cadence init`)", proj.cfg.RoutinesDir())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := tui.NewApp(routines, appOpts...)
	sess, err := session.Open(ctx, proj.cfg,
		session.WithLogger(proj.logger.Slog()),
		session.WithHooks(app.Hooks()),
		session.WithSink(app.Sink()),
	)
	if err != nil {
		return err
	}
	app.Attach(sess, sess.Logbook())
	if rec, ok := sess.Recovered(); ok {
		proj.logger.Printf("recovered interrupted run %s of %s", rec.ID, rec.RoutineID)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	bg, bgCtx := errgroup.WithContext(bgCtx)
	bg.Go(func() error {
		return sess.Run(bgCtx)
	})

	_, runErr := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}
	cancel()
	bgErr := bg.Wait()

	closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return errors.Join(runErr, bgErr, sess.Close(closeCtx))
}

func containsRoutine(routines []routine.Routine, id string) bool {
	for _, r := range routines {
		if r.ID == id {
			return true
		}
	}
	return false
}
