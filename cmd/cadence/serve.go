package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/cadence/internal/eventbridge"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/reminder"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/session"
)

var (
	serveHost      string
	servePort      int
	serveAutoStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [routine]",
	Short: "Run the engine headless behind the HTTP control bridge",
	Long: `Serve the engine over HTTP: GET /progress, GET /transition, POST /commands
and a server-sent event stream on /events. Scheduled routines publish a
routine_due event when their cron schedule fires.

With a routine argument that routine starts right away. With --auto-start a
due routine starts when nothing else is running.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().BoolVar(&serveAutoStart, "auto-start", false, "Start routines when their schedule fires")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	routines, err := proj.routines()
	if err != nil {
		return err
	}
	var initial *routine.Routine
	if len(args) == 1 {
		r, err := proj.findRoutine(args[0])
		if err != nil {
			return err
		}
		if !containsRoutine(routines, r.ID) {
			routines = append(routines, r)
		}
		initial = &r
	}

	settings := eventbridge.SettingsFromConfig(proj.cfg)
	settings.Enabled = true
	if serveHost != "" {
		settings.Host = serveHost
	}
	if servePort > 0 {
		settings.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := eventbridge.NewRouter(
		eventbridge.RouterWithLogger(proj.logger),
		eventbridge.RouterWithSubscriberCapacity(settings.Buffer),
	)
	defer router.Close()
	pub := eventbridge.NewPublisher(router, proj.logger)

	sess, err := session.Open(ctx, proj.cfg,
		session.WithLogger(proj.logger.Slog()),
		session.WithHooks(pub.Hooks()),
	)
	if err != nil {
		return err
	}

	server := eventbridge.NewServer(settings,
		eventbridge.WithController(sess),
		eventbridge.WithRouter(router),
		eventbridge.WithLogger(proj.logger),
	)

	bell := notify.Multi{notify.LogSink{Logger: proj.logger.Slog()}}
	if proj.cfg.Project.Notifications.BellEnabled() {
		bell = append(bell, notify.Bell{W: os.Stderr})
	}
	byID := make(map[string]routine.Routine, len(routines))
	for _, r := range routines {
		byID[r.ID] = r
	}
	reminders := reminder.New(func(due reminder.Due) {
		pub.RoutineDue(due)
		if err := notify.Deliver(bell, proj.cfg.Project.Notifications.Default()); err != nil {
			proj.logger.Printf("reminder tone for %s: %v", due.RoutineID, err)
		}
		if !serveAutoStart || sess.Snapshot().Running() {
			return
		}
		if err := sess.Start(byID[due.RoutineID]); err != nil {
			pub.Error(due.RoutineID, err)
		}
	}, reminder.WithLogger(proj.logger.Slog()))
	if err := reminders.Sync(routines); err != nil {
		proj.logger.Printf("reminders: %v", err)
	}

	if initial != nil {
		if err := sess.Start(*initial); err != nil {
			_ = sess.Close(context.Background())
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return reminders.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cadence bridge listening on %s\n", server.BaseURL())
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return errors.Join(runErr, sess.Close(closeCtx))
}
