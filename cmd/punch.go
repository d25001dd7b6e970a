package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/reconcile"
	"github.com/Tiliavir/offline-time-tracker/internal/recorder"
)

var punchCmd = &cobra.Command{
	Use:   "punch [project] [activity]",
	Short: "Punch in, or punch out if a session is running",
	Long: `Punch toggles the punch state. Without a running session it punches in
and needs a project and an activity; with one it punches out and ignores
both. The punch is stored locally first and then submitted right away when
the HR system is reachable, together with anything else still queued.`,
	Args:        cobra.MaximumNArgs(2),
	Annotations: map[string]string{autoSyncAnnotation: "after"},
	RunE:        withApp(runPunch),
}

func runPunch(cmd *cobra.Command, args []string, a *app) error {
	var project, activity string
	if len(args) > 0 {
		project = args[0]
	}
	if len(args) > 1 {
		activity = args[1]
	}

	ws, err := a.recorder().Punch(cmd.Context(), project, activity)
	if err != nil {
		return classify(err)
	}

	if ws.Open() {
		fmt.Fprintf(a.out, "Punched in on %s / %s at %s.\n",
			ws.ProjectRef, ws.ActivityRef, ws.Start.In(a.loc).Format("15:04"))
	} else {
		fmt.Fprintf(a.out, "Punched out of %s / %s. Elapsed: %s\n",
			ws.ProjectRef, ws.ActivityRef, formatElapsed(ws.Duration(time.Now())))
	}

	if !offline {
		syncPunch(cmd.Context(), a, ws.ID)
	}
	return nil
}

// syncPunch submits a fresh punch. Failures leave it queued and are only
// reported, the punch itself already succeeded.
func syncPunch(ctx context.Context, a *app, id string) {
	eng, err := a.engine(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Queued for later sync: %v\n", err)
		return
	}
	switch err := eng.SyncSession(ctx, id); {
	case err == nil:
		fmt.Fprintln(a.out, "Submitted.")
	case errors.Is(err, reconcile.ErrOffline):
		fmt.Fprintln(a.out, "Offline, queued for later sync.")
	case errors.Is(err, reconcile.ErrSweepInProgress):
		fmt.Fprintln(a.out, "A sync is running, queued for the next one.")
	default:
		fmt.Fprintf(os.Stderr, "Queued for later sync: %v\n", err)
	}
}

// classify marks recorder validation errors as user errors and everything
// else as storage errors.
func classify(err error) error {
	for _, target := range []error{
		recorder.ErrLocationRequired,
		recorder.ErrMissingReference,
		recorder.ErrUnknownProject,
		recorder.ErrUnknownActivity,
		recorder.ErrInvalidDateRange,
		recorder.ErrMissingLeaveType,
	} {
		if errors.Is(err, target) {
			return userError(err)
		}
	}
	var perr *time.ParseError
	if errors.As(err, &perr) {
		return userError(err)
	}
	return storageError(err)
}

func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// sessionState is the short status shown next to a queued session.
func sessionState(ws model.WorkSession) string {
	if ws.Status == model.StatusFailed {
		return "failed"
	}
	steps := 0
	for _, ok := range []bool{ws.CheckinConfirmed, ws.CheckoutConfirmed, ws.TimesheetConfirmed} {
		if ok {
			steps++
		}
	}
	if ws.Open() {
		if ws.CheckinConfirmed {
			return "running, checked in"
		}
		return "running"
	}
	return fmt.Sprintf("%d/3 submitted", steps)
}
