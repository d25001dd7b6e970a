package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued sessions and leave requests",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{autoSyncAnnotation: "before"},
	RunE:        withApp(runList),
}

func runList(cmd *cobra.Command, args []string, a *app) error {
	store, err := a.ledger.Load()
	if err != nil {
		return storageError(err)
	}
	printList(a.out, store, time.Now(), a.loc)
	return nil
}

// printList groups sessions by day and prints the leave queue after them.
func printList(w io.Writer, store model.Store, now time.Time, loc *time.Location) {
	if len(store.TimeEntries) == 0 && len(store.LeaveRequests) == 0 {
		fmt.Fprintln(w, "Nothing queued.")
		return
	}

	var currentDay string
	for _, ws := range store.TimeEntries {
		start := ws.Start.In(loc)
		day := start.Format(timecalc.DateLayout)
		if day != currentDay {
			fmt.Fprintln(w, titleStyle.Render(day))
			currentDay = day
		}

		endStr := "ongoing"
		if ws.End != nil {
			endStr = ws.End.In(loc).Format("15:04")
		}
		fmt.Fprintf(w, "%s–%s  %s  %s (%s)  %s\n",
			start.Format("15:04"), endStr,
			ws.ProjectRef, ws.ActivityRef,
			timecalc.FormatDuration(ws.Duration(now)),
			stateLabel(ws.Status, sessionState(ws)),
		)
		if ws.LastError != "" {
			fmt.Fprintf(w, "             %s\n", errStyle.Render(ws.LastError))
		}
	}

	if len(store.LeaveRequests) == 0 {
		return
	}
	if len(store.TimeEntries) > 0 {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, titleStyle.Render("Leave"))
	for _, lr := range store.LeaveRequests {
		fmt.Fprintf(w, "%s – %s  %s  %s\n", lr.From, lr.To, lr.LeaveType, stateLabel(lr.Status, "queued"))
		if lr.LastError != "" {
			fmt.Fprintf(w, "             %s\n", errStyle.Render(lr.LastError))
		}
	}
}

func stateLabel(status model.Status, text string) string {
	switch status {
	case model.StatusFailed:
		return errStyle.Render(text)
	case model.StatusSynced:
		return okStyle.Render(text)
	default:
		return dimStyle.Render(text)
	}
}
