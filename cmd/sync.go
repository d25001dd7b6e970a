package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh master data and submit everything queued",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSync),
}

func runSync(cmd *cobra.Command, args []string, a *app) error {
	if offline {
		return userError(errors.New("sync needs the HR system, drop --offline"))
	}
	eng, err := a.engine(cmd.Context())
	if err != nil {
		return userError(err)
	}

	var left queued
	unsubscribe := eng.OnChanged(func() { left = a.queued() })
	defer unsubscribe()

	sum := eng.SyncAll(cmd.Context())
	printSummary(a.out, sum)
	if sum.Skipped != reconcile.SkipNone {
		return nil
	}
	fmt.Fprintf(a.out, "Queue: %s.\n", left)
	if err := sum.Err(); err != nil {
		return userError(fmt.Errorf("sync incomplete: %w", err))
	}
	return nil
}

// printSummary writes a human-readable account of one sync pass.
func printSummary(w io.Writer, sum reconcile.Summary) {
	if sum.Skipped != reconcile.SkipNone {
		fmt.Fprintf(w, "Sync skipped: %s.\n", sum.Skipped)
		return
	}

	if sum.MasterData != nil {
		fmt.Fprintf(w, "Master data: %s %v\n", errStyle.Render("failed:"), sum.MasterData)
	} else {
		fmt.Fprintf(w, "Master data: %s\n", okStyle.Render("refreshed"))
	}
	if sum.Settings != nil {
		fmt.Fprintf(w, "HR settings: %s %v\n", warnStyle.Render("unchanged:"), sum.Settings)
	}
	if sum.Identity != nil {
		fmt.Fprintf(w, "Employee:    %s %v\n", errStyle.Render("unresolved:"), sum.Identity)
		fmt.Fprintln(w, "Nothing was submitted.")
		return
	}

	printResult(w, "Sessions:   ", sum.TimeEntries, sum.TimeErr)
	printResult(w, "Leave:      ", sum.LeaveRequests, sum.LeaveErr)
	fmt.Fprintf(w, "Done in %s.\n", sum.Duration.Round(time.Millisecond))
}

func printResult(w io.Writer, label string, res reconcile.Result, err error) {
	line := fmt.Sprintf("%s %d attempted, %d confirmed, %d removed", label, res.Attempted, res.Confirmed, res.Removed)
	if res.Failed > 0 {
		line += ", " + errStyle.Render(fmt.Sprintf("%d failed", res.Failed))
	}
	fmt.Fprintln(w, line)
	if err != nil {
		fmt.Fprintf(w, "             %s %v\n", errStyle.Render("aborted:"), err)
	}
}
