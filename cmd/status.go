package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running session and what is waiting to be synced",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{autoSyncAnnotation: "before"},
	RunE:        withApp(runStatus),
}

func runStatus(cmd *cobra.Command, args []string, a *app) error {
	store, err := a.ledger.Load()
	if err != nil {
		return storageError(err)
	}
	printStatus(a.out, store, time.Now(), a.loc)
	return nil
}

func printStatus(w io.Writer, store model.Store, now time.Time, loc *time.Location) {
	if open := store.OpenSession(); open != nil {
		fmt.Fprintln(w, titleStyle.Render("Punched in:"))
		fmt.Fprintf(w, "  Project:  %s\n", referenceLabel(store.Projects, open.ProjectRef))
		fmt.Fprintf(w, "  Activity: %s\n", referenceLabel(store.Activities, open.ActivityRef))
		fmt.Fprintf(w, "  Since:    %s\n", open.Start.In(loc).Format("15:04"))
		fmt.Fprintf(w, "  Elapsed:  %s\n", timecalc.FormatClock(open.Duration(now)))
	} else {
		fmt.Fprintln(w, "Not punched in.")
	}

	var pending, failed int
	for _, ws := range store.TimeEntries {
		if ws.Status == model.StatusFailed {
			failed++
		} else if !ws.Open() {
			pending++
		}
	}
	var leavePending, leaveFailed int
	for _, lr := range store.LeaveRequests {
		if lr.Status == model.StatusFailed {
			leaveFailed++
		} else {
			leavePending++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Queued sessions:       %d", pending)
	if failed > 0 {
		fmt.Fprint(w, errStyle.Render(fmt.Sprintf(" (%d failed)", failed)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Queued leave requests: %d", leavePending)
	if leaveFailed > 0 {
		fmt.Fprint(w, errStyle.Render(fmt.Sprintf(" (%d failed)", leaveFailed)))
	}
	fmt.Fprintln(w)
	if len(store.Projects) == 0 {
		fmt.Fprintln(w, warnStyle.Render("No master data cached yet (run: tta sync)."))
	}
}

// referenceLabel renders "Name (id)" when the id is cached, else the id.
func referenceLabel(refs []model.Reference, id string) string {
	if ref, ok := model.FindReference(refs, id); ok && ref.Name != "" && ref.Name != ref.ID {
		return fmt.Sprintf("%s %s", ref.Name, dimStyle.Render("("+ref.ID+")"))
	}
	return id
}
