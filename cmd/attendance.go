package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/offline-time-tracker/internal/attendance"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

var attendanceAll bool

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show who is checked in today",
	Long: `Attendance reads today's check-ins from the HR system and lists every
active employee, present ones first. It needs a connection; nothing is
cached.`,
	Args: cobra.NoArgs,
	RunE: withApp(runAttendance),
}

func init() {
	attendanceCmd.Flags().BoolVar(&attendanceAll, "all", false, "Include employees who are not present")
}

func runAttendance(cmd *cobra.Command, args []string, a *app) error {
	if offline {
		return userError(errors.New("attendance needs the HR system, drop --offline"))
	}
	client, err := a.client(cmd.Context())
	if err != nil {
		return userError(err)
	}

	var (
		employees []model.Employee
		checkins  []model.Checkin
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		employees, err = client.FetchEmployees(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		checkins, err = client.FetchTodayCheckins(ctx, time.Now())
		return err
	})
	if err := g.Wait(); err != nil {
		return userError(err)
	}

	rows := attendance.Presence(employees, checkins)
	attendance.SortPresentFirst(rows)
	printAttendance(a.out, rows, attendanceAll, a.loc)
	return nil
}

func printAttendance(w io.Writer, rows []attendance.Row, all bool, loc *time.Location) {
	present := 0
	for _, r := range rows {
		if r.Present {
			present++
		}
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d of %d present", present, len(rows))))

	for _, r := range rows {
		if !r.Present && !all {
			continue
		}
		name := r.Employee.Name
		if name == "" {
			name = r.Employee.ID
		}
		switch {
		case r.Present:
			fmt.Fprintf(w, "  %s  %s\n", okStyle.Render("●"), name)
			fmt.Fprintf(w, "     %s\n", dimStyle.Render("since "+r.Last.Time.In(loc).Format("15:04")))
		case r.Last != nil:
			fmt.Fprintf(w, "  %s  %s\n", dimStyle.Render("○"), name)
			fmt.Fprintf(w, "     %s\n", dimStyle.Render("left "+r.Last.Time.In(loc).Format("15:04")))
		default:
			fmt.Fprintf(w, "  %s  %s\n", dimStyle.Render("○"), name)
		}
	}
}
