package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export queued sessions to stdout",
	Args:  cobra.NoArgs,
	RunE:  withApp(runExport),
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json, yaml")
}

func runExport(cmd *cobra.Command, args []string, a *app) error {
	sessions, err := a.ledger.Sessions()
	if err != nil {
		return storageError(err)
	}
	if err := writeExport(a.out, exportFormat, sessions, a.loc); err != nil {
		return userError(err)
	}
	return nil
}

// exportRow is the flat form of a session used by every export format.
type exportRow struct {
	Date            string       `json:"date" yaml:"date"`
	Project         string       `json:"project" yaml:"project"`
	Activity        string       `json:"activity" yaml:"activity"`
	Start           string       `json:"start" yaml:"start"`
	End             string       `json:"end,omitempty" yaml:"end,omitempty"`
	DurationMinutes *int64       `json:"durationMinutes,omitempty" yaml:"duration_minutes,omitempty"`
	Checkin         bool         `json:"checkin" yaml:"checkin"`
	Checkout        bool         `json:"checkout" yaml:"checkout"`
	Timesheet       bool         `json:"timesheet" yaml:"timesheet"`
	Status          model.Status `json:"status" yaml:"status"`
	LastError       string       `json:"lastError,omitempty" yaml:"last_error,omitempty"`
}

func exportRows(sessions []model.WorkSession, loc *time.Location) []exportRow {
	rows := make([]exportRow, 0, len(sessions))
	for _, ws := range sessions {
		start := ws.Start.In(loc)
		row := exportRow{
			Date:      start.Format(timecalc.DateLayout),
			Project:   ws.ProjectRef,
			Activity:  ws.ActivityRef,
			Start:     start.Format(time.RFC3339),
			Checkin:   ws.CheckinConfirmed,
			Checkout:  ws.CheckoutConfirmed,
			Timesheet: ws.TimesheetConfirmed,
			Status:    ws.Status,
			LastError: ws.LastError,
		}
		if ws.End != nil {
			row.End = ws.End.In(loc).Format(time.RFC3339)
			minutes := int64(ws.End.Sub(ws.Start) / time.Minute)
			row.DurationMinutes = &minutes
		}
		rows = append(rows, row)
	}
	return rows
}

// writeExport renders sessions in the given format. Times are shown in loc.
func writeExport(w io.Writer, format string, sessions []model.WorkSession, loc *time.Location) error {
	rows := exportRows(sessions, loc)

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "csv", "":
		return writeCSV(w, rows)
	default:
		return fmt.Errorf("unknown export format %q (want csv, json or yaml)", format)
	}
}

func writeCSV(w io.Writer, rows []exportRow) error {
	if _, err := fmt.Fprintln(w, "date,project,activity,start,end,duration_minutes,checkin,checkout,timesheet,status,last_error"); err != nil {
		return err
	}
	for _, r := range rows {
		duration := ""
		if r.DurationMinutes != nil {
			duration = fmt.Sprint(*r.DurationMinutes)
		}
		_, err := fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%t,%t,%t,%s,%s\n",
			csvEscape(r.Date),
			csvEscape(r.Project),
			csvEscape(r.Activity),
			csvEscape(r.Start),
			csvEscape(r.End),
			duration,
			r.Checkin,
			r.Checkout,
			r.Timesheet,
			r.Status,
			csvEscape(r.LastError),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
