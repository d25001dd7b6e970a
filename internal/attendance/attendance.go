// Package attendance derives who is currently present from today's
// check-ins.
package attendance

import (
	"sort"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// Row is one employee's presence for the day.
type Row struct {
	Employee model.Employee
	Present  bool
	// Last is the most recent check-in of the day, nil if none.
	Last *model.Checkin
}

// Presence marks an employee present when their latest check-in is IN.
// Rows keep the order of employees.
func Presence(employees []model.Employee, checkins []model.Checkin) []Row {
	latest := make(map[string]model.Checkin, len(checkins))
	for _, c := range checkins {
		if prev, ok := latest[c.Employee]; !ok || c.Time.After(prev.Time) {
			latest[c.Employee] = c
		}
	}

	rows := make([]Row, 0, len(employees))
	for _, e := range employees {
		row := Row{Employee: e}
		if c, ok := latest[e.ID]; ok {
			c := c
			row.Last = &c
			row.Present = c.Direction == model.DirectionIn
		}
		rows = append(rows, row)
	}
	return rows
}

// SortPresentFirst orders present employees before absent ones, then by name.
func SortPresentFirst(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Present != rows[j].Present {
			return rows[i].Present
		}
		return rows[i].Employee.Name < rows[j].Employee.Name
	})
}
