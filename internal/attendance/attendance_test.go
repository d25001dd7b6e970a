package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/offline-time-tracker/internal/attendance"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

func TestPresence(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 2, 27, h, 0, 0, 0, time.UTC) }
	employees := []model.Employee{
		{ID: "E1", Name: "Zoe"},
		{ID: "E2", Name: "Adam"},
		{ID: "E3", Name: "Mia"},
	}
	checkins := []model.Checkin{
		{ID: "c3", Employee: "E1", Time: at(12), Direction: model.DirectionOut},
		{ID: "c1", Employee: "E1", Time: at(8), Direction: model.DirectionIn},
		{ID: "c4", Employee: "E1", Time: at(13), Direction: model.DirectionIn},
		{ID: "c2", Employee: "E2", Time: at(9), Direction: model.DirectionIn},
		{ID: "c5", Employee: "E2", Time: at(17), Direction: model.DirectionOut},
	}

	rows := attendance.Presence(employees, checkins)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Present)
	assert.Equal(t, "c4", rows[0].Last.ID)
	assert.False(t, rows[1].Present)
	assert.Equal(t, "c5", rows[1].Last.ID)
	assert.False(t, rows[2].Present)
	assert.Nil(t, rows[2].Last)

	attendance.SortPresentFirst(rows)
	assert.Equal(t, "Zoe", rows[0].Employee.Name)
	assert.Equal(t, "Adam", rows[1].Employee.Name)
	assert.Equal(t, "Mia", rows[2].Employee.Name)
}
