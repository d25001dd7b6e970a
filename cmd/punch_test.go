package cmd

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/recorder"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{30, "30s"},
		{59, "59s"},
		{60, "1m 0s"},
		{90, "1m 30s"},
		{3600, "1h 0m 0s"},
		{3661, "1h 1m 1s"},
		{7322, "2h 2m 2s"},
	}
	for _, tt := range tests {
		got := formatElapsed(time.Duration(tt.seconds) * time.Second)
		if got != tt.want {
			t.Errorf("formatElapsed(%ds) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestClassifyExitCode(t *testing.T) {
	_, parseErr := timecalc.ParseDate("27.02.2026")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"location", recorder.ErrLocationRequired, 1},
		{"wrapped unknown project", fmt.Errorf("%w %q", recorder.ErrUnknownProject, "P9"), 1},
		{"date range", recorder.ErrInvalidDateRange, 1},
		{"bad date", parseErr, 1},
		{"storage", errors.New("writing ledger: disk full"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.want, exitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExitCodeDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("unknown command")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("closing: %w", storageError(errors.New("locked")))))
}

func TestSessionState(t *testing.T) {
	end := time.Date(2026, 2, 27, 17, 0, 0, 0, time.UTC)

	assert.Equal(t, "running", sessionState(model.WorkSession{}))
	assert.Equal(t, "running, checked in", sessionState(model.WorkSession{CheckinConfirmed: true}))
	assert.Equal(t, "2/3 submitted", sessionState(model.WorkSession{End: &end, CheckinConfirmed: true, CheckoutConfirmed: true}))
	assert.Equal(t, "failed", sessionState(model.WorkSession{End: &end, Status: model.StatusFailed}))
}
