package model

import "time"

// Status is the sync disposition of a queued entity.
type Status string

const (
	// StatusLocal marks an entity with remote work still outstanding.
	StatusLocal Status = "LOCAL"
	// StatusSynced marks an entity whose remote operations all succeeded.
	StatusSynced Status = "SYNCED"
	// StatusFailed marks an entity whose last remote attempt was rejected.
	StatusFailed Status = "FAILED"
)

// Coords is a latitude/longitude pair captured at punch time.
type Coords struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// WorkSession is a single punch-in/punch-out period waiting to be recorded
// remotely as a check-in, a check-out and a timesheet.
type WorkSession struct {
	ID                 string     `json:"id" yaml:"id"`
	ProjectRef         string     `json:"projectId" yaml:"project"`
	ActivityRef        string     `json:"activityId" yaml:"activity"`
	Start              time.Time  `json:"start" yaml:"start"`
	End                *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	StartLocation      *Coords    `json:"startLocation,omitempty" yaml:"start_location,omitempty"`
	EndLocation        *Coords    `json:"endLocation,omitempty" yaml:"end_location,omitempty"`
	CheckinConfirmed   bool       `json:"checkinConfirmed" yaml:"checkin_confirmed"`
	CheckoutConfirmed  bool       `json:"checkoutConfirmed" yaml:"checkout_confirmed"`
	TimesheetConfirmed bool       `json:"timesheetConfirmed" yaml:"timesheet_confirmed"`
	Status             Status     `json:"status" yaml:"status"`
	LastError          string     `json:"lastError,omitempty" yaml:"last_error,omitempty"`
}

// Open reports whether the session is still running.
func (s WorkSession) Open() bool {
	return s.End == nil
}

// FullyConfirmed reports whether every remote step the session currently
// needs has succeeded.
func (s WorkSession) FullyConfirmed() bool {
	if !s.CheckinConfirmed {
		return false
	}
	return s.End == nil || (s.CheckoutConfirmed && s.TimesheetConfirmed)
}

// Removable reports whether the session may be deleted from the ledger.
// Only a closed session with all three confirmations qualifies.
func (s WorkSession) Removable() bool {
	return s.End != nil && s.CheckinConfirmed && s.CheckoutConfirmed && s.TimesheetConfirmed
}

// Duration returns the elapsed time of the session, measured to now for an
// open session.
func (s WorkSession) Duration(now time.Time) time.Duration {
	if s.End != nil {
		return s.End.Sub(s.Start)
	}
	return now.Sub(s.Start)
}

// LeaveRequest is a queued leave application. It is created remotely with a
// single call and has no partial states.
type LeaveRequest struct {
	ID        string `json:"id" yaml:"id"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	LeaveType string `json:"leaveType" yaml:"leave_type"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Status    Status `json:"status" yaml:"status"`
	LastError string `json:"lastError,omitempty" yaml:"last_error,omitempty"`
}
