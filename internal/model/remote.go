package model

import "time"

// Direction is the log type of a check-in event.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// CheckinEvent is a single employee check-in or check-out submission.
type CheckinEvent struct {
	Employee  string
	Time      time.Time
	Direction Direction
	Location  *Coords
}

// TimesheetRequest asks the HR system to build a timesheet from a punch pair.
type TimesheetRequest struct {
	Employee    string
	ProjectRef  string
	ActivityRef string
	From        time.Time
	To          time.Time
}

// Timesheet is the HR system's answer to a TimesheetRequest.
type Timesheet struct {
	ID    string  `json:"name"`
	Hours float64 `json:"hours"`
}

// LeaveApplication is a leave request submission.
type LeaveApplication struct {
	Employee  string
	From      string
	To        string
	LeaveType string
	Reason    string
}

// Employee is a row of the remote employee directory.
type Employee struct {
	ID   string `json:"name"`
	Name string `json:"employee_name"`
}

// Checkin is a check-in record as stored remotely.
type Checkin struct {
	ID        string    `json:"name"`
	Employee  string    `json:"employee"`
	Time      time.Time `json:"-"`
	Direction Direction `json:"log_type"`
}
