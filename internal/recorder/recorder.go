// Package recorder turns user intent into ledger mutations. It never talks
// to the network.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/offline-time-tracker/internal/ledger"
	"github.com/Tiliavir/offline-time-tracker/internal/location"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/timecalc"
)

var (
	ErrLocationRequired = errors.New("location is required for punching but none is available")
	ErrMissingReference = errors.New("project and activity are required to punch in")
	ErrUnknownProject   = errors.New("unknown project")
	ErrUnknownActivity  = errors.New("unknown activity")
	ErrInvalidDateRange = errors.New("leave start date must not be after end date")
	ErrMissingLeaveType = errors.New("leave type is required")
)

// Recorder owns the punch state machine: with no open session a punch opens
// one, otherwise it closes the open one.
type Recorder struct {
	ledger  *ledger.Ledger
	locator location.Provider
	now     func() time.Time

	// requireLocation overrides the cached HR setting when non-nil.
	requireLocation *bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLocator sets the position source used by Punch.
func WithLocator(p location.Provider) Option {
	return func(r *Recorder) { r.locator = p }
}

// WithRequireLocation forces the location requirement on or off.
func WithRequireLocation(required bool) Option {
	return func(r *Recorder) { r.requireLocation = &required }
}

// New returns a Recorder writing to l.
func New(l *ledger.Ledger, opts ...Option) *Recorder {
	r := &Recorder{ledger: l, locator: location.None{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Punch resolves the current position and toggles the punch state. When a
// location is required and none is available the ledger is left untouched.
func (r *Recorder) Punch(ctx context.Context, projectRef, activityRef string) (model.WorkSession, error) {
	required, err := r.locationRequired()
	if err != nil {
		return model.WorkSession{}, err
	}
	coords, err := r.locator.Current(ctx)
	if err != nil {
		if required {
			return model.WorkSession{}, fmt.Errorf("%w: %v", ErrLocationRequired, err)
		}
		coords = nil
	}
	if required && coords == nil {
		return model.WorkSession{}, ErrLocationRequired
	}
	return r.AddPunch(projectRef, activityRef, coords)
}

func (r *Recorder) locationRequired() (bool, error) {
	if r.requireLocation != nil {
		return *r.requireLocation, nil
	}
	s, err := r.ledger.Load()
	if err != nil {
		return false, err
	}
	return s.Settings.GeolocationRequired, nil
}

// AddPunch closes the open session if there is one and opens a new session
// otherwise. Project and activity are only used when opening.
func (r *Recorder) AddPunch(projectRef, activityRef string, coords *model.Coords) (model.WorkSession, error) {
	var result model.WorkSession
	err := r.ledger.Update(func(s *model.Store) error {
		now := r.now().UTC().Truncate(time.Second)

		if open := s.OpenSession(); open != nil {
			open.End = &now
			open.EndLocation = copyCoords(coords)
			result = *open
			return nil
		}

		projectRef = strings.TrimSpace(projectRef)
		activityRef = strings.TrimSpace(activityRef)
		if projectRef == "" || activityRef == "" {
			return ErrMissingReference
		}
		if len(s.Projects) > 0 {
			if _, ok := model.FindReference(s.Projects, projectRef); !ok {
				return fmt.Errorf("%w %q", ErrUnknownProject, projectRef)
			}
		}
		if len(s.Activities) > 0 {
			if _, ok := model.FindReference(s.Activities, activityRef); !ok {
				return fmt.Errorf("%w %q", ErrUnknownActivity, activityRef)
			}
		}

		ws := model.WorkSession{
			ID:            uuid.NewString(),
			ProjectRef:    projectRef,
			ActivityRef:   activityRef,
			Start:         now,
			StartLocation: copyCoords(coords),
			Status:        model.StatusLocal,
		}
		s.TimeEntries = append(s.TimeEntries, ws)
		result = ws
		return nil
	})
	return result, err
}

// AddLeaveRequest queues a leave application for the inclusive date range.
func (r *Recorder) AddLeaveRequest(from, to, leaveType, reason string) (model.LeaveRequest, error) {
	fromDate, err := timecalc.ParseDate(strings.TrimSpace(from))
	if err != nil {
		return model.LeaveRequest{}, err
	}
	toDate, err := timecalc.ParseDate(strings.TrimSpace(to))
	if err != nil {
		return model.LeaveRequest{}, err
	}
	if fromDate.After(toDate) {
		return model.LeaveRequest{}, ErrInvalidDateRange
	}
	leaveType = strings.TrimSpace(leaveType)
	if leaveType == "" {
		return model.LeaveRequest{}, ErrMissingLeaveType
	}

	lr := model.LeaveRequest{
		ID:        uuid.NewString(),
		From:      fromDate.Format(timecalc.DateLayout),
		To:        toDate.Format(timecalc.DateLayout),
		LeaveType: leaveType,
		Reason:    strings.TrimSpace(reason),
		Status:    model.StatusLocal,
	}
	if err := r.ledger.AddLeaveRequest(lr); err != nil {
		return model.LeaveRequest{}, err
	}
	return lr, nil
}

func copyCoords(c *model.Coords) *model.Coords {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
