// Package reconcile replays queued ledger entities against the HR backend.
//
// A work session needs three independent remote calls: check-in, check-out
// and timesheet. Each success is persisted before the next call is made, so
// an interrupted sweep resumes exactly where it stopped and never repeats a
// confirmed call.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tiliavir/offline-time-tracker/internal/connectivity"
	"github.com/Tiliavir/offline-time-tracker/internal/ledger"
	"github.com/Tiliavir/offline-time-tracker/internal/logging"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

var (
	// ErrSweepInProgress is returned when another sync holds the engine.
	ErrSweepInProgress = errors.New("a sync is already in progress")
	// ErrOffline is returned when the backend is not reachable.
	ErrOffline = errors.New("backend is not reachable")
)

// Gateway is the remote side of reconciliation.
type Gateway interface {
	FetchReferenceList(ctx context.Context, kind model.ReferenceKind) ([]model.Reference, error)
	ResolveCurrentEmployee(ctx context.Context) (string, error)
	SubmitCheckin(ctx context.Context, ev model.CheckinEvent) error
	SubmitTimesheet(ctx context.Context, req model.TimesheetRequest) (model.Timesheet, error)
	SubmitLeaveRequest(ctx context.Context, app model.LeaveApplication) error
}

// settingsSource is implemented by gateways that expose HR settings.
type settingsSource interface {
	FetchHRSettings(ctx context.Context) (model.Settings, error)
}

// SweepLock excludes sweeps running in other processes. TryLock must not
// block. *flock.Flock satisfies it.
type SweepLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// Notifier receives user-facing messages about entities that were dropped.
type Notifier interface {
	LeaveRequestFailed(lr model.LeaveRequest, message string)
}

// Result counts the outcome of one phase.
type Result struct {
	Attempted int
	Confirmed int
	Removed   int
	Failed    int
}

// SkipReason explains why SyncAll did nothing.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipOffline    SkipReason = "offline"
	SkipInProgress SkipReason = "sync already in progress"
)

// Summary describes one SyncAll pass.
type Summary struct {
	Skipped       SkipReason
	MasterData    error
	Settings      error
	Identity      error
	TimeEntries   Result
	TimeErr       error
	LeaveRequests Result
	LeaveErr      error
	Duration      time.Duration
}

// Err joins every phase error, nil when the pass was clean.
func (s Summary) Err() error {
	return errors.Join(s.MasterData, s.Identity, s.TimeErr, s.LeaveErr)
}

// Engine drives queued entities toward full remote confirmation. All entry
// points share one single-flight token: a call made while another holds it,
// in this process or, with WithSweepLock, in another one, returns
// immediately.
type Engine struct {
	ledger   *ledger.Ledger
	gateway  Gateway
	probe    connectivity.Probe
	notifier Notifier
	logger   *slog.Logger

	running atomic.Bool
	lock    SweepLock

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbe sets the connectivity check. Without one the engine assumes it
// is online.
func WithProbe(p connectivity.Probe) Option {
	return func(e *Engine) { e.probe = p }
}

// WithNotifier sets the receiver of dropped-entity messages.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSweepLock makes the single-flight token span processes: a sync is
// dropped while another process holds l.
func WithSweepLock(l SweepLock) Option {
	return func(e *Engine) { e.lock = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine reconciling l against gw.
func New(l *ledger.Ledger, gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		ledger:    l,
		gateway:   gw,
		probe:     connectivity.NewSwitch(true),
		logger:    logging.Discard(),
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnChanged registers fn to run after every completed sync pass. Listeners
// get no payload and should re-read the ledger.
func (e *Engine) OnChanged(fn func()) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) changed() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) acquire() bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	if e.lock == nil {
		return true
	}
	ok, err := e.lock.TryLock()
	if err != nil {
		e.logger.Warn("cannot take sweep lock", "error", err)
	}
	if !ok || err != nil {
		e.running.Store(false)
		return false
	}
	return true
}

func (e *Engine) release() {
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil {
			e.logger.Warn("cannot release sweep lock", "error", err)
		}
	}
	e.running.Store(false)
}

// guard runs fn holding the single-flight token, after checking reachability.
func (e *Engine) guard(ctx context.Context, fn func() error) error {
	if !e.acquire() {
		return ErrSweepInProgress
	}
	defer e.release()
	if !e.probe.Online(ctx) {
		return ErrOffline
	}
	return fn()
}

// SyncAll refreshes master data, then replays time entries, then leave
// requests. It never fails: problems are recorded in the Summary. A call
// made while another sync runs is dropped, not queued.
func (e *Engine) SyncAll(ctx context.Context) Summary {
	var sum Summary
	if !e.acquire() {
		e.logger.Debug("sync skipped", "reason", SkipInProgress)
		sum.Skipped = SkipInProgress
		return sum
	}
	defer e.release()

	if !e.probe.Online(ctx) {
		e.logger.Debug("sync skipped", "reason", SkipOffline)
		sum.Skipped = SkipOffline
		return sum
	}

	started := time.Now()
	e.logger.Info("sync started")

	sum.MasterData = e.syncMasterData(ctx)
	sum.Settings = e.syncSettings(ctx)

	employee, err := e.gateway.ResolveCurrentEmployee(ctx)
	if err != nil {
		e.logger.Error("cannot resolve employee, sync aborted", "error", err)
		sum.Identity = err
	} else {
		sum.TimeEntries, sum.TimeErr = e.syncTimeEntries(ctx, employee)
		sum.LeaveRequests, sum.LeaveErr = e.syncLeaveRequests(ctx, employee)
	}

	sum.Duration = time.Since(started)
	e.logger.Info("sync finished",
		"sessions_confirmed", sum.TimeEntries.Confirmed,
		"sessions_removed", sum.TimeEntries.Removed,
		"sessions_failed", sum.TimeEntries.Failed,
		"leave_removed", sum.LeaveRequests.Removed,
		"duration", sum.Duration,
	)
	e.changed()
	return sum
}

// SyncMasterData refreshes the cached reference lists.
func (e *Engine) SyncMasterData(ctx context.Context) error {
	return e.guard(ctx, func() error {
		if err := e.syncMasterData(ctx); err != nil {
			return err
		}
		e.changed()
		return nil
	})
}

// SyncTimeEntries replays every queued work session.
func (e *Engine) SyncTimeEntries(ctx context.Context) (Result, error) {
	var res Result
	err := e.guard(ctx, func() error {
		employee, err := e.gateway.ResolveCurrentEmployee(ctx)
		if err != nil {
			return err
		}
		res, err = e.syncTimeEntries(ctx, employee)
		e.changed()
		return err
	})
	return res, err
}

// SyncLeaveRequests submits every queued leave request.
func (e *Engine) SyncLeaveRequests(ctx context.Context) (Result, error) {
	var res Result
	err := e.guard(ctx, func() error {
		employee, err := e.gateway.ResolveCurrentEmployee(ctx)
		if err != nil {
			return err
		}
		res, err = e.syncLeaveRequests(ctx, employee)
		e.changed()
		return err
	})
	return res, err
}

// SyncSession replays a single session right after it was recorded. It
// shares the step logic of the sweep; if a sweep is running the session is
// left for the next one.
func (e *Engine) SyncSession(ctx context.Context, id string) error {
	return e.guard(ctx, func() error {
		employee, err := e.gateway.ResolveCurrentEmployee(ctx)
		if err != nil {
			return err
		}
		out, err := e.reconcileSession(ctx, employee, id)
		if err != nil {
			return err
		}
		e.changed()
		return out.stepErr
	})
}
