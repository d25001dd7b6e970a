package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/offline-time-tracker/internal/connectivity"
	"github.com/Tiliavir/offline-time-tracker/internal/frappe"
	"github.com/Tiliavir/offline-time-tracker/internal/ledger"
	"github.com/Tiliavir/offline-time-tracker/internal/model"
	"github.com/Tiliavir/offline-time-tracker/internal/reconcile"
	"github.com/Tiliavir/offline-time-tracker/internal/recorder"
)

// rejection is a refusal by the backend.
type rejection string

func (r rejection) Error() string { return string(r) }
func (r rejection) Rejected() bool { return true }

var errNetwork = errors.New("connection reset by peer")

type fakeGateway struct {
	mu sync.Mutex

	employee    string
	identityErr error
	refs        map[model.ReferenceKind][]model.Reference
	refErr      map[model.ReferenceKind]error
	settings    model.Settings

	checkinErr   func(model.CheckinEvent) error
	timesheetErr func(model.TimesheetRequest) error
	leaveErr     func(model.LeaveApplication) error

	checkins   []model.CheckinEvent
	timesheets []model.TimesheetRequest
	leaves     []model.LeaveApplication
	refCalls   int

	// entered/release block ResolveCurrentEmployee when set.
	entered chan struct{}
	release chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		employee: "HR-EMP-0001",
		refs: map[model.ReferenceKind][]model.Reference{
			model.KindProject:   {{ID: "P1", Name: "Project One"}},
			model.KindActivity:  {{ID: "A1", Name: "Development"}},
			model.KindLeaveType: {{ID: "Casual Leave", Name: "Casual Leave"}},
		},
		refErr: map[model.ReferenceKind]error{},
	}
}

func (g *fakeGateway) FetchReferenceList(_ context.Context, kind model.ReferenceKind) ([]model.Reference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refCalls++
	if err := g.refErr[kind]; err != nil {
		return nil, err
	}
	return g.refs[kind], nil
}

func (g *fakeGateway) ResolveCurrentEmployee(context.Context) (string, error) {
	if g.entered != nil {
		close(g.entered)
		<-g.release
	}
	return g.employee, g.identityErr
}

func (g *fakeGateway) FetchHRSettings(context.Context) (model.Settings, error) {
	return g.settings, nil
}

func (g *fakeGateway) SubmitCheckin(_ context.Context, ev model.CheckinEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkinErr != nil {
		if err := g.checkinErr(ev); err != nil {
			return err
		}
	}
	g.checkins = append(g.checkins, ev)
	return nil
}

func (g *fakeGateway) SubmitTimesheet(_ context.Context, req model.TimesheetRequest) (model.Timesheet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timesheetErr != nil {
		if err := g.timesheetErr(req); err != nil {
			return model.Timesheet{}, err
		}
	}
	g.timesheets = append(g.timesheets, req)
	return model.Timesheet{ID: "TS-1", Hours: req.To.Sub(req.From).Hours()}, nil
}

func (g *fakeGateway) SubmitLeaveRequest(_ context.Context, app model.LeaveApplication) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.leaveErr != nil {
		if err := g.leaveErr(app); err != nil {
			return err
		}
	}
	g.leaves = append(g.leaves, app)
	return nil
}

type notifications struct {
	mu       sync.Mutex
	messages []string
}

func (n *notifications) LeaveRequestFailed(_ model.LeaveRequest, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func at(h int) time.Time { return time.Date(2026, 2, 27, h, 0, 0, 0, time.UTC) }

func closed(id string, startH, endH int) model.WorkSession {
	end := at(endH)
	return model.WorkSession{ID: id, ProjectRef: "P1", ActivityRef: "A1", Start: at(startH), End: &end, Status: model.StatusLocal}
}

type fixture struct {
	ledger *ledger.Ledger
	gw     *fakeGateway
	probe  *connectivity.Switch
	notes  *notifications
	engine *reconcile.Engine
}

func newFixture(t *testing.T, sessions ...model.WorkSession) *fixture {
	t.Helper()
	l := ledger.New(ledger.NewFileBackend(filepath.Join(t.TempDir(), "ledger.json")), nil)
	require.NoError(t, l.Save(model.Store{TimeEntries: sessions}))

	f := &fixture{ledger: l, gw: newFakeGateway(), probe: connectivity.NewSwitch(true), notes: &notifications{}}
	f.engine = reconcile.New(l, f.gw, reconcile.WithProbe(f.probe), reconcile.WithNotifier(f.notes))
	return f
}

func (f *fixture) session(t *testing.T, id string) *model.WorkSession {
	t.Helper()
	s, err := f.ledger.Load()
	require.NoError(t, err)
	return s.Session(id)
}

func TestWorkdayScenario(t *testing.T) {
	f := newFixture(t)
	now := at(9)
	r := recorder.New(f.ledger, recorder.WithClock(func() time.Time { return now }))

	opened, err := r.AddPunch("P1", "A1", nil)
	require.NoError(t, err)
	assert.Nil(t, opened.End)
	assert.False(t, opened.CheckinConfirmed)

	now = at(17)
	closedWS, err := r.AddPunch("", "", nil)
	require.NoError(t, err)
	require.NotNil(t, closedWS.End)
	assert.Equal(t, at(17), *closedWS.End)

	sum := f.engine.SyncAll(context.Background())
	require.NoError(t, sum.Err())
	assert.Equal(t, reconcile.Result{Attempted: 1, Confirmed: 3, Removed: 1}, sum.TimeEntries)
	assert.Nil(t, f.session(t, opened.ID), "fully confirmed session is removed")

	require.Len(t, f.gw.checkins, 2)
	assert.Equal(t, model.CheckinEvent{Employee: "HR-EMP-0001", Time: at(9), Direction: model.DirectionIn}, f.gw.checkins[0])
	assert.Equal(t, model.CheckinEvent{Employee: "HR-EMP-0001", Time: at(17), Direction: model.DirectionOut}, f.gw.checkins[1])
	require.Len(t, f.gw.timesheets, 1)
	assert.Equal(t, model.TimesheetRequest{Employee: "HR-EMP-0001", ProjectRef: "P1", ActivityRef: "A1", From: at(9), To: at(17)}, f.gw.timesheets[0])
}

func TestPartialFailureRetriedNextSweep(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	f.gw.timesheetErr = func(model.TimesheetRequest) error { return rejection("Overlapping timesheet") }

	sum := f.engine.SyncAll(context.Background())
	assert.Equal(t, 1, sum.TimeEntries.Failed)

	ws := f.session(t, "s1")
	require.NotNil(t, ws)
	assert.True(t, ws.CheckinConfirmed)
	assert.True(t, ws.CheckoutConfirmed)
	assert.False(t, ws.TimesheetConfirmed)
	assert.Equal(t, model.StatusFailed, ws.Status)
	assert.Equal(t, "Overlapping timesheet", ws.LastError)

	f.gw.timesheetErr = nil
	sum = f.engine.SyncAll(context.Background())
	assert.Equal(t, reconcile.Result{Attempted: 1, Confirmed: 1, Removed: 1}, sum.TimeEntries)
	assert.Nil(t, f.session(t, "s1"))
	assert.Len(t, f.gw.checkins, 2, "confirmed check-in and check-out are not resubmitted")
	assert.Len(t, f.gw.timesheets, 1)
}

func TestResumesAfterCheckin(t *testing.T) {
	ws := closed("s1", 9, 17)
	ws.CheckinConfirmed = true
	f := newFixture(t, ws)

	sum := f.engine.SyncAll(context.Background())
	require.NoError(t, sum.Err())

	require.Len(t, f.gw.checkins, 1)
	assert.Equal(t, model.DirectionOut, f.gw.checkins[0].Direction)
	assert.Len(t, f.gw.timesheets, 1)
	assert.Nil(t, f.session(t, "s1"))
}

func TestStepFailureStopsLaterSteps(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	f.gw.checkinErr = func(ev model.CheckinEvent) error {
		if ev.Direction == model.DirectionIn {
			return errNetwork
		}
		return nil
	}

	sum := f.engine.SyncAll(context.Background())
	assert.Equal(t, 1, sum.TimeEntries.Failed)
	assert.Empty(t, f.gw.checkins)
	assert.Empty(t, f.gw.timesheets, "timesheet is not attempted before check-in succeeds")

	ws := f.session(t, "s1")
	require.NotNil(t, ws)
	assert.False(t, ws.CheckinConfirmed)
	assert.Equal(t, model.StatusFailed, ws.Status)
}

func TestOpenSessionIsNeverRemoved(t *testing.T) {
	open := closed("open", 9, 17)
	open.End = nil
	f := newFixture(t, open)

	for i := 0; i < 2; i++ {
		sum := f.engine.SyncAll(context.Background())
		require.NoError(t, sum.Err())
		assert.Equal(t, 0, sum.TimeEntries.Removed)
	}

	ws := f.session(t, "open")
	require.NotNil(t, ws)
	assert.True(t, ws.CheckinConfirmed)
	assert.False(t, ws.CheckoutConfirmed)
	assert.Equal(t, model.StatusLocal, ws.Status)
	assert.Len(t, f.gw.checkins, 1, "check-in is submitted once")
	assert.Empty(t, f.gw.timesheets)
}

func TestSweepIsolation(t *testing.T) {
	a := closed("a", 8, 12)
	a.CheckinConfirmed = true
	b := closed("b", 13, 17)
	f := newFixture(t, a, b)
	f.gw.checkinErr = func(ev model.CheckinEvent) error {
		if ev.Direction == model.DirectionOut && ev.Time.Equal(at(12)) {
			return errNetwork
		}
		return nil
	}

	sum := f.engine.SyncAll(context.Background())
	assert.NoError(t, sum.TimeErr)
	assert.Equal(t, reconcile.Result{Attempted: 2, Confirmed: 3, Removed: 1, Failed: 1}, sum.TimeEntries)

	wsA := f.session(t, "a")
	require.NotNil(t, wsA)
	assert.Equal(t, model.StatusFailed, wsA.Status)
	assert.Equal(t, errNetwork.Error(), wsA.LastError)
	assert.Nil(t, f.session(t, "b"))
}

func TestMasterDataIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	previous := []model.Reference{{ID: "OLD", Name: "Old"}}
	require.NoError(t, f.ledger.ReplaceMasterData(previous, previous, previous))

	f.gw.refErr[model.KindActivity] = errNetwork
	err := f.engine.SyncMasterData(context.Background())
	require.ErrorIs(t, err, errNetwork)

	s, err := f.ledger.Load()
	require.NoError(t, err)
	assert.Equal(t, previous, s.Projects)
	assert.Equal(t, previous, s.Activities)
	assert.Equal(t, previous, s.LeaveTypes)

	delete(f.gw.refErr, model.KindActivity)
	require.NoError(t, f.engine.SyncMasterData(context.Background()))
	s, err = f.ledger.Load()
	require.NoError(t, err)
	assert.Equal(t, f.gw.refs[model.KindProject], s.Projects)
	assert.Equal(t, f.gw.refs[model.KindActivity], s.Activities)
	assert.Equal(t, f.gw.refs[model.KindLeaveType], s.LeaveTypes)
}

func TestMasterDataFailureDoesNotStopSweep(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	f.gw.refErr[model.KindProject] = errNetwork

	sum := f.engine.SyncAll(context.Background())
	assert.Error(t, sum.MasterData)
	assert.Equal(t, 1, sum.TimeEntries.Removed)
}

func TestLeaveRequests(t *testing.T) {
	f := newFixture(t)
	r := recorder.New(f.ledger)

	ok, err := r.AddLeaveRequest("2026-03-02", "2026-03-03", "Casual Leave", "")
	require.NoError(t, err)
	bad, err := r.AddLeaveRequest("2026-03-10", "2026-03-12", "Casual Leave", "trip")
	require.NoError(t, err)
	lost, err := r.AddLeaveRequest("2026-04-01", "2026-04-01", "Casual Leave", "")
	require.NoError(t, err)

	f.gw.leaveErr = func(app model.LeaveApplication) error {
		switch app.From {
		case bad.From:
			return rejection("Employee has already applied for leave in this period")
		case lost.From:
			return errNetwork
		}
		return nil
	}

	res, err := f.engine.SyncLeaveRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Result{Attempted: 3, Confirmed: 1, Removed: 2, Failed: 2}, res)

	require.Len(t, f.gw.leaves, 1)
	assert.Equal(t, ok.From, f.gw.leaves[0].From)
	assert.Equal(t, "HR-EMP-0001", f.gw.leaves[0].Employee)
	assert.Equal(t, []string{"Employee has already applied for leave in this period"}, f.notes.messages)

	remaining, err := f.ledger.LeaveRequests()
	require.NoError(t, err)
	require.Len(t, remaining, 1, "undelivered request stays queued")
	assert.Equal(t, lost.ID, remaining[0].ID)
	assert.Equal(t, model.StatusFailed, remaining[0].Status)

	f.gw.leaveErr = nil
	res, err = f.engine.SyncLeaveRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	remaining, err = f.ledger.LeaveRequests()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestOfflineIsNoop(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	f.probe.Set(false)

	sum := f.engine.SyncAll(context.Background())
	assert.Equal(t, reconcile.SkipOffline, sum.Skipped)
	assert.NoError(t, sum.Err())

	_, err := f.engine.SyncTimeEntries(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrOffline)
	assert.ErrorIs(t, f.engine.SyncMasterData(context.Background()), reconcile.ErrOffline)

	assert.Zero(t, f.gw.refCalls)
	assert.Empty(t, f.gw.checkins)
	assert.NotNil(t, f.session(t, "s1"))
}

func TestIdentityFailureAbortsSweep(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	require.NoError(t, f.ledger.AddLeaveRequest(model.LeaveRequest{ID: "l1", From: "2026-03-02", To: "2026-03-02", LeaveType: "Casual Leave", Status: model.StatusLocal}))
	f.gw.identityErr = errors.New("no employee record is linked to the logged-in user")

	sum := f.engine.SyncAll(context.Background())
	assert.Error(t, sum.Identity)
	assert.Error(t, sum.Err())
	assert.Empty(t, f.gw.checkins)
	assert.Empty(t, f.gw.leaves)

	ws := f.session(t, "s1")
	require.NotNil(t, ws)
	assert.Equal(t, model.StatusLocal, ws.Status, "sessions are not marked failed for identity problems")
	lrs, err := f.ledger.LeaveRequests()
	require.NoError(t, err)
	assert.Len(t, lrs, 1)
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 17))
	f.gw.entered = make(chan struct{})
	f.gw.release = make(chan struct{})

	done := make(chan reconcile.Summary)
	go func() { done <- f.engine.SyncAll(context.Background()) }()
	<-f.gw.entered

	second := f.engine.SyncAll(context.Background())
	assert.Equal(t, reconcile.SkipInProgress, second.Skipped)
	assert.ErrorIs(t, f.engine.SyncSession(context.Background(), "s1"), reconcile.ErrSweepInProgress)

	close(f.gw.release)
	first := <-done
	assert.Equal(t, reconcile.SkipNone, first.Skipped)
	assert.Equal(t, 1, first.TimeEntries.Removed)
	assert.Len(t, f.gw.checkins, 2)
}

func TestSyncSessionInline(t *testing.T) {
	f := newFixture(t)
	now := at(9)
	r := recorder.New(f.ledger, recorder.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ws, err := r.AddPunch("P1", "A1", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.SyncSession(ctx, ws.ID))
	assert.True(t, f.session(t, ws.ID).CheckinConfirmed)

	now = at(17)
	_, err = r.AddPunch("", "", nil)
	require.NoError(t, err)

	f.gw.timesheetErr = func(model.TimesheetRequest) error { return rejection("Project is closed") }
	err = f.engine.SyncSession(ctx, ws.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "Project is closed")
	assert.Equal(t, model.StatusFailed, f.session(t, ws.ID).Status)

	f.gw.timesheetErr = nil
	sum := f.engine.SyncAll(ctx)
	require.NoError(t, sum.Err())
	assert.Nil(t, f.session(t, ws.ID))
	assert.Len(t, f.gw.checkins, 2)

	assert.NoError(t, f.engine.SyncSession(ctx, "gone"), "unknown ids are ignored")
}

func TestOnChanged(t *testing.T) {
	f := newFixture(t)
	calls := 0
	unsubscribe := f.engine.OnChanged(func() { calls++ })

	f.engine.SyncAll(context.Background())
	assert.Equal(t, 1, calls)

	f.probe.Set(false)
	f.engine.SyncAll(context.Background())
	assert.Equal(t, 1, calls, "skipped sweeps do not notify")

	f.probe.Set(true)
	unsubscribe()
	f.engine.SyncAll(context.Background())
	assert.Equal(t, 1, calls)
}

func TestSettingsRefreshed(t *testing.T) {
	f := newFixture(t)
	f.gw.settings = model.Settings{GeolocationRequired: true}

	f.engine.SyncAll(context.Background())

	s, err := f.ledger.Load()
	require.NoError(t, err)
	assert.True(t, s.Settings.GeolocationRequired)
}

func TestLeaveRequestKeptOnTransientRemoteError(t *testing.T) {
	tests := []struct {
		status  int
		removed bool
	}{
		{401, false},
		{403, false},
		{408, false},
		{425, false},
		{429, false},
		{503, false},
		{417, true},
		{409, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFixture(t)
			lr, err := recorder.New(f.ledger).AddLeaveRequest("2026-03-02", "2026-03-02", "Casual Leave", "")
			require.NoError(t, err)
			f.gw.leaveErr = func(model.LeaveApplication) error {
				return &frappe.RemoteError{Status: tt.status, Message: http.StatusText(tt.status)}
			}

			res, err := f.engine.SyncLeaveRequests(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Failed)

			remaining, err := f.ledger.LeaveRequests()
			require.NoError(t, err)
			if tt.removed {
				assert.Empty(t, remaining)
				assert.Len(t, f.notes.messages, 1)
				return
			}
			require.Len(t, remaining, 1, "the request never reached a decision and stays queued")
			assert.Equal(t, lr.ID, remaining[0].ID)
			assert.Equal(t, model.StatusFailed, remaining[0].Status)
			assert.Empty(t, f.notes.messages)
		})
	}
}

func TestSweepLockHeldByAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")
	other := flock.New(path)
	require.NoError(t, other.Lock())

	f := newFixture(t, closed("s1", 9, 17))
	f.engine = reconcile.New(f.ledger, f.gw, reconcile.WithProbe(f.probe), reconcile.WithSweepLock(flock.New(path)))

	sum := f.engine.SyncAll(context.Background())
	assert.Equal(t, reconcile.SkipInProgress, sum.Skipped)
	assert.ErrorIs(t, f.engine.SyncSession(context.Background(), "s1"), reconcile.ErrSweepInProgress)
	assert.Empty(t, f.gw.checkins)

	require.NoError(t, other.Unlock())
	sum = f.engine.SyncAll(context.Background())
	assert.Equal(t, reconcile.SkipNone, sum.Skipped)
	assert.Equal(t, 1, sum.TimeEntries.Removed)

	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked, "the engine releases the lock after the sweep")
	require.NoError(t, other.Unlock())
}

func TestCancelledSweepStopsBetweenSessions(t *testing.T) {
	f := newFixture(t, closed("s1", 9, 12), closed("s2", 13, 17))
	require.NoError(t, f.ledger.AddLeaveRequest(model.LeaveRequest{ID: "l1", From: "2026-03-02", To: "2026-03-02", LeaveType: "Casual Leave", Status: model.StatusLocal}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.checkinErr = func(ev model.CheckinEvent) error {
		if ev.Direction == model.DirectionOut {
			cancel()
			return context.Canceled
		}
		return nil
	}

	sum := f.engine.SyncAll(ctx)
	assert.ErrorIs(t, sum.TimeErr, context.Canceled)
	assert.Len(t, f.gw.checkins, 1, "nothing is submitted after the cancellation")
	assert.Empty(t, f.gw.leaves)

	s1 := f.session(t, "s1")
	require.NotNil(t, s1)
	assert.True(t, s1.CheckinConfirmed)
	assert.Equal(t, model.StatusLocal, s1.Status, "an interrupted step is not a failure")
	assert.Empty(t, s1.LastError)

	s2 := f.session(t, "s2")
	require.NotNil(t, s2)
	assert.False(t, s2.CheckinConfirmed)

	f.gw.checkinErr = nil
	sum = f.engine.SyncAll(context.Background())
	require.NoError(t, sum.Err())
	assert.Equal(t, 2, sum.TimeEntries.Removed, "the next sweep resumes both sessions")
}
