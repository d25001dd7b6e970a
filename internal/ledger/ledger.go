// Package ledger is the durable local queue of work sessions and leave
// requests, together with the cached master data lists.
//
// Every mutator is a read-modify-write of the whole store. Mutators that
// target an entity by id treat a missing id as a no-op, so repeating a call
// never fails and never changes the result of the first call.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// ErrSessionPending is returned when removing a session that still has
// unconfirmed remote work.
var ErrSessionPending = errors.New("session still has unconfirmed remote work")

// Backend persists the serialized store.
type Backend interface {
	// Read returns the stored bytes, or nil when nothing has been stored.
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// quarantiner is implemented by backends that can move a corrupt payload
// out of the way.
type quarantiner interface {
	Quarantine() (string, error)
}

// locker is implemented by backends shared between processes. The lock is
// held for each whole read-modify-write cycle.
type locker interface {
	Lock() (unlock func() error, err error)
}

// Ledger is the typed view over a Backend.
type Ledger struct {
	backend Backend
	logger  *slog.Logger
	mu      sync.Mutex
}

// New wraps backend. A nil logger discards log output.
func New(backend Backend, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{backend: backend, logger: logger}
}

// Open returns a ledger stored under dir using the named backend ("json" or
// "sqlite").
func Open(kind, dir string, logger *slog.Logger) (*Ledger, error) {
	switch kind {
	case "", "json":
		return New(NewFileBackend(filepath.Join(dir, "ledger.json")), logger), nil
	case "sqlite":
		b, err := OpenSQLite(filepath.Join(dir, "ledger.db"), "store")
		if err != nil {
			return nil, err
		}
		return New(b, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", kind)
	}
}

// Close releases the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// Load returns the current store. Missing or unparsable data yields an empty
// store; only I/O failures are returned as errors.
func (l *Ledger) Load() (model.Store, error) {
	var s model.Store
	err := l.locked(func() error {
		var err error
		s, err = l.load()
		return err
	})
	return s, err
}

// Save replaces the whole store.
func (l *Ledger) Save(s model.Store) error {
	return l.locked(func() error { return l.save(s) })
}

// Update applies fn to the current store and persists the result. Nothing
// is written when fn returns an error.
func (l *Ledger) Update(fn func(*model.Store) error) error {
	return l.locked(func() error {
		s, err := l.load()
		if err != nil {
			return err
		}
		if err := fn(&s); err != nil {
			return err
		}
		return l.save(s)
	})
}

// mutate is Update for id-targeted changes: fn reports whether it changed
// anything and the store is written only then.
func (l *Ledger) mutate(fn func(*model.Store) bool) error {
	return l.locked(func() error {
		s, err := l.load()
		if err != nil {
			return err
		}
		if !fn(&s) {
			return nil
		}
		return l.save(s)
	})
}

// locked runs fn while holding the in-process mutex and, for shared
// backends, the inter-process lock.
func (l *Ledger) locked(fn func() error) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lk, ok := l.backend.(locker); ok {
		unlock, lerr := lk.Lock()
		if lerr != nil {
			return lerr
		}
		defer func() {
			if uerr := unlock(); uerr != nil && err == nil {
				err = fmt.Errorf("storage error releasing lock: %w", uerr)
			}
		}()
	}
	return fn()
}

func (l *Ledger) load() (model.Store, error) {
	var s model.Store
	data, err := l.backend.Read()
	if err != nil {
		return s, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s); err != nil {
			l.logger.Warn("ledger unreadable, starting empty", "error", err)
			if q, ok := l.backend.(quarantiner); ok {
				if backup, qerr := q.Quarantine(); qerr != nil {
					l.logger.Warn("could not back up unreadable ledger", "error", qerr)
				} else {
					l.logger.Warn("unreadable ledger backed up", "backup", backup)
				}
			}
			s = model.Store{}
		}
	}
	s.Normalize()
	return s, nil
}

func (l *Ledger) save(s model.Store) error {
	s.Normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}
	return l.backend.Write(data)
}

// Sessions returns all queued work sessions in ledger order.
func (l *Ledger) Sessions() ([]model.WorkSession, error) {
	s, err := l.Load()
	if err != nil {
		return nil, err
	}
	return s.TimeEntries, nil
}

// OpenSession returns the running session, or nil.
func (l *Ledger) OpenSession() (*model.WorkSession, error) {
	s, err := l.Load()
	if err != nil {
		return nil, err
	}
	open := s.OpenSession()
	if open == nil {
		return nil, nil
	}
	cp := *open
	return &cp, nil
}

// LeaveRequests returns all queued leave requests.
func (l *Ledger) LeaveRequests() ([]model.LeaveRequest, error) {
	s, err := l.Load()
	if err != nil {
		return nil, err
	}
	return s.LeaveRequests, nil
}

// References returns the cached master data list of the given kind.
func (l *Ledger) References(kind model.ReferenceKind) ([]model.Reference, error) {
	s, err := l.Load()
	if err != nil {
		return nil, err
	}
	switch kind {
	case model.KindProject:
		return s.Projects, nil
	case model.KindActivity:
		return s.Activities, nil
	case model.KindLeaveType:
		return s.LeaveTypes, nil
	}
	return nil, fmt.Errorf("unknown reference kind %q", kind)
}

func (l *Ledger) Projects() ([]model.Reference, error) { return l.References(model.KindProject) }
func (l *Ledger) Activities() ([]model.Reference, error) { return l.References(model.KindActivity) }
func (l *Ledger) LeaveTypes() ([]model.Reference, error) { return l.References(model.KindLeaveType) }

// MarkCheckinConfirmed records that the check-in of session id succeeded.
func (l *Ledger) MarkCheckinConfirmed(id string) error {
	return l.mutate(func(s *model.Store) bool {
		ws := s.Session(id)
		if ws == nil {
			return false
		}
		return confirm(ws, &ws.CheckinConfirmed)
	})
}

// MarkCheckoutConfirmed records that the check-out of session id succeeded.
// Open sessions are left untouched.
func (l *Ledger) MarkCheckoutConfirmed(id string) error {
	return l.mutate(func(s *model.Store) bool {
		ws := s.Session(id)
		if ws == nil || ws.End == nil {
			return false
		}
		return confirm(ws, &ws.CheckoutConfirmed)
	})
}

// MarkTimesheetConfirmed records that the timesheet of session id was
// created. Open sessions are left untouched.
func (l *Ledger) MarkTimesheetConfirmed(id string) error {
	return l.mutate(func(s *model.Store) bool {
		ws := s.Session(id)
		if ws == nil || ws.End == nil {
			return false
		}
		return confirm(ws, &ws.TimesheetConfirmed)
	})
}

// confirm sets flag and clears a previous failure.
func confirm(ws *model.WorkSession, flag *bool) bool {
	if *flag && ws.Status != model.StatusFailed && ws.LastError == "" {
		return false
	}
	*flag = true
	if ws.Status == model.StatusFailed {
		ws.Status = model.StatusLocal
	}
	ws.LastError = ""
	return true
}

// MarkSessionFailed records a rejected remote step for session id.
func (l *Ledger) MarkSessionFailed(id, message string) error {
	return l.mutate(func(s *model.Store) bool {
		ws := s.Session(id)
		if ws == nil || (ws.Status == model.StatusFailed && ws.LastError == message) {
			return false
		}
		ws.Status = model.StatusFailed
		ws.LastError = message
		return true
	})
}

// MarkSessionSynced sets SYNCED on a fully confirmed, closed session.
func (l *Ledger) MarkSessionSynced(id string) error {
	return l.mutate(func(s *model.Store) bool {
		ws := s.Session(id)
		if ws == nil || !ws.Removable() || ws.Status == model.StatusSynced {
			return false
		}
		ws.Status = model.StatusSynced
		return true
	})
}

// RemoveSession deletes session id. Sessions that are open or still have
// unconfirmed steps are refused with ErrSessionPending.
func (l *Ledger) RemoveSession(id string) error {
	var pending bool
	err := l.mutate(func(s *model.Store) bool {
		for i, ws := range s.TimeEntries {
			if ws.ID != id {
				continue
			}
			if !ws.Removable() {
				pending = true
				return false
			}
			s.TimeEntries = append(s.TimeEntries[:i], s.TimeEntries[i+1:]...)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("remove session %s: %w", id, ErrSessionPending)
	}
	return nil
}

// AddLeaveRequest appends lr to the queue.
func (l *Ledger) AddLeaveRequest(lr model.LeaveRequest) error {
	return l.Update(func(s *model.Store) error {
		s.LeaveRequests = append(s.LeaveRequests, lr)
		return nil
	})
}

// MarkLeaveSynced sets SYNCED on leave request id.
func (l *Ledger) MarkLeaveSynced(id string) error {
	return l.mutate(func(s *model.Store) bool {
		lr := s.LeaveRequest(id)
		if lr == nil || lr.Status == model.StatusSynced {
			return false
		}
		lr.Status = model.StatusSynced
		lr.LastError = ""
		return true
	})
}

// MarkLeaveFailed records the rejection message for leave request id.
func (l *Ledger) MarkLeaveFailed(id, message string) error {
	return l.mutate(func(s *model.Store) bool {
		lr := s.LeaveRequest(id)
		if lr == nil || (lr.Status == model.StatusFailed && lr.LastError == message) {
			return false
		}
		lr.Status = model.StatusFailed
		lr.LastError = message
		return true
	})
}

// RemoveLeaveRequest deletes leave request id.
func (l *Ledger) RemoveLeaveRequest(id string) error {
	return l.mutate(func(s *model.Store) bool {
		for i, lr := range s.LeaveRequests {
			if lr.ID == id {
				s.LeaveRequests = append(s.LeaveRequests[:i], s.LeaveRequests[i+1:]...)
				return true
			}
		}
		return false
	})
}

// ReplaceMasterData overwrites all three reference lists in one write.
func (l *Ledger) ReplaceMasterData(projects, activities, leaveTypes []model.Reference) error {
	return l.Update(func(s *model.Store) error {
		s.Projects = projects
		s.Activities = activities
		s.LeaveTypes = leaveTypes
		return nil
	})
}

// SetSettings stores the cached HR settings.
func (l *Ledger) SetSettings(settings model.Settings) error {
	return l.mutate(func(s *model.Store) bool {
		if s.Settings == settings {
			return false
		}
		s.Settings = settings
		return true
	})
}
