package reconcile

import (
	"context"
	"fmt"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// sessionOutcome is what happened to one session in one pass.
type sessionOutcome struct {
	found     bool
	confirmed int
	removed   bool
	// stepErr is the remote failure that stopped the session, if any.
	stepErr error
}

// syncTimeEntries reconciles every session present when the sweep starts.
// A failing session does not stop the others; a storage error does.
func (e *Engine) syncTimeEntries(ctx context.Context, employee string) (Result, error) {
	var res Result

	snapshot, err := e.ledger.Sessions()
	if err != nil {
		return res, err
	}

	for _, ws := range snapshot {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := e.reconcileSession(ctx, employee, ws.ID)
		if err != nil {
			return res, err
		}
		if !out.found {
			continue
		}
		res.Attempted++
		res.Confirmed += out.confirmed
		if out.removed {
			res.Removed++
		}
		if out.stepErr != nil {
			res.Failed++
		}
	}
	return res, nil
}

// reconcileSession attempts the outstanding steps of session id in the
// fixed order check-in, check-out, timesheet. Each success is persisted
// before the next step. The first failure marks the session FAILED and ends
// processing for this pass. The returned error is a storage or context
// error; remote failures are reported through the outcome.
func (e *Engine) reconcileSession(ctx context.Context, employee, id string) (sessionOutcome, error) {
	var out sessionOutcome

	s, err := e.ledger.Load()
	if err != nil {
		return out, err
	}
	cur := s.Session(id)
	if cur == nil {
		return out, nil
	}
	ws := *cur
	out.found = true
	log := e.logger.With("session", ws.ID)

	fail := func(step string, stepErr error) (sessionOutcome, error) {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.Warn("session step failed", "step", step, "error", stepErr)
		if err := e.ledger.MarkSessionFailed(ws.ID, stepErr.Error()); err != nil {
			return out, err
		}
		out.stepErr = fmt.Errorf("%s for session %s: %w", step, ws.ID, stepErr)
		return out, nil
	}

	if !ws.CheckinConfirmed {
		err := e.gateway.SubmitCheckin(ctx, model.CheckinEvent{
			Employee:  employee,
			Time:      ws.Start,
			Direction: model.DirectionIn,
			Location:  ws.StartLocation,
		})
		if err != nil {
			return fail("check-in", err)
		}
		if err := e.ledger.MarkCheckinConfirmed(ws.ID); err != nil {
			return out, err
		}
		out.confirmed++
		log.Debug("check-in confirmed")
	}

	if ws.End == nil {
		return out, nil
	}

	if !ws.CheckoutConfirmed {
		err := e.gateway.SubmitCheckin(ctx, model.CheckinEvent{
			Employee:  employee,
			Time:      *ws.End,
			Direction: model.DirectionOut,
			Location:  ws.EndLocation,
		})
		if err != nil {
			return fail("check-out", err)
		}
		if err := e.ledger.MarkCheckoutConfirmed(ws.ID); err != nil {
			return out, err
		}
		out.confirmed++
		log.Debug("check-out confirmed")
	}

	if !ws.TimesheetConfirmed {
		ts, err := e.gateway.SubmitTimesheet(ctx, model.TimesheetRequest{
			Employee:    employee,
			ProjectRef:  ws.ProjectRef,
			ActivityRef: ws.ActivityRef,
			From:        ws.Start,
			To:          *ws.End,
		})
		if err != nil {
			return fail("timesheet", err)
		}
		if err := e.ledger.MarkTimesheetConfirmed(ws.ID); err != nil {
			return out, err
		}
		out.confirmed++
		log.Debug("timesheet confirmed", "timesheet", ts.ID, "hours", ts.Hours)
	}

	if err := e.ledger.MarkSessionSynced(ws.ID); err != nil {
		return out, err
	}
	if err := e.ledger.RemoveSession(ws.ID); err != nil {
		return out, err
	}
	out.removed = true
	log.Info("session synced and removed")
	return out, nil
}
