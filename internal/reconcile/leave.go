package reconcile

import (
	"context"
	"errors"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// rejected reports whether the backend answered and refused the request, as
// opposed to the request failing on the way.
func rejected(err error) bool {
	var r interface{ Rejected() bool }
	return errors.As(err, &r) && r.Rejected()
}

// syncLeaveRequests submits each queued leave request once. Accepted
// requests are removed. Rejected ones are removed as well and reported to
// the notifier, since the user has to correct and resubmit them. Requests
// that never reached the backend stay queued.
func (e *Engine) syncLeaveRequests(ctx context.Context, employee string) (Result, error) {
	var res Result

	snapshot, err := e.ledger.LeaveRequests()
	if err != nil {
		return res, err
	}

	for _, lr := range snapshot {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := e.logger.With("leave", lr.ID)

		if lr.Status == model.StatusSynced {
			// Accepted earlier; only the removal was lost.
			if err := e.ledger.RemoveLeaveRequest(lr.ID); err != nil {
				return res, err
			}
			res.Removed++
			continue
		}

		res.Attempted++
		err := e.gateway.SubmitLeaveRequest(ctx, model.LeaveApplication{
			Employee:  employee,
			From:      lr.From,
			To:        lr.To,
			LeaveType: lr.LeaveType,
			Reason:    lr.Reason,
		})
		if err == nil {
			if err := e.ledger.MarkLeaveSynced(lr.ID); err != nil {
				return res, err
			}
			if err := e.ledger.RemoveLeaveRequest(lr.ID); err != nil {
				return res, err
			}
			res.Confirmed++
			res.Removed++
			log.Info("leave request submitted")
			continue
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Failed++
		msg := err.Error()
		if err := e.ledger.MarkLeaveFailed(lr.ID, msg); err != nil {
			return res, err
		}
		if !rejected(err) {
			log.Warn("leave request not delivered, keeping it queued", "error", err)
			continue
		}

		log.Warn("leave request rejected", "error", err)
		if err := e.ledger.RemoveLeaveRequest(lr.ID); err != nil {
			return res, err
		}
		res.Removed++
		if e.notifier != nil {
			lr.Status = model.StatusFailed
			lr.LastError = msg
			e.notifier.LeaveRequestFailed(lr, msg)
		}
	}
	return res, nil
}
