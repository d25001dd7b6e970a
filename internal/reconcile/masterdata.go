package reconcile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/offline-time-tracker/internal/model"
)

// syncMasterData fetches the three reference lists concurrently and replaces
// the cache only when all of them arrived.
func (e *Engine) syncMasterData(ctx context.Context) error {
	var projects, activities, leaveTypes []model.Reference

	g, gctx := errgroup.WithContext(ctx)
	fetch := func(kind model.ReferenceKind, dst *[]model.Reference) {
		g.Go(func() error {
			refs, err := e.gateway.FetchReferenceList(gctx, kind)
			if err != nil {
				return fmt.Errorf("fetching %s list: %w", kind, err)
			}
			*dst = refs
			return nil
		})
	}
	fetch(model.KindProject, &projects)
	fetch(model.KindActivity, &activities)
	fetch(model.KindLeaveType, &leaveTypes)

	if err := g.Wait(); err != nil {
		e.logger.Warn("master data refresh failed, keeping cached lists", "error", err)
		return err
	}

	if err := e.ledger.ReplaceMasterData(projects, activities, leaveTypes); err != nil {
		return err
	}
	e.logger.Info("master data refreshed",
		"projects", len(projects),
		"activities", len(activities),
		"leave_types", len(leaveTypes),
	)
	return nil
}

// syncSettings refreshes the cached HR settings when the gateway offers
// them. A failure keeps the previous value.
func (e *Engine) syncSettings(ctx context.Context) error {
	src, ok := e.gateway.(settingsSource)
	if !ok {
		return nil
	}
	settings, err := src.FetchHRSettings(ctx)
	if err != nil {
		e.logger.Warn("hr settings refresh failed", "error", err)
		return err
	}
	return e.ledger.SetSettings(settings)
}
