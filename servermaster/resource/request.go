package resource

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/model"
	"github.com/tidalflow/tidalflow/pkg/autoid"
	"github.com/tidalflow/tidalflow/pkg/clock"
	derrors "github.com/tidalflow/tidalflow/pkg/errors"
)

// resourceRequestHandler matches one job's resource requests against
// the registry. Matching is all-or-nothing: either every requested
// profile is bound to a worker and committed, or nothing is.
type resourceRequestHandler struct {
	jobID    model.JobID
	traceID  string
	profiles []model.ResourceProfile

	registry   *Registry
	deployment Deployment
	slotIDs    *autoid.SlotIDAllocator
	clk        clock.Clock

	retryInterval time.Duration
	closeCh       <-chan struct{}
}

// run retries match attempts until one succeeds, the caller abandons
// the request through ctx, or the manager closes.
func (h *resourceRequestHandler) run(ctx context.Context) ([]*model.SlotProfile, error) {
	if len(h.profiles) == 0 {
		return []*model.SlotProfile{}, nil
	}
	for {
		select {
		case <-h.closeCh:
			return nil, derrors.ErrResourceManagerClosed.GenWithStackByArgs()
		case <-ctx.Done():
			return nil, h.abandonErr(ctx)
		default:
		}

		slots, unmet, stale := h.tryMatch()
		if slots != nil {
			log.L().Info("resource request matched",
				zap.String("trace-id", h.traceID),
				zap.Int64("job-id", int64(h.jobID)),
				zap.Int("slots", len(slots)))
			return slots, nil
		}
		if stale {
			// A worker entry changed between snapshot and commit.
			// Normal retry condition, not an error.
			log.L().Debug("worker entry changed during commit, retrying",
				zap.String("trace-id", h.traceID))
			continue
		}

		if h.deployment.SupportDynamicWorker() {
			log.L().Info("not enough capacity, requesting new workers",
				zap.String("trace-id", h.traceID),
				zap.Int("unmet", len(unmet)))
			h.deployment.FindNewWorker(ctx, unmet)
		}

		if err := h.waitRetry(ctx); err != nil {
			return nil, err
		}
	}
}

// waitRetry sleeps for the retry interval, watching both cancellation
// signals.
func (h *resourceRequestHandler) waitRetry(ctx context.Context) error {
	tm := h.clk.Timer(h.retryInterval)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return h.abandonErr(ctx)
	case <-h.closeCh:
		return derrors.ErrResourceManagerClosed.GenWithStackByArgs()
	case <-tm.C:
		return nil
	}
}

// abandonErr translates an abandoned request context into the error
// the caller should see. A static deployment has no way to acquire
// further capacity, so exhausting the caller's retry budget there is
// a capacity verdict, not a plain cancellation.
func (h *resourceRequestHandler) abandonErr(ctx context.Context) error {
	if !h.deployment.SupportDynamicWorker() {
		return derrors.ErrClusterResourceNotEnough.GenWithStackByArgs()
	}
	return errors.Trace(ctx.Err())
}

// tryMatch runs one snapshot-match-commit attempt. On success it
// returns the committed slot profiles, in request order. On capacity
// failure it returns the profiles that could not be placed. A true
// stale flag means a commit conflict; the attempt should simply be
// repeated.
func (h *resourceRequestHandler) tryMatch() (
	slots []*model.SlotProfile, unmet []model.ResourceProfile, stale bool,
) {
	views := h.registry.Snapshot()

	// Residual capacity per worker within this pass, so that two
	// profiles matched to the same worker do not double-book it.
	residuals := make([]model.ResourceProfile, len(views))
	for i := range views {
		residuals[i] = views[i].Profile.Residual()
	}

	result := make([]*model.SlotProfile, 0, len(h.profiles))
	groups := make(map[int][]*model.SlotProfile, len(views))
	for _, req := range h.profiles {
		matched := false
		// First fit: workers are scanned in address order, the
		// stable order established by Snapshot.
		for i := range views {
			if !residuals[i].EnoughFor(req) || !views[i].Profile.HasLabels(req.Labels) {
				continue
			}
			slot := &model.SlotProfile{
				ID:       h.slotIDs.AllocID(),
				JobID:    h.jobID,
				Worker:   views[i].Profile.Address,
				Resource: req,
			}
			residuals[i] = residuals[i].Subtract(req)
			groups[i] = append(groups[i], slot)
			result = append(result, slot)
			matched = true
			break
		}
		if !matched {
			unmet = append(unmet, req)
		}
	}
	if len(unmet) > 0 {
		return nil, unmet, false
	}
	if !h.commit(views, groups) {
		return nil, nil, true
	}
	return result, nil, false
}

// commit publishes the matched slots, one atomic swap per worker
// entry. If any entry changed since the snapshot, every swap already
// made is rolled back, so no partial assignment survives the attempt.
func (h *resourceRequestHandler) commit(views []View, groups map[int][]*model.SlotProfile) bool {
	committed := make([]int, 0, len(groups))
	conflicted := false
	for i := range views {
		group := groups[i]
		if len(group) == 0 {
			continue
		}
		profile := views[i].Profile
		profile.Assigned = append(profile.Assigned, group...)
		if !h.registry.Commit(profile.Address, views[i].Version, profile) {
			conflicted = true
			break
		}
		committed = append(committed, i)
	}
	if !conflicted {
		return true
	}
	for _, i := range committed {
		ids := make([]model.SlotID, 0, len(groups[i]))
		for _, slot := range groups[i] {
			ids = append(ids, slot.ID)
		}
		h.registry.RemoveSlots(views[i].Profile.Address, ids...)
	}
	return false
}
