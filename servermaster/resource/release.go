package resource

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/model"
	derrors "github.com/tidalflow/tidalflow/pkg/errors"
	"github.com/tidalflow/tidalflow/pkg/promise"
)

// ReleaseResource releases a single slot. See ReleaseResources.
func (m *Manager) ReleaseResource(
	ctx context.Context, jobID model.JobID, slot *model.SlotProfile,
) *promise.Future[struct{}] {
	if !m.isRunning() {
		return promise.Failed[struct{}](m.stateError())
	}
	return m.releaseSlot(ctx, jobID, slot)
}

// ReleaseResources fans out a release instruction to the worker
// owning each slot and aggregates completion. The aggregate succeeds
// only if every release succeeds or is a no-op; the first failure is
// surfaced, but releases already in flight for sibling slots are
// never canceled.
func (m *Manager) ReleaseResources(
	ctx context.Context, jobID model.JobID, slots []*model.SlotProfile,
) *promise.Future[struct{}] {
	if !m.isRunning() {
		return promise.Failed[struct{}](m.stateError())
	}
	futs := make([]*promise.Future[struct{}], 0, len(slots))
	for _, slot := range slots {
		futs = append(futs, m.releaseSlot(ctx, jobID, slot))
	}
	return promise.Join(futs...)
}

// releaseSlot releases one slot. A worker that is no longer
// registered already freed the capacity by leaving, so the release
// degenerates to a no-op success.
func (m *Manager) releaseSlot(
	ctx context.Context, jobID model.JobID, slot *model.SlotProfile,
) *promise.Future[struct{}] {
	if _, ok := m.registry.Get(slot.Worker); !ok {
		log.L().Info("worker already left, slot considered reclaimed",
			zap.String("worker", string(slot.Worker)),
			zap.Int64("slot-id", int64(slot.ID)))
		return promise.Resolved(struct{}{})
	}

	opFut := m.operations.Send(ctx, slot.Worker, Operation{
		Kind:  OpReleaseSlot,
		JobID: jobID,
		Slot:  slot,
	})
	p, fut := promise.New[struct{}]()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := opFut.Wait(ctx); err != nil {
			// The slot record stays in the registry until a retried
			// release or a membership leave clears it.
			log.L().Warn("failed to release slot",
				zap.String("worker", string(slot.Worker)),
				zap.Int64("slot-id", int64(slot.ID)),
				zap.Error(err))
			p.Reject(derrors.ErrOperationSendFail.Wrap(err).GenWithStackByArgs(
				OpReleaseSlot.String(), slot.Worker))
			return
		}
		m.registry.RemoveSlots(slot.Worker, slot.ID)
		p.Resolve(struct{}{})
	}()
	return fut
}
