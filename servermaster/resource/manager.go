package resource

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/model"
	"github.com/tidalflow/tidalflow/pkg/autoid"
	"github.com/tidalflow/tidalflow/pkg/clock"
	derrors "github.com/tidalflow/tidalflow/pkg/errors"
	"github.com/tidalflow/tidalflow/pkg/membership"
	"github.com/tidalflow/tidalflow/pkg/notifier"
	"github.com/tidalflow/tidalflow/pkg/promise"
)

const (
	stateCreated int32 = iota
	stateRunning
	stateClosed
)

// Manager is the public entry point of the resource manager
// subsystem. It owns the worker registry and every in-flight resource
// request; membership changes and heartbeats mutate the registry only
// through this facade.
type Manager struct {
	cfg        Config
	registry   *Registry
	member     membership.Service
	operations OperationClient
	deployment Deployment
	clk        clock.Clock

	state   *atomic.Int32
	closeCh chan struct{}
	wg      sync.WaitGroup

	bgCtx    context.Context
	cancelBg context.CancelFunc

	events   *notifier.Notifier[membership.Event]
	traceIDs *autoid.UUIDAllocator

	slotIDMu sync.Mutex
	slotIDs  map[model.JobID]*autoid.SlotIDAllocator
}

// NewManager creates a Manager in the created state. registry may be
// non-empty when state from a previous manager incarnation is handed
// over; Init sweeps entries whose worker is no longer a member. A nil
// registry starts empty.
func NewManager(
	cfg Config,
	registry *Registry,
	member membership.Service,
	operations OperationClient,
	deployment Deployment,
	clk clock.Clock,
) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	bgCtx, cancelBg := context.WithCancel(context.Background())
	return &Manager{
		bgCtx:      bgCtx,
		cancelBg:   cancelBg,
		cfg:        cfg.Adjust(),
		registry:   registry,
		member:     member,
		operations: operations,
		deployment: deployment,
		clk:        clk,
		state:      atomic.NewInt32(stateCreated),
		closeCh:    make(chan struct{}),
		events:     notifier.NewNotifier[membership.Event](),
		traceIDs:   autoid.NewUUIDAllocator(),
		slotIDs:    make(map[model.JobID]*autoid.SlotIDAllocator),
	}
}

// Init transitions the manager to running. It sweeps registry entries
// left behind by a prior manager incarnation and starts consuming
// membership changes. It must be called before any resource request
// is served.
func (m *Manager) Init(ctx context.Context) error {
	if !m.state.CAS(stateCreated, stateRunning) {
		if m.state.Load() == stateClosed {
			return derrors.ErrResourceManagerClosed.GenWithStackByArgs()
		}
		return derrors.ErrInvalidArgument.GenWithStackByArgs("resource manager initialized twice")
	}
	if err := m.sweepStaleWorkers(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.watchMembership(m.bgCtx)

	log.L().Info("resource manager initialized",
		zap.String("deployment", m.deployment.Name()),
		zap.Int("workers", m.registry.Len()))
	return nil
}

// Close flips the running flag, unblocks every waiting call and stops
// accepting new requests. It never returns resources; pending
// requests fail with ErrResourceManagerClosed.
func (m *Manager) Close() error {
	if m.state.Swap(stateClosed) == stateClosed {
		return nil
	}
	close(m.closeCh)
	m.cancelBg()
	m.wg.Wait()
	m.events.Close()
	log.L().Info("resource manager closed")
	return nil
}

func (m *Manager) isRunning() bool {
	return m.state.Load() == stateRunning
}

// sweepStaleWorkers removes registry entries whose address is not a
// live member, clearing state left behind by a previous manager
// incarnation before any new request is served.
func (m *Manager) sweepStaleWorkers(ctx context.Context) error {
	if m.registry.Len() == 0 {
		return nil
	}
	members, err := m.member.Snapshot(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	alive := make(map[model.Address]struct{}, len(members))
	for _, member := range members {
		alive[model.Address(member.Addr)] = struct{}{}
	}
	for _, addr := range m.registry.Addresses() {
		if _, ok := alive[addr]; ok {
			continue
		}
		m.registry.Remove(addr)
		log.L().Info("swept stale worker left by previous manager instance",
			zap.String("worker", string(addr)))
	}
	return nil
}

// watchMembership consumes membership change sets until the manager
// closes, re-establishing the watch with exponential backoff after a
// failure.
func (m *Manager) watchMembership(ctx context.Context) {
	defer m.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		err := m.consumeWatch(ctx)
		if err == nil {
			// Watch ended because the manager is closing.
			return
		}
		log.L().Warn("membership watch interrupted, retrying", zap.Error(err))

		tm := m.clk.Timer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			tm.Stop()
			return
		case <-m.closeCh:
			tm.Stop()
			return
		case <-tm.C:
		}
	}
}

// consumeWatch drains one watch session. It returns nil when the
// manager is closing and the watch error otherwise.
func (m *Manager) consumeWatch(ctx context.Context) error {
	ch := m.member.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.closeCh:
			return nil
		case resp, ok := <-ch:
			if !ok {
				return derrors.ErrUnknown.GenWithStackByArgs()
			}
			if resp.Err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return resp.Err
			}
			for id, member := range resp.AddSet {
				log.L().Info("node joined the cluster",
					zap.String("member-id", id),
					zap.String("addr", member.Addr))
				m.events.Notify(membership.Event{
					Type:   membership.MemberJoined,
					ID:     id,
					Member: member,
				})
			}
			for id, member := range resp.DelSet {
				m.MemberRemoved(membership.Event{
					Type:   membership.MemberLeft,
					ID:     id,
					Member: member,
				})
			}
		}
	}
}

// MemberRemoved handles a cluster-level leave notification: the
// worker is pruned from the registry and its capacity, including any
// slots it held, is gone with it.
func (m *Manager) MemberRemoved(event membership.Event) {
	addr := model.Address(event.Member.Addr)
	fields := []zap.Field{
		zap.String("member-id", event.ID),
		zap.String("addr", event.Member.Addr),
	}
	if last, ok := m.registry.LastHeartbeat(addr); ok {
		fields = append(fields, zap.Duration("since-last-heartbeat", m.clk.Mono().Sub(last)))
	}
	log.L().Error("node heartbeat timeout, disconnected from resource manager", fields...)
	m.registry.Remove(addr)
	m.events.Notify(event)
}

// WatchEvents subscribes to the membership events observed by the
// manager.
func (m *Manager) WatchEvents() *notifier.Receiver[membership.Event] {
	return m.events.NewReceiver()
}

// Heartbeat records a periodic worker profile report. The first
// report from an address since manager startup triggers a one-time
// reset instruction to the worker, clearing slot state a previous
// manager session may have left there; only then is the reported
// profile recorded.
func (m *Manager) Heartbeat(profile *model.WorkerProfile) {
	if !m.isRunning() {
		log.L().Debug("dropping heartbeat, resource manager not running",
			zap.String("worker", string(profile.Address)))
		return
	}
	if m.registry.MarkSeen(profile.Address) {
		description, err := profile.ToJSON()
		if err != nil {
			description = string(profile.Address)
		}
		log.L().Info("received new worker register",
			zap.String("worker", description))
		// The reset is not awaited before recording the profile; a
		// worker that missed it re-syncs on its next heartbeat.
		fut := m.operations.Send(m.bgCtx, profile.Address, Operation{Kind: OpResetResources})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := fut.Wait(m.bgCtx); err != nil {
				log.L().Warn("failed to reset worker resources",
					zap.String("worker", string(profile.Address)),
					zap.Error(err))
			}
		}()
	} else {
		log.L().Debug("received worker heartbeat",
			zap.String("worker", string(profile.Address)))
	}
	m.registry.Upsert(profile)
	m.registry.Touch(profile.Address, m.clk.Mono())
}

// SlotActiveCheck reports whether the slot is still recorded on a
// registered worker. Upstream layers use it to detect silently lost
// slots after a worker crash.
func (m *Manager) SlotActiveCheck(slot *model.SlotProfile) bool {
	return m.registry.SlotActive(slot.ID)
}

// ApplyResource requests a single slot for jobID. It is shorthand for
// ApplyResources with a one-element profile list.
func (m *Manager) ApplyResource(
	ctx context.Context, jobID model.JobID, profile model.ResourceProfile,
) *promise.Future[*model.SlotProfile] {
	p, fut := promise.New[*model.SlotProfile]()
	batch := m.ApplyResources(ctx, jobID, []model.ResourceProfile{profile})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		slots, err := batch.Wait(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(slots[0])
	}()
	return fut
}

// ApplyResources requests one slot per profile for jobID. The request
// either yields exactly one slot assignment per profile or fails as a
// whole; callers bound the wait through ctx.
func (m *Manager) ApplyResources(
	ctx context.Context, jobID model.JobID, profiles []model.ResourceProfile,
) *promise.Future[[]*model.SlotProfile] {
	if !m.isRunning() {
		return promise.Failed[[]*model.SlotProfile](m.stateError())
	}
	p, fut := promise.New[[]*model.SlotProfile]()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if m.deployment.WaitWorkerRegister() {
			if err := m.waitWorkerRegister(ctx); err != nil {
				p.Reject(err)
				return
			}
		}
		handler := &resourceRequestHandler{
			jobID:         jobID,
			traceID:       m.traceIDs.AllocID(),
			profiles:      profiles,
			registry:      m.registry,
			deployment:    m.deployment,
			slotIDs:       m.slotIDsFor(jobID),
			clk:           m.clk,
			retryInterval: m.cfg.RequestRetryInterval,
			closeCh:       m.closeCh,
		}
		slots, err := handler.run(ctx)
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(slots)
	}()
	return fut
}

// waitWorkerRegister blocks the calling request until at least one
// worker has registered. The wait is a bounded poll that re-checks
// the running flag, so Close can unblock it.
func (m *Manager) waitWorkerRegister(ctx context.Context) error {
	for m.registry.Len() == 0 {
		if !m.isRunning() {
			return derrors.ErrResourceManagerClosed.GenWithStackByArgs()
		}
		log.L().Info("waiting current worker register to resource manager")
		tm := m.clk.Timer(m.cfg.WorkerCheckInterval)
		select {
		case <-ctx.Done():
			tm.Stop()
			return errors.Trace(ctx.Err())
		case <-m.closeCh:
			tm.Stop()
			return derrors.ErrResourceManagerClosed.GenWithStackByArgs()
		case <-tm.C:
		}
	}
	return nil
}

func (m *Manager) stateError() error {
	if m.state.Load() == stateClosed {
		return derrors.ErrResourceManagerClosed.GenWithStackByArgs()
	}
	return derrors.ErrResourceManagerNotReady.GenWithStackByArgs()
}

func (m *Manager) slotIDsFor(jobID model.JobID) *autoid.SlotIDAllocator {
	m.slotIDMu.Lock()
	defer m.slotIDMu.Unlock()
	alloc, ok := m.slotIDs[jobID]
	if !ok {
		alloc = autoid.NewSlotIDAllocator(jobID)
		m.slotIDs[jobID] = alloc
	}
	return alloc
}
