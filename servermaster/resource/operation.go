package resource

import (
	"context"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/model"
	"github.com/tidalflow/tidalflow/pkg/promise"
)

// OperationKind enumerates the instruction kinds the resource manager
// can fire at a worker.
type OperationKind int32

const (
	// OpResetResources tells a worker to drop all slot state left
	// over from a previous manager session.
	OpResetResources OperationKind = iota + 1
	// OpReleaseSlot tells a worker to release one slot.
	OpReleaseSlot
)

// String implements fmt.Stringer.
func (k OperationKind) String() string {
	switch k {
	case OpResetResources:
		return "reset-resources"
	case OpReleaseSlot:
		return "release-slot"
	default:
		return "unknown"
	}
}

// Operation is a single instruction addressed to one worker.
type Operation struct {
	Kind  OperationKind
	JobID model.JobID
	// Slot is set for OpReleaseSlot only.
	Slot *model.SlotProfile
}

// OperationClient fires instructions at a specific worker address and
// hands back an asynchronous completion. The underlying transport is
// provided by the deployment; the resource manager never touches
// networking directly.
type OperationClient interface {
	Send(ctx context.Context, addr model.Address, op Operation) *promise.Future[struct{}]
}

// MockOperationClient implements OperationClient for unit tests. It
// records every sent operation and can be scripted to fail sends to
// chosen addresses.
type MockOperationClient struct {
	mu       sync.Mutex
	sent     []SentOperation
	failures map[model.Address]error
}

// SentOperation is one recorded Send call.
type SentOperation struct {
	Addr model.Address
	Op   Operation
}

// NewMockOperationClient creates an empty MockOperationClient.
func NewMockOperationClient() *MockOperationClient {
	return &MockOperationClient{
		failures: make(map[model.Address]error),
	}
}

// Send implements OperationClient.Send
func (c *MockOperationClient) Send(
	_ context.Context, addr model.Address, op Operation,
) *promise.Future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentOperation{Addr: addr, Op: op})
	if err, ok := c.failures[addr]; ok {
		return promise.Failed[struct{}](err)
	}
	return promise.Resolved(struct{}{})
}

// FailAddress makes every subsequent Send to addr fail with err.
func (c *MockOperationClient) FailAddress(addr model.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[addr] = err
}

// ClearFailures removes every scripted failure.
func (c *MockOperationClient) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = make(map[model.Address]error)
}

// SentTo returns the operations sent to addr, in order.
func (c *MockOperationClient) SentTo(addr model.Address) []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []Operation
	for _, s := range c.sent {
		if s.Addr == addr {
			ops = append(ops, s.Op)
		}
	}
	return ops
}

// CountKind returns how many operations of the given kind were sent
// to addr.
func (c *MockOperationClient) CountKind(addr model.Address, kind OperationKind) int {
	count := 0
	for _, op := range c.SentTo(addr) {
		if op.Kind == kind {
			count++
		}
	}
	return count
}

// LoopbackOperationClient implements OperationClient for single
// process deployments, where the "remote" worker lives in the same
// process and instructions need no transport. Operations are handed
// to an optional local handler and acknowledged immediately.
type LoopbackOperationClient struct {
	handler func(addr model.Address, op Operation)
}

// NewLoopbackOperationClient creates a LoopbackOperationClient.
// handler may be nil, in which case operations are only logged.
func NewLoopbackOperationClient(handler func(addr model.Address, op Operation)) *LoopbackOperationClient {
	return &LoopbackOperationClient{handler: handler}
}

// Send implements OperationClient.Send
func (c *LoopbackOperationClient) Send(
	_ context.Context, addr model.Address, op Operation,
) *promise.Future[struct{}] {
	log.L().Debug("delivering operation in process",
		zap.Stringer("kind", op.Kind),
		zap.String("worker", string(addr)))
	if c.handler != nil {
		c.handler(addr, op)
	}
	return promise.Resolved(struct{}{})
}
