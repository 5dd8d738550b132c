package resource

import (
	"context"

	"github.com/tidalflow/tidalflow/model"
)

// Deployment captures the deployment-specific behavior of the
// resource manager, selected at construction time: whether an apply
// call should wait for the first worker to register, and whether the
// surrounding infrastructure can bring up additional workers on
// demand.
type Deployment interface {
	Name() string

	// WaitWorkerRegister reports whether apply calls must block
	// until at least one worker has registered. Single-process
	// deployments need this because the only worker starts together
	// with the master.
	WaitWorkerRegister() bool

	// SupportDynamicWorker reports whether FindNewWorker is usable.
	SupportDynamicWorker() bool

	// FindNewWorker asks the surrounding infrastructure for workers
	// matching the unmet profiles. Success is observed indirectly
	// via subsequent heartbeats, never synchronously.
	FindNewWorker(ctx context.Context, unmet []model.ResourceProfile)
}

// StandaloneDeployment is a single-process deployment: the master and
// the only worker share the process, so apply calls wait for that
// worker's first heartbeat and there is no way to acquire more
// capacity.
type StandaloneDeployment struct{}

func (StandaloneDeployment) Name() string               { return "standalone" }
func (StandaloneDeployment) WaitWorkerRegister() bool   { return true }
func (StandaloneDeployment) SupportDynamicWorker() bool { return false }

func (StandaloneDeployment) FindNewWorker(context.Context, []model.ResourceProfile) {}

// ClusterDeployment is a static multi-node deployment: workers are
// expected to register before any job is submitted, and the worker
// set is fixed.
type ClusterDeployment struct{}

func (ClusterDeployment) Name() string               { return "cluster" }
func (ClusterDeployment) WaitWorkerRegister() bool   { return false }
func (ClusterDeployment) SupportDynamicWorker() bool { return false }

func (ClusterDeployment) FindNewWorker(context.Context, []model.ResourceProfile) {}

// WorkerFinder requests workers covering the given profiles from a
// third-party resource provider.
type WorkerFinder func(ctx context.Context, unmet []model.ResourceProfile)

// DynamicDeployment is a multi-node deployment backed by an elastic
// resource provider, injected as a WorkerFinder hook.
type DynamicDeployment struct {
	Finder WorkerFinder
}

func (DynamicDeployment) Name() string               { return "dynamic" }
func (DynamicDeployment) WaitWorkerRegister() bool   { return false }
func (DynamicDeployment) SupportDynamicWorker() bool { return true }

func (d DynamicDeployment) FindNewWorker(ctx context.Context, unmet []model.ResourceProfile) {
	d.Finder(ctx, unmet)
}
