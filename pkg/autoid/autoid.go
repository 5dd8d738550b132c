package autoid

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tidalflow/tidalflow/model"
)

// SlotIDAllocator hands out slot IDs for one job. The job ID occupies
// the high 32 bits, so IDs from different jobs never collide and IDs
// within a job are strictly increasing.
type SlotIDAllocator struct {
	sync.Mutex
	internalID int64
	jobID      int64
}

// NewSlotIDAllocator creates an allocator scoped to jobID.
func NewSlotIDAllocator(jobID model.JobID) *SlotIDAllocator {
	return &SlotIDAllocator{
		jobID: int64(jobID) << 32,
	}
}

// AllocID returns the next slot ID.
func (a *SlotIDAllocator) AllocID() model.SlotID {
	a.Lock()
	defer a.Unlock()
	a.internalID++
	return model.SlotID(a.internalID + a.jobID)
}

// UUIDAllocator allocates opaque string IDs, used to tag requests in
// logs.
type UUIDAllocator struct{}

func NewUUIDAllocator() *UUIDAllocator {
	return new(UUIDAllocator)
}

func (a *UUIDAllocator) AllocID() string {
	return uuid.New().String()
}
