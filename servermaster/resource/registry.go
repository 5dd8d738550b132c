package resource

import (
	"sort"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/model"
	"github.com/tidalflow/tidalflow/pkg/clock"
)

// View is one worker's state as observed by a registry snapshot. The
// profile is a deep copy owned by the observer; Version is the CAS
// token for committing a mutation of this entry.
type View struct {
	Profile *model.WorkerProfile
	Version uint64
}

type workerEntry struct {
	mu      sync.Mutex
	version uint64
	// profile is replaced wholesale on every update, never mutated
	// in place.
	profile *model.WorkerProfile
	// lastHeartbeat survives profile swaps; it is reset only when
	// the entry itself is recreated.
	lastHeartbeat clock.MonotonicTime
}

// Registry is the single source of truth for cluster capacity: a
// concurrent mapping from worker address to worker profile. The
// table-level lock only guards the map structure; each entry carries
// its own lock, so commits against different workers proceed in
// parallel.
type Registry struct {
	mu      sync.RWMutex
	workers map[model.Address]*workerEntry
	seen    map[model.Address]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[model.Address]*workerEntry),
		seen:    make(map[model.Address]struct{}),
	}
}

// Upsert overwrites the entry for the profile's address. Last write
// wins.
func (r *Registry) Upsert(profile *model.WorkerProfile) {
	stored := profile.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.workers[profile.Address]
	if !ok {
		r.workers[profile.Address] = &workerEntry{version: 1, profile: stored}
		return
	}
	entry.mu.Lock()
	entry.version++
	entry.profile = stored
	entry.mu.Unlock()
}

// Remove deletes the entry for addr. It reports whether an entry
// existed.
func (r *Registry) Remove(addr model.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[addr]
	if ok {
		delete(r.workers, addr)
	}
	return ok
}

// Get returns a copy of the current entry for addr.
func (r *Registry) Get(addr model.Address) (View, bool) {
	r.mu.RLock()
	entry, ok := r.workers[addr]
	r.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return View{Profile: entry.profile.Clone(), Version: entry.version}, true
}

// Snapshot returns a copy of every entry, sorted by worker address.
// The address order is the stable iteration order used by first-fit
// matching. The snapshot is internally consistent per entry but may
// become stale immediately; staleness is re-checked by Commit.
func (r *Registry) Snapshot() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]View, 0, len(r.workers))
	for _, entry := range r.workers {
		entry.mu.Lock()
		views = append(views, View{Profile: entry.profile.Clone(), Version: entry.version})
		entry.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Profile.Address < views[j].Profile.Address
	})
	return views
}

// Commit atomically replaces the entry for addr with profile, but
// only if the entry still exists and has not changed since the
// snapshot that produced version. It reports whether the swap took
// place.
func (r *Registry) Commit(addr model.Address, version uint64, profile *model.WorkerProfile) bool {
	r.mu.RLock()
	entry, ok := r.workers[addr]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.version != version {
		return false
	}
	entry.version++
	entry.profile = profile.Clone()
	return true
}

// RemoveSlots deletes the given slot records from the entry for addr,
// retrying the per-entry CAS until it succeeds. A missing worker is
// treated as success: its departure already discarded the slots.
func (r *Registry) RemoveSlots(addr model.Address, slotIDs ...model.SlotID) {
	drop := make(map[model.SlotID]struct{}, len(slotIDs))
	for _, id := range slotIDs {
		drop[id] = struct{}{}
	}
	for {
		view, ok := r.Get(addr)
		if !ok {
			return
		}
		kept := view.Profile.Assigned[:0]
		for _, slot := range view.Profile.Assigned {
			if _, gone := drop[slot.ID]; !gone {
				kept = append(kept, slot)
			}
		}
		if len(kept) == len(view.Profile.Assigned) {
			return
		}
		view.Profile.Assigned = kept
		if r.Commit(addr, view.Version, view.Profile) {
			return
		}
		log.L().Debug("worker entry changed while reclaiming slots, retrying",
			zap.String("worker", string(addr)))
	}
}

// SlotActive reports whether any currently registered worker's
// assigned-slot set contains a slot with the given identifier.
func (r *Registry) SlotActive(id model.SlotID) bool {
	r.mu.RLock()
	entries := make([]*workerEntry, 0, len(r.workers))
	for _, entry := range r.workers {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()
	for _, entry := range entries {
		entry.mu.Lock()
		profile := entry.profile
		entry.mu.Unlock()
		for _, slot := range profile.Assigned {
			if slot.ID == id {
				return true
			}
		}
	}
	return false
}

// Touch records the time of addr's latest heartbeat. A missing
// worker is ignored.
func (r *Registry) Touch(addr model.Address, at clock.MonotonicTime) {
	r.mu.RLock()
	entry, ok := r.workers[addr]
	r.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.lastHeartbeat = at
	entry.mu.Unlock()
}

// LastHeartbeat returns the monotonic time of addr's latest
// heartbeat.
func (r *Registry) LastHeartbeat(addr model.Address) (clock.MonotonicTime, bool) {
	r.mu.RLock()
	entry, ok := r.workers[addr]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.lastHeartbeat, true
}

// MarkSeen records that addr has heartbeated since manager startup.
// It returns true exactly once per address per manager incarnation.
func (r *Registry) MarkSeen(addr model.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[addr]; ok {
		return false
	}
	r.seen[addr] = struct{}{}
	return true
}

// Addresses returns the addresses of all registered workers.
func (r *Registry) Addresses() []model.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]model.Address, 0, len(r.workers))
	for addr := range r.workers {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
