package model

import (
	"encoding/json"

	"github.com/pingcap/errors"
)

// RescUnit is the min unit of resource that we count.
type RescUnit int

// ResourceProfile describes a requested capacity shape for one slot,
// not yet bound to any worker. It is an immutable value supplied by
// the caller.
//
// Labels, when non-empty, restrict the request to workers carrying all
// of the given attributes.
type ResourceProfile struct {
	CPU    RescUnit          `json:"cpu"`
	Memory RescUnit          `json:"memory"`
	Labels map[string]string `json:"labels,omitempty"`
}

// EnoughFor reports whether p can cover the capacity requested by req.
func (p ResourceProfile) EnoughFor(req ResourceProfile) bool {
	return p.CPU >= req.CPU && p.Memory >= req.Memory
}

// Subtract returns p minus the capacity of other.
func (p ResourceProfile) Subtract(other ResourceProfile) ResourceProfile {
	return ResourceProfile{
		CPU:    p.CPU - other.CPU,
		Memory: p.Memory - other.Memory,
	}
}

// Add returns p plus the capacity of other.
func (p ResourceProfile) Add(other ResourceProfile) ResourceProfile {
	return ResourceProfile{
		CPU:    p.CPU + other.CPU,
		Memory: p.Memory + other.Memory,
	}
}

// SlotProfile is a committed, worker-bound allocation of a
// ResourceProfile.
type SlotProfile struct {
	ID       SlotID          `json:"id"`
	JobID    JobID           `json:"job-id"`
	Worker   Address         `json:"worker"`
	Resource ResourceProfile `json:"resource"`
}

// WorkerProfile describes a worker node and the slots currently
// assigned to it. The profile is replaced wholesale on every
// heartbeat, so a stored profile is never mutated in place.
type WorkerProfile struct {
	Address    Address           `json:"addr"`
	Capacity   ResourceProfile   `json:"capacity"`
	Assigned   []*SlotProfile    `json:"assigned,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Residual returns the capacity left after subtracting all assigned
// slots from the total capacity.
func (w *WorkerProfile) Residual() ResourceProfile {
	rest := w.Capacity
	for _, slot := range w.Assigned {
		rest = rest.Subtract(slot.Resource)
	}
	return rest
}

// HasLabels reports whether the worker carries every attribute in want.
func (w *WorkerProfile) HasLabels(want map[string]string) bool {
	for k, v := range want {
		if w.Attributes[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the profile.
func (w *WorkerProfile) Clone() *WorkerProfile {
	ret := &WorkerProfile{
		Address:  w.Address,
		Capacity: w.Capacity,
	}
	if w.Assigned != nil {
		ret.Assigned = make([]*SlotProfile, 0, len(w.Assigned))
		for _, slot := range w.Assigned {
			slotCopy := *slot
			ret.Assigned = append(ret.Assigned, &slotCopy)
		}
	}
	if w.Attributes != nil {
		ret.Attributes = make(map[string]string, len(w.Attributes))
		for k, v := range w.Attributes {
			ret.Attributes[k] = v
		}
	}
	return ret
}

func (w *WorkerProfile) ToJSON() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(data), nil
}
