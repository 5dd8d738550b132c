package membership

import (
	"context"
)

// defines some type alias used in the membership module
type (
	Revision = int64
	UUID     = string
)

// Member describes a live cluster node as seen by the membership
// service.
type Member struct {
	Addr string `json:"addr"`
}

// EventType distinguishes member join from member leave.
type EventType int

const (
	// MemberJoined means a node became a live member.
	MemberJoined EventType = iota + 1
	// MemberLeft means a node is no longer reachable or alive.
	MemberLeft
)

// Event is a single membership change notification.
type Event struct {
	Type   EventType
	ID     UUID
	Member Member
}

// WatchResp defines the change set from a Watch API of the Service
// interface.
type WatchResp struct {
	AddSet map[UUID]Member
	DelSet map[UUID]Member
	Err    error
}

// Service defines the interface of a cluster membership view. The
// membership protocol itself (failure detection, leases) lives in the
// backing store; this interface only observes it.
type Service interface {
	// Snapshot returns the full set of currently live members.
	Snapshot(ctx context.Context) (map[UUID]Member, error)

	// Watch watches membership changes. The watched change sets are
	// returned through a channel. Watch may be called only once per
	// Service.
	Watch(ctx context.Context) <-chan WatchResp
}
