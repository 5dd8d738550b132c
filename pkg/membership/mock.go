package membership

import (
	"context"
	"sync"
)

// MockService is an in-memory Service for unit tests. Membership is
// mutated directly by the test via AddMember and RemoveMember.
type MockService struct {
	mu      sync.Mutex
	members map[UUID]Member
	watchCh chan WatchResp
}

// NewMockService creates a MockService with no members.
func NewMockService() *MockService {
	return &MockService{
		members: make(map[UUID]Member),
		watchCh: make(chan WatchResp, defaultWatchChanSize),
	}
}

// AddMember adds a live member and emits a join change set.
func (s *MockService) AddMember(id UUID, member Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = member
	s.watchCh <- WatchResp{AddSet: map[UUID]Member{id: member}}
}

// RemoveMember removes a member and emits a leave change set.
func (s *MockService) RemoveMember(id UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[id]
	if !ok {
		return
	}
	delete(s.members, id)
	s.watchCh <- WatchResp{DelSet: map[UUID]Member{id: member}}
}

// Snapshot implements Service.Snapshot
func (s *MockService) Snapshot(_ context.Context) (map[UUID]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[UUID]Member, len(s.members))
	for id, member := range s.members {
		snapshot[id] = member
	}
	return snapshot, nil
}

// Watch implements Service.Watch
func (s *MockService) Watch(_ context.Context) <-chan WatchResp {
	return s.watchCh
}
