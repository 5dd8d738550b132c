package membership

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.etcd.io/etcd/clientv3"
	"go.uber.org/atomic"

	"github.com/tidalflow/tidalflow/pkg/errors"
)

const defaultWatchChanSize = 8

// EtcdService implements Service with etcd as the backing store. Each
// live node keeps a key under keyPrefix (typically bound to a lease)
// whose value is a JSON-encoded Member.
//
// Note this struct supports only one concurrent watch. Once a watch
// terminates, a new one may be established; the cached snapshot is
// kept, so the next delta reports only the changes that happened in
// between.
type EtcdService struct {
	etcdCli      *clientv3.Client
	keyPrefix    string
	snapshot     map[UUID]Member
	snapshotRev  Revision
	watchTickDur time.Duration
	watched      *atomic.Bool
}

// NewEtcdService creates a new EtcdService.
func NewEtcdService(etcdCli *clientv3.Client, keyPrefix string, watchTickDur time.Duration) *EtcdService {
	return &EtcdService{
		etcdCli:      etcdCli,
		keyPrefix:    keyPrefix,
		watchTickDur: watchTickDur,
		watched:      atomic.NewBool(false),
	}
}

// Snapshot implements Service.Snapshot
func (s *EtcdService) Snapshot(ctx context.Context) (map[UUID]Member, error) {
	snapshot, _, err := s.getSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Watch implements Service.Watch
func (s *EtcdService) Watch(ctx context.Context) <-chan WatchResp {
	notWatched := s.watched.CAS(false, true)
	if !notWatched {
		ch := make(chan WatchResp, 1)
		ch <- WatchResp{Err: errors.ErrDiscoveryDuplicateWatch.GenWithStackByArgs()}
		return ch
	}
	ch := make(chan WatchResp, defaultWatchChanSize)
	go s.tickedWatch(ctx, ch)
	return ch
}

func (s *EtcdService) tickedWatch(ctx context.Context, ch chan<- WatchResp) {
	defer s.watched.Store(false)
	ticker := time.NewTicker(s.watchTickDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ch <- WatchResp{Err: ctx.Err()}
			return
		case <-ticker.C:
			addSet, delSet, err := s.delta(ctx)
			if err != nil {
				ch <- WatchResp{Err: err}
				return
			}
			if len(addSet) > 0 || len(delSet) > 0 {
				ch <- WatchResp{
					AddSet: addSet,
					DelSet: delSet,
				}
			}
		}
	}
}

// delta returns the membership diff compared with the cached
// snapshot, and updates the cache.
func (s *EtcdService) delta(ctx context.Context) (
	map[UUID]Member, map[UUID]Member, error,
) {
	snapshot, revision, err := s.getSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	addSet := make(map[UUID]Member)
	delSet := make(map[UUID]Member)
	for k, v := range snapshot {
		if _, ok := s.snapshot[k]; !ok {
			addSet[k] = v
		}
	}
	for k, v := range s.snapshot {
		if _, ok := snapshot[k]; !ok {
			delSet[k] = v
		}
	}
	s.snapshot = snapshot
	s.snapshotRev = revision
	return addSet, delSet, nil
}

// getSnapshot queries etcd for the full set of live members.
func (s *EtcdService) getSnapshot(ctx context.Context) (
	map[UUID]Member, Revision, error,
) {
	resp, err := s.etcdCli.Get(ctx, s.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.ErrEtcdAPIError.Wrap(err).GenWithStackByArgs()
	}
	snapshot := make(map[UUID]Member, resp.Count)
	for _, kv := range resp.Kvs {
		id, member, err := s.unmarshal(kv.Key, kv.Value)
		if err != nil {
			return nil, 0, err
		}
		snapshot[id] = member
	}
	return snapshot, resp.Header.Revision, nil
}

// unmarshal decodes one etcd key/value pair into a member record.
func (s *EtcdService) unmarshal(k, v []byte) (UUID, Member, error) {
	key := string(k)
	if !strings.HasPrefix(key, s.keyPrefix) {
		return "", Member{}, errors.ErrDecodeEtcdKeyFail.GenWithStackByArgs(key)
	}
	id := strings.TrimPrefix(strings.TrimPrefix(key, s.keyPrefix), "/")
	if id == "" {
		return "", Member{}, errors.ErrDecodeEtcdKeyFail.GenWithStackByArgs(key)
	}
	var member Member
	if err := json.Unmarshal(v, &member); err != nil {
		return "", Member{}, errors.ErrDecodeEtcdValueFail.Wrap(err).GenWithStackByArgs(string(v))
	}
	return id, member, nil
}
