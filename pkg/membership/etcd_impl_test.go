package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/embed"
)

const testKeyPrefix = "/tidalflow/test/membership"

func allocTempURL(t *testing.T) string {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func prepareEtcd(t *testing.T) (*clientv3.Client, func()) {
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.Logger = "zap"
	cfg.LogLevel = "error"

	clientURL, err := url.Parse("http://" + allocTempURL(t))
	require.NoError(t, err)
	peerURL, err := url.Parse("http://" + allocTempURL(t))
	require.NoError(t, err)
	cfg.LCUrls = []url.URL{*clientURL}
	cfg.ACUrls = []url.URL{*clientURL}
	cfg.LPUrls = []url.URL{*peerURL}
	cfg.APUrls = []url.URL{*peerURL}
	cfg.InitialCluster = cfg.Name + "=" + peerURL.String()

	etcd, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	select {
	case <-etcd.Server.ReadyNotify():
	case <-time.After(time.Minute):
		t.Fatal("embedded etcd took too long to start")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{clientURL.String()},
		DialTimeout: 3 * time.Second,
	})
	require.NoError(t, err)

	cleanFn := func() {
		require.NoError(t, client.Close())
		etcd.Close()
	}
	return client, cleanFn
}

func putMember(ctx context.Context, t *testing.T, client *clientv3.Client, id UUID, addr string) {
	value, err := json.Marshal(Member{Addr: addr})
	require.NoError(t, err)
	_, err = client.Put(ctx, testKeyPrefix+"/"+id, string(value))
	require.NoError(t, err)
}

func TestEtcdMembershipAPI(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, cleanFn := prepareEtcd(t)
	defer cleanFn()

	putMember(ctx, t, client, "uuid-1", "127.0.0.1:10001")
	putMember(ctx, t, client, "uuid-2", "127.0.0.1:10002")

	service := NewEtcdService(client, testKeyPrefix, 50*time.Millisecond)
	snapshot, err := service.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[UUID]Member{
		"uuid-1": {Addr: "127.0.0.1:10001"},
		"uuid-2": {Addr: "127.0.0.1:10002"},
	}, snapshot)

	ch := service.Watch(ctx)

	// The first delta reports the current members as additions.
	resp := <-ch
	require.NoError(t, resp.Err)
	require.Len(t, resp.AddSet, 2)
	require.Len(t, resp.DelSet, 0)

	putMember(ctx, t, client, "uuid-3", "127.0.0.1:10003")
	_, err = client.Delete(ctx, testKeyPrefix+"/uuid-1")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	addSet := make(map[UUID]Member)
	delSet := make(map[UUID]Member)
	for len(addSet) < 1 || len(delSet) < 1 {
		select {
		case resp = <-ch:
		case <-deadline:
			t.Fatal("watch did not observe the membership change in time")
		}
		require.NoError(t, resp.Err)
		for k, v := range resp.AddSet {
			addSet[k] = v
		}
		for k, v := range resp.DelSet {
			delSet[k] = v
		}
	}
	require.Equal(t, map[UUID]Member{"uuid-3": {Addr: "127.0.0.1:10003"}}, addSet)
	require.Equal(t, map[UUID]Member{"uuid-1": {Addr: "127.0.0.1:10001"}}, delSet)

	// A second watch on the same service must be rejected.
	dupCh := service.Watch(ctx)
	resp = <-dupCh
	require.Error(t, resp.Err)
}

func TestMockServiceWatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	service := NewMockService()

	service.AddMember("uuid-1", Member{Addr: "127.0.0.1:10001"})
	snapshot, err := service.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	ch := service.Watch(ctx)
	resp := <-ch
	require.Equal(t, map[UUID]Member{"uuid-1": {Addr: "127.0.0.1:10001"}}, resp.AddSet)

	service.RemoveMember("uuid-1")
	resp = <-ch
	require.Equal(t, map[UUID]Member{"uuid-1": {Addr: "127.0.0.1:10001"}}, resp.DelSet)
}
