package servermaster

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/clientv3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tidalflow/tidalflow/pkg/clock"
	derrors "github.com/tidalflow/tidalflow/pkg/errors"
	"github.com/tidalflow/tidalflow/pkg/membership"
	"github.com/tidalflow/tidalflow/servermaster/resource"
)

// Server glues the master process together: the etcd-backed
// membership view and the resource manager fed by it. The job layer
// reaches the resource manager through the ResourceManager accessor.
type Server struct {
	cfg     *Config
	etcdCli *clientv3.Client
	member  membership.Service
	manager *resource.Manager
}

// NewServer creates a Server from an adjusted config.
func NewServer(cfg *Config) (*Server, error) {
	etcdCli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints(),
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, derrors.ErrEtcdAPIError.Wrap(err).GenWithStackByArgs()
	}
	member := membership.NewEtcdService(etcdCli, cfg.MemberPrefix, cfg.MemberWatchTick)
	manager := resource.NewManager(
		cfg.ResourceConf,
		nil,
		member,
		resource.NewLoopbackOperationClient(nil),
		cfg.Deployment(),
		clock.New(),
	)
	return &Server{
		cfg:     cfg,
		etcdCli: etcdCli,
		member:  member,
		manager: manager,
	}, nil
}

// ResourceManager returns the resource manager owned by the server.
func (s *Server) ResourceManager() *resource.Manager {
	return s.manager
}

// Run serves until ctx is canceled or an internal component fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.manager.Init(ctx); err != nil {
		return errors.Trace(err)
	}
	log.L().Info("master server started",
		zap.String("addr", s.cfg.MasterAddr),
		zap.String("deploy-mode", s.cfg.DeployMode))

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return s.logClusterEvents(ctx)
	})
	return wg.Wait()
}

// logClusterEvents mirrors membership changes into the server log.
func (s *Server) logClusterEvents(ctx context.Context) error {
	recv := s.manager.WatchEvents()
	defer recv.Close()
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case event, ok := <-recv.C:
			if !ok {
				return nil
			}
			switch event.Type {
			case membership.MemberJoined:
				log.L().Info("cluster member joined",
					zap.String("member-id", event.ID),
					zap.String("addr", event.Member.Addr))
			case membership.MemberLeft:
				log.L().Info("cluster member left",
					zap.String("member-id", event.ID),
					zap.String("addr", event.Member.Addr))
			}
		}
	}
}

// Close releases every resource held by the server. It is safe to
// call after Run returns.
func (s *Server) Close() {
	if err := s.manager.Close(); err != nil {
		log.L().Warn("failed to close resource manager", zap.Error(err))
	}
	if err := s.etcdCli.Close(); err != nil {
		log.L().Warn("failed to close etcd client", zap.Error(err))
	}
	log.L().Info("master server closed")
}
