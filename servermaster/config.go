package servermaster

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	derrors "github.com/tidalflow/tidalflow/pkg/errors"
	"github.com/tidalflow/tidalflow/servermaster/resource"
)

const (
	defaultEtcdEndpoints = "http://127.0.0.1:2379"
	defaultMemberPrefix  = "/tidalflow/members"
	defaultDeployMode    = "cluster"

	defaultDialTimeout          = "3s"
	defaultMemberWatchTick      = "3s"
	defaultWorkerCheckInterval  = "500ms"
	defaultRequestRetryInterval = "500ms"
)

// Config is the configuration of the master process.
type Config struct {
	LogLevel string `toml:"log-level" json:"log-level"`
	LogFile  string `toml:"log-file" json:"log-file"`

	MasterAddr string `toml:"master-addr" json:"master-addr"`

	// EtcdEndpoints lists the endpoints of the etcd cluster backing
	// membership, separated by comma.
	EtcdEndpoints string `toml:"etcd-endpoints" json:"etcd-endpoints"`
	// MemberPrefix is the etcd key prefix under which live workers
	// keep their registration keys.
	MemberPrefix string `toml:"member-prefix" json:"member-prefix"`

	// DeployMode is either "standalone" or "cluster".
	DeployMode string `toml:"deploy-mode" json:"deploy-mode"`

	DialTimeoutStr          string `toml:"dial-timeout" json:"dial-timeout"`
	MemberWatchTickStr      string `toml:"member-watch-tick" json:"member-watch-tick"`
	WorkerCheckIntervalStr  string `toml:"worker-check-interval" json:"worker-check-interval"`
	RequestRetryIntervalStr string `toml:"request-retry-interval" json:"request-retry-interval"`

	ConfigFile string `toml:"config-file" json:"config-file"`

	DialTimeout     time.Duration   `toml:"-" json:"-"`
	MemberWatchTick time.Duration   `toml:"-" json:"-"`
	ResourceConf    resource.Config `toml:"-" json:"-"`
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal master config to json", zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of the config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	err := toml.NewEncoder(&b).Encode(c)
	if err != nil {
		log.L().Error("fail to marshal master config to toml", zap.Error(err))
	}
	return b.String(), err
}

// Adjust validates the config and resolves duration strings.
func (c *Config) Adjust() (err error) {
	switch c.DeployMode {
	case "standalone", "cluster":
	default:
		return derrors.ErrMasterConfigInvalid.GenWithStackByArgs(
			"deploy-mode must be standalone or cluster, got " + c.DeployMode)
	}
	if c.MemberPrefix == "" {
		return derrors.ErrMasterConfigInvalid.GenWithStackByArgs("member-prefix must not be empty")
	}

	c.DialTimeout, err = time.ParseDuration(c.DialTimeoutStr)
	if err != nil {
		return derrors.ErrMasterConfigInvalid.Wrap(err).GenWithStackByArgs("dial-timeout")
	}
	c.MemberWatchTick, err = time.ParseDuration(c.MemberWatchTickStr)
	if err != nil {
		return derrors.ErrMasterConfigInvalid.Wrap(err).GenWithStackByArgs("member-watch-tick")
	}
	c.ResourceConf.WorkerCheckInterval, err = time.ParseDuration(c.WorkerCheckIntervalStr)
	if err != nil {
		return derrors.ErrMasterConfigInvalid.Wrap(err).GenWithStackByArgs("worker-check-interval")
	}
	c.ResourceConf.RequestRetryInterval, err = time.ParseDuration(c.RequestRetryIntervalStr)
	if err != nil {
		return derrors.ErrMasterConfigInvalid.Wrap(err).GenWithStackByArgs("request-retry-interval")
	}
	return nil
}

// Endpoints splits EtcdEndpoints into its entries.
func (c *Config) Endpoints() []string {
	items := strings.Split(c.EtcdEndpoints, ",")
	endpoints := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			endpoints = append(endpoints, item)
		}
	}
	return endpoints
}

// Deployment returns the deployment strategy selected by DeployMode.
// Adjust must have validated the mode first.
func (c *Config) Deployment() resource.Deployment {
	if c.DeployMode == "standalone" {
		return resource.StandaloneDeployment{}
	}
	return resource.ClusterDeployment{}
}

// ConfigFromFile merges the TOML file at path into the config.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return derrors.ErrMasterDecodeConfigFile.Wrap(err).GenWithStackByArgs()
	}
	return checkUndecodedItems(metaData)
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return derrors.ErrMasterConfigUnknownItem.GenWithStackByArgs(
			strings.Join(undecodedItems, ","))
	}
	return nil
}

// GetDefaultMasterConfig returns a default master config.
func GetDefaultMasterConfig() *Config {
	return &Config{
		LogLevel:                "info",
		MasterAddr:              "127.0.0.1:10240",
		EtcdEndpoints:           defaultEtcdEndpoints,
		MemberPrefix:            defaultMemberPrefix,
		DeployMode:              defaultDeployMode,
		DialTimeoutStr:          defaultDialTimeout,
		MemberWatchTickStr:      defaultMemberWatchTick,
		WorkerCheckIntervalStr:  defaultWorkerCheckInterval,
		RequestRetryIntervalStr: defaultRequestRetryInterval,
	}
}
