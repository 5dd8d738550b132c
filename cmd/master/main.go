package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidalflow/tidalflow/servermaster"
)

var (
	configFile string
	masterAddr string
	logLevel   string
	logFile    string
	deployMode string

	rootCmd = &cobra.Command{
		Use:          "tidalflow-master",
		Short:        "runs the cluster master",
		SilenceUsage: true,
		RunE:         runEMaster,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to the master config file")
	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "", "address the master advertises")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "log file path, empty for stderr")
	rootCmd.Flags().StringVar(&deployMode, "deploy-mode", "", "deployment mode: standalone or cluster")
}

func loadConfig() (*servermaster.Config, error) {
	cfg := servermaster.GetDefaultMasterConfig()
	if configFile != "" {
		if err := cfg.ConfigFromFile(configFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configFile
	}
	// command line flags override the config file
	if masterAddr != "" {
		cfg.MasterAddr = masterAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if deployMode != "" {
		cfg.DeployMode = deployMode
	}
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEMaster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Annotate(err, "load config")
	}

	lg, prop, err := log.InitLogger(&log.Config{
		Level: cfg.LogLevel,
		File:  log.FileLogConfig{Filename: cfg.LogFile},
	})
	if err != nil {
		return errors.Annotate(err, "init logger")
	}
	log.ReplaceGlobals(lg, prop)
	log.L().Info("master config", zap.String("config", cfg.String()))

	server, err := servermaster.NewServer(cfg)
	if err != nil {
		return errors.Annotate(err, "new server")
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		select {
		case <-ctx.Done():
		case sig := <-sc:
			log.L().Info("got signal to exit", zap.Stringer("signal", sig))
			cancel()
		}
	}()

	err = server.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		return errors.Annotate(err, "run server")
	}
	log.L().Info("master server exits normally")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
