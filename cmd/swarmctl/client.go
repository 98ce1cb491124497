package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"neuroswarm/internal/config"
	"neuroswarm/internal/logging"
	"neuroswarm/pkg/neuroswarm"
)

const defaultConfigPath = "swarm.yaml"

// loadConfig reads the config file, falling back to defaults when the
// default path is absent. An explicitly named file must exist.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		explicit := cmd.Flags().Changed("config")
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	if flags.dbPath != "" {
		cfg.Store.Kind = "sqlite"
		cfg.Store.Path = flags.dbPath
	}
	if flags.logLevel != "" {
		if _, err := logging.ParseLevel(flags.logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

func openClient(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*neuroswarm.Client, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	client, err := neuroswarm.Open(ctx, neuroswarm.Options{Config: cfg, Logger: logging.New(logCfg)})
	if err != nil {
		return nil, fmt.Errorf("open swarm: %w", err)
	}
	return client, nil
}

// withClient opens a client for the duration of fn and closes it afterwards.
func withClient(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *neuroswarm.Client) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := openClient(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, client)
}
