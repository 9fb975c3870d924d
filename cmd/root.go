// Package cmd wires the esvsync command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/esvtools/esvsync/internal/config"
	"github.com/esvtools/esvsync/internal/datastore"
	"github.com/esvtools/esvsync/internal/definition"
	"github.com/esvtools/esvsync/internal/log"
	"github.com/esvtools/esvsync/internal/registry"
	"github.com/esvtools/esvsync/internal/tracing"
)

var (
	version = "dev"

	cfgFile      string
	debug        bool
	dumpRegister bool
	cfg          config.Config

	logCleanup = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "esvsync",
	Short: "Synchronize entropy source definitions with a validation registry",
	Long: `esvsync keeps locally configured vendor, contact and entropy source
definitions in sync with a remote validation registry and drives the
resumable evidence submission workflow for entropy assessments.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .esvsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")
	rootCmd.PersistentFlags().Bool("register-new", false,
		"register definitions that match nothing on the server")
	rootCmd.PersistentFlags().BoolVar(&dumpRegister, "dump-register", false,
		"print registration payloads instead of sending them")

	_ = viper.BindPFlag("register_new", rootCmd.PersistentFlags().Lookup("register-new"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.api_prefix", defaults.Server.APIPrefix)
	viper.SetDefault("server.page_size", defaults.Server.PageSize)
	viper.SetDefault("server.retry_count", defaults.Server.RetryCount)
	viper.SetDefault("server.timeout_seconds", defaults.Server.TimeoutSeconds)
	viper.SetDefault("definitions_dir", defaults.DefinitionsDir)
	viper.SetDefault("datastore_path", defaults.DatastorePath)
	viper.SetDefault("register_new", defaults.RegisterNew)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .esvsync/config.yaml (current directory)
		// 2. ~/.config/esvsync/config.yaml (user config)
		if _, err := os.Stat(".esvsync/config.yaml"); err == nil {
			viper.SetConfigFile(".esvsync/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "esvsync"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".esvsync/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)

	if debug || cfg.LogFile != "" {
		logPath := cfg.LogFile
		if logPath == "" {
			logPath = ".esvsync/esvsync.log"
		}
		if cleanup, err := log.Init(logPath); err == nil {
			logCleanup = cleanup
		}
		if debug {
			log.SetMinLevel(log.LevelDebug)
		}
	}
}

// newClient builds the registry client from the loaded configuration.
func newClient() (*registry.Client, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is not configured")
	}
	return registry.New(registry.Config{
		BaseURL:    cfg.Server.URL,
		APIPrefix:  cfg.Server.APIPrefix,
		PageSize:   cfg.Server.PageSize,
		RetryCount: cfg.Server.RetryCount,
		Timeout:    cfg.Server.Timeout(),
		SkipCache:  cfg.Server.SkipCache,
	}, nil), nil
}

// openStore opens the submission datastore, creating parent directories.
func openStore() (*datastore.Store, error) {
	if dir := filepath.Dir(cfg.DatastorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return datastore.Open(cfg.DatastorePath)
}

// loadDefinitions loads either the single definition named by args or the
// whole definitions directory.
func loadDefinitions(args []string) ([]*definition.Definition, error) {
	if len(args) == 1 {
		def, err := definition.Load(args[0])
		if err != nil {
			return nil, err
		}
		return []*definition.Definition{def}, nil
	}
	defs, err := definition.LoadDir(cfg.DefinitionsDir)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no definitions found in %s", cfg.DefinitionsDir)
	}
	return defs, nil
}

// setupTracing installs the trace provider and returns its shutdown hook.
func setupTracing() (func(), error) {
	tcfg := cfg.Tracing
	if tcfg.Enabled && tcfg.Exporter == "file" && tcfg.FilePath == "" {
		tcfg.FilePath = ".esvsync/traces.jsonl"
	}
	provider, err := tracing.NewProvider(tcfg)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = provider.Shutdown(context.Background())
	}, nil
}

// Execute runs the root command.
func Execute() error {
	defer logCleanup()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
