package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/logging"
	"github.com/zhy0216/toolbox/pkg/memory"
	"github.com/zhy0216/toolbox/pkg/router"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "toolbox",
	Short:         "toolbox - concurrent tool router for LLM agents",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFlag   string
	logLevelFlag string
	toolsFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config.yaml (default $TOOLBOX_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&toolsFlag, "tools", "", "Comma separated capabilities, overriding the config (e.g. bash,edit or all)")
	rootCmd.AddCommand(toolsCmd, schemaCmd, runCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadFile(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if toolsFlag != "" {
		caps, err := config.ParseCapabilities(toolsFlag)
		if err != nil {
			return nil, err
		}
		cfg.Capabilities = caps
	}
	return cfg, nil
}

// session bundles what every subcommand needs to run a turn.
type session struct {
	cfg    *config.Config
	log    *logrus.Logger
	router *router.Router
	store  *memory.Store
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.WithError(err).Warn("closing memory store")
		}
	}
}

// newSession builds the logger, host environment and router for cfg. The
// router exports descriptors in family. Logs go to stderr so stdout stays
// machine readable.
func newSession(cfg *config.Config, family schema.Family, stderr io.Writer, opts ...router.Option) (*session, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: logger}

	env, err := newEnvironment(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.store = env.Memory

	opts = append([]router.Option{
		router.WithLogger(logger),
		router.WithFactories(router.DefaultFactories(env)),
	}, opts...)
	s.router = router.New(router.Config{
		Capabilities: cfg.Capabilities,
		Family:       family,
		TurnTimeout:  cfg.TurnTimeout,
		GracePeriod:  cfg.GracePeriod,
		MaxParallel:  cfg.MaxParallel,
	}, opts...)
	return s, nil
}

// newEnvironment describes the host to the built-in tools. The memory
// store is opened only when the memory capability is on.
func newEnvironment(cfg *config.Config, logger logrus.FieldLogger) (router.Environment, error) {
	wd, err := os.Getwd()
	if err != nil {
		return router.Environment{}, fmt.Errorf("get working directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(wd); err == nil {
		wd = resolved
	}

	env := router.Environment{
		WorkDir:    wd,
		AllowedDir: cfg.AllowedDir,
		Display:    cfg.Display,
	}
	if !cfg.Capabilities.Memory {
		return env, nil
	}

	store, err := memory.Open(cfg.MemoryDB, memory.WithLogger(logger))
	if err != nil {
		return env, &types.ConfigurationError{Tool: "memory", Reason: err.Error()}
	}
	env.Memory = store
	return env, nil
}
