package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"packager/internal/config"
	"packager/internal/errs"
	"packager/internal/installer"
	"packager/internal/logx"
	"packager/internal/metrics"
	"packager/internal/tui"
)

var (
	configPath string
	outputJSON bool
	logLevel   string
	noProgress bool
)

// errReported marks a failure whose details were already written to
// stdout, so Main only sets the exit status.
var errReported = errors.New("failure reported")

// Execute runs the root command and exits with its status.
func Execute() {
	os.Exit(Main())
}

// Main runs the root command and returns the process exit status.
func Main() int {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "packager",
		Short:         "Install, activate and remove versioned runtime packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	cmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable the interactive progress display")

	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newActivateCmd())
	cmd.AddCommand(newDeactivateCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// env is the per-invocation state shared by the commands.
type env struct {
	cfg    config.Config
	logger *log.Logger
	runID  string
	prom   *metrics.Prom
	closer io.Closer
}

func newEnv(cmd *cobra.Command) (*env, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errs.New(errs.ErrConfig, "load config").At(path).Wrap(err)
	}
	results := cfg.Validate()
	if config.HasErrors(results) {
		for _, r := range results {
			fmt.Fprintf(cmd.ErrOrStderr(), "config %s: %s\n", r.Level, r.Message)
		}
		return nil, errs.New(errs.ErrConfig, "validate config").At(path)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	runID := logx.NewRunID()
	logger, closer, err := logx.New(logx.Options{
		Level:  level,
		Dir:    cfg.Logging.Dir,
		Stderr: cmd.ErrOrStderr(),
		RunID:  runID,
	})
	if err != nil {
		return nil, errs.New(errs.ErrConfig, "set up logging").Wrap(err)
	}
	logger.Debug("configuration loaded", "path", path)
	for _, r := range results {
		logger.Warn(r.Message, "config", path)
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		prom:   metrics.NewProm("packager"),
		closer: closer,
	}, nil
}

func (e *env) installer(opts installer.Options) (*installer.Installer, error) {
	opts.Logger = e.logger
	opts.Metrics = e.prom
	opts.RunID = e.runID
	return installer.New(e.cfg, opts)
}

// close exports metrics when configured and releases the log file.
func (e *env) close() {
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := e.prom.WriteTextfile(path); err != nil {
			e.logger.Warn("could not export metrics", "path", path, "err", err)
		}
	}
	if err := e.closer.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func outputMode(cmd *cobra.Command) tui.OutputMode {
	return tui.DetectMode(cmd.OutOrStdout(), noProgress, outputJSON)
}
