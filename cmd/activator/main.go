package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("ACTIVATOR")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.activator")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	setViperDefaults()
}

var (
	logFileCloser  io.Closer
	tracerShutdown func(context.Context) error

	// exitCode is set by commands that finish with a non-zero status so that
	// post-run cleanup still happens before the process exits.
	exitCode int
)

// fail reports err and marks the process as failed
func fail(err error, msg string) {
	presenter.Error(err, msg)
	exitCode = 1
}

var rootCmd = &cobra.Command{
	Use:   "activator",
	Short: "Resolve path-scoped rules and dispatch tool-use hooks",
	Long: `Activator decides which rule documents apply to an edited file and which
hooks run for a tool-use event, and whether that event may proceed.

Rule documents are markdown files with optional frontmatter; a "paths" or
"globs" key scopes a document to matching files. Hooks are external commands
declared in YAML or JSON configuration and bound to PreToolUse or PostToolUse.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "failed to initialize tracing")
		}
		tracerShutdown = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanup(cmd.Context())
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func setupLogging() error {
	if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
		return errors.Wrapf(err, "invalid log level %q", viper.GetString("log_level"))
	}
	logger.SetLogFormat(viper.GetString("log_format"))

	if path := viper.GetString("log_file"); path != "" {
		closer, err := logger.SetLogFile(path, logger.DefaultRotationConfig())
		if err != nil {
			return err
		}
		logFileCloser = closer
	}
	return nil
}

// cleanup flushes traces and closes the log file
func cleanup(ctx context.Context) {
	if tracerShutdown != nil {
		if err := tracerShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to shut down tracer")
		}
		tracerShutdown = nil
	}
	if logFileCloser != nil {
		logFileCloser.Close()
		logFileCloser = nil
	}
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringSlice("rules-dir", nil, "Directory of rule documents (repeatable)")
	flags.StringSlice("rule-file", nil, "Single rule document (repeatable)")
	flags.StringSlice("hook-file", nil, "Hook configuration file (repeatable)")
	flags.StringSlice("hook-dir", nil, "Directory of hook configuration files (repeatable)")
	flags.Duration("grace-period", 0, "Time a cancelled hook gets between SIGTERM and SIGKILL")
	flags.Bool("static-validation", false, "Reject hooks whose command is not on PATH at load time")
	flags.String("work-dir", "", "Working directory hooks run in (defaults to the current directory)")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "Log format (fmt, json)")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")

	// Bind flags to viper
	viper.BindPFlag("rules_dirs", flags.Lookup("rules-dir"))
	viper.BindPFlag("rule_files", flags.Lookup("rule-file"))
	viper.BindPFlag("hook_files", flags.Lookup("hook-file"))
	viper.BindPFlag("hook_dirs", flags.Lookup("hook-dir"))
	viper.BindPFlag("grace_period", flags.Lookup("grace-period"))
	viper.BindPFlag("static_validation", flags.Lookup("static-validation"))
	viper.BindPFlag("work_dir", flags.Lookup("work-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))

	// Add subcommands
	rootCmd.AddCommand(withTracing(resolveCmd))
	rootCmd.AddCommand(withTracing(dispatchCmd))
	rootCmd.AddCommand(withTracing(checkCmd))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
	stop()
	os.Exit(exitCode)
}
