package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brightfile/chunkupload/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// cliContextKey is the context key the resolved config and logger are
// stashed under by PersistentPreRunE.
type cliContextKey struct{}

// CLIContext bundles resolved config and logger, built once in
// PersistentPreRunE so subcommands never repeat config-loading boilerplate.
type CLIContext struct {
	Cfg    *config.Config
	Holder *config.Holder
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE must run before RunE")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chunkupload-server",
		Short:   "Chunked file upload server",
		Long:    "A chunked-upload ingest server: accepts out-of-order chunk POSTs, reassembles them into a single file, and validates the result.",
		Version: version,
		// Silence Cobra's default error/usage printing — handled in main().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfigIntoContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (defaults to the platform config directory)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info-level logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress all but error-level logging")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newClientCmd())

	return cmd
}

// loadConfigIntoContext resolves the configuration file (or defaults, if
// none exists) and stores a CLIContext in the command's context.
func loadConfigIntoContext(cmd *cobra.Command) error {
	bootstrapLogger := buildLogger("")

	path := flagConfigPath
	if path == "" {
		if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
			path = env.ConfigPath
		} else {
			path = config.DefaultConfigPath()
		}
	}

	cfg, err := config.LoadOrDefault(path, bootstrapLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	config.ReadEnvOverrides().Apply(cfg)

	logger := buildLogger(cfg.Logging.LogLevel)
	holder := config.NewHolder(cfg, path)

	cc := &CLIContext{Cfg: cfg, Holder: holder, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config's
// log level and CLI flags. configLevel is "" for the pre-config bootstrap
// logger. CLI flags always win over the config file.
func buildLogger(configLevel string) *slog.Logger {
	level := slog.LevelWarn

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
