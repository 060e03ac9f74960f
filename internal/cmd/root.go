// Package cmd implements the dumpkeeper command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/config"
	"github.com/3leaps/dumpkeeper/internal/observability"
)

var (
	cfgFile   string
	debugMode bool
	verbose   bool
	logLevel  string
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.AppIdentity

var rootCmd = &cobra.Command{
	Use:   "dumpkeeper",
	Short: "Archive Wikimedia dump snapshots to the Internet Archive",
	Long: `dumpkeeper tracks dated dump snapshots in a shared work queue and
uploads finished ones to the Internet Archive. Several runners on different
hosts may poll the same queue; each item is claimed by exactly one of them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		id := config.DefaultIdentity
		appIdentity = &id
		config.SetIdentity(id)

		if cmd.Flags().Changed("log-level") {
			observability.InitCLILoggerLevel(id.BinaryName, logLevel)
		} else {
			observability.InitCLILogger(id.BinaryName, verbose || debugMode)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: user config dir, then /etc/dumpkeeper)")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "D", false, "dry run: read and log decisions, write nothing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// SetVersionInfo records build metadata for version output and the scanner
// metadata field.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity installed by the root command, or nil
// before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// scanner is written into every uploaded item's metadata.
func scanner() string {
	return "dumpkeeper " + versionInfo.Version
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// cliError carries the process exit code for a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.message, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitWithCode logs and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
		_ = logger.Sync()
	}
	os.Exit(code)
}

// loadConfig reads and validates configuration. Flag values override file
// and environment settings.
func loadConfig(ctx context.Context) (*config.Config, error) {
	overrides := map[string]any{}
	if rootCmd.PersistentFlags().Changed("log-level") {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	cfg, err := config.LoadFrom(ctx, cfgFile, overrides)
	if err != nil {
		if cfgFile != "" && errors.Is(err, os.ErrNotExist) {
			return nil, exitError(foundry.ExitFileNotFound, "Config file not found", err)
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid config", err)
	}
	return cfg, nil
}
