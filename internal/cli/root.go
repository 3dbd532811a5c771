// Package cli provides the command-line interface for docbrowse.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/portalworks/docbrowse/internal/logging"
)

var (
	// Global flags
	cfgFile     string
	envFile     string
	backendFlag string
	noCache     bool
	verbose     bool
	debug       bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version information - set by main package at startup
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docbrowse",
		Short: "Browse and manage a remote document repository",
		Long: `docbrowse ` + Version + ` - Built: ` + BuildTime + `
Browse folders of a remote document repository (SharePoint-compatible REST,
S3 or Azure Blob), search it, upload files and run file operations.

Listings are served from a local cache first and refreshed in the background.
Use 'docbrowse shell' for an interactive session.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger(logging.Options{Console: os.Stderr})
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default: ./docbrowse.yaml or <user config dir>/docbrowse/docbrowse.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load DOCBROWSE_* variables from this .env file")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend to use: rest, s3 or azure (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Bypass the persistent listing cache")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for docbrowse.

QUICK TEST (current session only):
  source <(docbrowse completion bash)
  source <(docbrowse completion zsh)
  docbrowse completion fish | source`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(out)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			default:
				return rootCmd.GenPowerShellCompletion(out)
			}
		},
	}
	rootCmd.AddCommand(completionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	cancelFunc()

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newTransferCmd("mv"))
	rootCmd.AddCommand(newTransferCmd("cp"))
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newShellCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewLogger(logging.Options{Console: os.Stderr})
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
