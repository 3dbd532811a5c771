package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/gateway"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/models"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect docbrowse configuration",
		Long: `Configuration commands for docbrowse.

Commands:
  show  - Display the effective configuration
  test  - Connect to the document store and list the root folder
  path  - Show the configuration file path`,
	}

	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())
	return configCmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration merged from:
  1. Configuration file (docbrowse.yaml)
  2. .env file (--env-file, or ./.env when present)
  3. Environment variables (DOCBROWSE_*)
  4. Command-line flags (--backend, --no-cache)

Priority: flags > environment > .env > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

// secret never shows any part of a credential
func secret(v string) string {
	if v == "" {
		return "<not set>"
	}
	return fmt.Sprintf("<set (%d chars)>", len(v))
}

func orNone(v string) string {
	if v == "" {
		return "<not set>"
	}
	return v
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Backend: %s\n", cfg.Backend)
	fmt.Fprintln(w)

	switch cfg.Backend {
	case config.BackendREST:
		fmt.Fprintln(w, "REST Settings:")
		fmt.Fprintf(w, "  Base URL:   %s\n", orNone(cfg.REST.BaseURL))
		fmt.Fprintf(w, "  Site URL:   %s\n", orNone(cfg.REST.SiteURL))
		fmt.Fprintf(w, "  Token:      %s\n", secret(cfg.REST.Token))
		fmt.Fprintf(w, "  Token File: %s\n", orNone(cfg.REST.TokenFile))
		fmt.Fprintf(w, "  Timeout:    %s\n", cfg.REST.Timeout)
		fmt.Fprintf(w, "  Retries:    %d\n", cfg.REST.RetryMax)
	case config.BackendS3:
		fmt.Fprintln(w, "S3 Settings:")
		fmt.Fprintf(w, "  Bucket:     %s\n", orNone(cfg.S3.Bucket))
		fmt.Fprintf(w, "  Region:     %s\n", orNone(cfg.S3.Region))
		fmt.Fprintf(w, "  Prefix:     %s\n", orNone(cfg.S3.Prefix))
		fmt.Fprintf(w, "  Endpoint:   %s\n", orNone(cfg.S3.Endpoint))
		fmt.Fprintf(w, "  Access Key: %s\n", secret(cfg.S3.AccessKeyID))
		fmt.Fprintf(w, "  Secret Key: %s\n", secret(cfg.S3.SecretAccessKey))
	case config.BackendAzure:
		fmt.Fprintln(w, "Azure Settings:")
		fmt.Fprintf(w, "  Account URL: %s\n", orNone(cfg.Azure.AccountURL))
		fmt.Fprintf(w, "  Container:   %s\n", orNone(cfg.Azure.Container))
		fmt.Fprintf(w, "  Prefix:      %s\n", orNone(cfg.Azure.Prefix))
		fmt.Fprintf(w, "  SAS Token:   %s\n", secret(cfg.Azure.SASToken))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.Proxy.Host)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.Proxy.Port)
	}
	if cfg.Proxy.NoProxy != "" {
		fmt.Fprintf(w, "  No Proxy:   %s\n", cfg.Proxy.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Cache Settings:")
	if cfg.Cache.Disabled {
		fmt.Fprintln(w, "  Disabled")
	} else {
		fmt.Fprintf(w, "  Path:           %s\n", cfg.Cache.Path)
		fmt.Fprintf(w, "  Purge Interval: %s\n", cfg.Cache.PurgeInterval)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "  File:  %s\n", orNone(cfg.Log.File))
	if cfg.Metrics.Listen != "" {
		fmt.Fprintf(w, "  Metrics: %s\n", cfg.Metrics.Listen)
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the document store",
		Long: `Validate the configuration, connect to the document store and list the
root folder without using the cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				return testConnection(ctx, out, s)
			})
		},
	}
}

func testConnection(ctx context.Context, w io.Writer, s *session) error {
	if dbhttp.NeedsProxyPassword(s.cfg.Proxy) {
		fmt.Fprintf(w, "! Proxy mode %s needs a password for user %s; set proxy.password\n", s.cfg.Proxy.Mode, s.cfg.Proxy.User)
	}

	start := time.Now()
	listing, err := s.gw.List(ctx, models.RootPath, true)
	if err != nil {
		fmt.Fprintf(w, "✗ Connection failed: %v\n", err)
		return err
	}
	switch {
	case !listing.Configured:
		fmt.Fprintln(w, "✗ The document store reports it is not configured")
	case listing.NeedsAuth:
		fmt.Fprintln(w, "✗ Sign-in required: the upstream session is missing or expired")
	default:
		fmt.Fprintf(w, "✓ Connected to %s backend (%d folders, %d files at root, %s)\n",
			s.cfg.Backend, len(listing.Folders), len(listing.Files), time.Since(start).Round(time.Millisecond))
		if listing.SiteURL != "" {
			fmt.Fprintf(w, "  Site: %s\n", listing.SiteURL)
		}
	}
	printThrottle(w, s.gw)
	return nil
}

// throttler is implemented by gateways that pace their requests
type throttler interface {
	Throttle() (available float64, cooldown time.Duration)
}

func printThrottle(w io.Writer, gw gateway.Gateway) {
	for {
		if t, ok := gw.(throttler); ok {
			available, cooldown := t.Throttle()
			fmt.Fprintf(w, "  Rate limit: %.0f requests available\n", available)
			if cooldown > 0 {
				fmt.Fprintf(w, "  Throttled by upstream, resuming in %s\n", cooldown.Round(time.Second))
			}
			return
		}
		u, ok := gw.(interface{ Unwrap() gateway.Gateway })
		if !ok {
			return
		}
		gw = u.Unwrap()
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
				fmt.Fprintln(w, "Default configuration path:")
			} else {
				fmt.Fprintln(w, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(w, "  %s\n\n", configPath)

			if info, err := os.Stat(configPath); err == nil {
				fmt.Fprintln(w, "Status: ✓ File exists")
				fmt.Fprintf(w, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(w, "Status: File does not exist")
			}
			return nil
		},
	}
}
