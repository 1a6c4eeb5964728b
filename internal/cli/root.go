// Package cli provides the dirsearch command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/spf13/cobra"

	"github.com/isometry/dirsearch/internal/config"
	"github.com/isometry/dirsearch/internal/ldap"
	"github.com/isometry/dirsearch/internal/query"
	"github.com/isometry/dirsearch/internal/table"
	"github.com/isometry/dirsearch/internal/tui"
)

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Directories is what the commands need from the directory layer.
// *ldap.Directories implements it.
type Directories interface {
	query.Searcher
	Check(ctx context.Context) map[table.DirectoryID]error
	Stats() map[table.DirectoryID]ldap.PoolStats
	Close() error
}

// DirectoriesFactory opens the directories described by cfg.
type DirectoriesFactory func(ctx context.Context, cfg *config.Config) (Directories, error)

func openDirectories(ctx context.Context, cfg *config.Config) (Directories, error) {
	configs, err := cfg.DirectoryConfigs()
	if err != nil {
		return nil, err
	}
	dirs, err := ldap.NewDirectories(ctx, configs)
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

type rootOptions struct {
	configPath     string
	envFile        string
	openDirs       DirectoriesFactory
	runInteractive func(ctx context.Context, sub tui.Submitter, opts tui.Options) error

	cfg *config.Config
}

// Option customizes the root command.
type Option func(*rootOptions)

// WithDirectories replaces the function that opens the directories.
func WithDirectories(f DirectoriesFactory) Option {
	return func(o *rootOptions) {
		o.openDirs = f
	}
}

func withInteractive(f func(ctx context.Context, sub tui.Submitter, opts tui.Options) error) Option {
	return func(o *rootOptions) {
		o.runInteractive = f
	}
}

// NewRootCmd creates the root command. Without a subcommand it starts the
// interactive search screen.
func NewRootCmd(opts ...Option) *cobra.Command {
	o := &rootOptions{
		openDirs:       openDirectories,
		runInteractive: tui.Run,
	}
	for _, opt := range opts {
		opt(o)
	}

	rootCmd := &cobra.Command{
		Use:   "dirsearch",
		Short: "Search an LDAP directory and Active Directory side by side",
		Long: `dirsearch searches an OpenLDAP-style directory and an Active Directory for
users as you type, and shows one table per directory.

Directories and display settings are read from a TOML file (./conf.toml by
default). Bind credentials may come from an env file (./settings.env) or the
DIRSEARCH_LDAP_USERNAME, DIRSEARCH_LDAP_PASSWORD, DIRSEARCH_AD_USERNAME and
DIRSEARCH_AD_PASSWORD environment variables.

Set DIRSEARCH_LOG to trace, debug, info, warn or error to log to stderr, and
DIRSEARCH_LOG_<SUBSYSTEM> (LDAP, POOL, KERBEROS, QUERY, UI) to override the
level of one subsystem.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			required := cmd.Flags().Changed("env-file")
			cfg, err := config.Load(o.configPath, o.envFile, required)
			if err != nil {
				return err
			}
			o.cfg = cfg

			cmd.SetContext(withLogging(cmd.Context()))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, o)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&o.envFile, "env-file", config.DefaultEnvFile, "Env file with bind credentials")

	rootCmd.AddCommand(newUICommand(o))
	rootCmd.AddCommand(newSearchCommand(o))
	rootCmd.AddCommand(newCheckCommand(o))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// session is one opened set of directories and the orchestrator in front of
// them.
type session struct {
	ctx          context.Context
	dirs         Directories
	orchestrator *query.Orchestrator
}

func (o *rootOptions) openSession(ctx context.Context) (*session, error) {
	dirs, err := o.openDirs(ctx, o.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening directories: %w", err)
	}
	return &session{
		ctx:          ctx,
		dirs:         dirs,
		orchestrator: query.New(ctx, dirs, o.cfg.QueryConfig()),
	}, nil
}

// Close stops the orchestrator before closing the directories it searches.
func (s *session) Close() error {
	s.orchestrator.Close()

	stats := s.orchestrator.Stats()
	tflog.Debug(s.ctx, "Session closed", map[string]any{
		"submitted": stats.Submitted,
		"searches":  stats.Searches,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"stale":     stats.Stale,
	})
	return s.dirs.Close()
}

func displayOptions(d config.Display) tui.Options {
	return tui.Options{
		SkipLastField:   d.SkipLastField,
		Zebra:           d.Zebra,
		Upscale:         d.Upscale,
		MinFilterLength: d.MinFilterLength,
	}
}
