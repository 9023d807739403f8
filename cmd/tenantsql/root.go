package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pthm/tenantsql"
	"github.com/pthm/tenantsql/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zap.NewNop()

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "tenantsql",
	Short: "Tenant isolation for SQL statements",
	Long: `tenantsql - Tenant isolation for SQL statements

tenantsql rewrites a SELECT statement so that every table it reads from is
replaced by a subquery filtered to one tenant:

  SELECT * FROM crm.accounts
  SELECT * FROM (SELECT * FROM crm.accounts WHERE tenant_id = 7) AS accounts

Statements that cannot be scoped safely are rejected, never passed through.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		logCfg := cfg.Log
		switch {
		case quiet:
			logCfg.Level = "error"
		case verbose == 1:
			logCfg.Level = "info"
		case verbose > 1:
			logCfg.Level = "debug"
		}
		logger, err = cli.NewLogger(logCfg)
		if err != nil {
			return cli.ConfigError("configuring logger", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupQuery   = "query"
	groupService = "service"
	groupUtility = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover tenantsql.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupQuery, Title: "Query:"},
		&cobra.Group{ID: groupService, Title: "Service:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	// Query commands
	rewriteCmd.GroupID = groupQuery
	tablesCmd.GroupID = groupQuery
	doctorCmd.GroupID = groupQuery
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(doctorCmd)

	// Service commands
	serveCmd.GroupID = groupService
	rootCmd.AddCommand(serveCmd)

	// Utility commands
	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// newRewriter builds the rewriter described by the loaded configuration.
func newRewriter() *tenantsql.Rewriter {
	return tenantsql.NewRewriter(cfg.RewriterOptions(logger)...)
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
// Used for boolean flags where any true value should win.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
