package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/pthm/tenantsql/internal/cli"
	"github.com/pthm/tenantsql/internal/doctor"
)

var (
	doctorDB      string
	doctorQueries string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long: `Check a query workload against the rewriter and the database.

Every statement of the queries file must be accepted by the rewriter. With a
database connection, every table those statements read must exist and carry
the tenant column, unless it is listed in shared_tables.`,
	Example: `  # Check a workload without a database
  tenantsql doctor --queries reports.sql

  # Check tables against a live database
  tenantsql doctor --queries reports.sql --db postgres://localhost/mydb --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		queries := resolveString(doctorQueries, cfg.Doctor.Queries)
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		dsn, err := resolveOptionalDSN(doctorDB)
		if err != nil {
			return err
		}

		return runDoctor(cmd, dsn, queries, verboseFlag)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorQueries, "queries", "", "file of semicolon separated statements")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

// resolveOptionalDSN gets the database DSN from flag or config. It returns
// an empty DSN when neither names a database.
func resolveOptionalDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}
	if cfg.Database.URL == "" && cfg.Database.Host == "" {
		return "", nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	return dsn, nil
}

func runDoctor(cmd *cobra.Command, dsn, queries string, verboseFlag bool) error {
	var db *sql.DB
	if dsn != "" {
		var err error
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return cli.DBConnectError("connecting to database", err)
		}
		defer func() { _ = db.Close() }()
	}

	ctx := context.Background()

	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "tenantsql doctor - Health Check")
	}

	d := doctor.New(db, newRewriter(), doctor.Options{
		QueriesPath:  queries,
		SharedTables: cfg.SharedTables,
	})
	report, err := d.Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(cmd.OutOrStdout(), verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}
