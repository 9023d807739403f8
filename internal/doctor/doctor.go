// Package doctor checks that a set of queries can be scoped to a tenant
// against a live database.
//
// For every statement in a query file the doctor verifies that the rewriter
// accepts it, then looks up each table the statements read from in the
// PostgreSQL catalogue: the table must exist and carry the tenant column,
// unless it is listed as shared.
//
// Example usage:
//
//	d := doctor.New(db, rw, doctor.Options{QueriesPath: "queries.sql"})
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pthm/tenantsql"
	"github.com/pthm/tenantsql/pkg/parser"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Queries", "Tables").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Options configures a Doctor.
type Options struct {
	// QueriesPath is a file of semicolon separated statements.
	QueriesPath string

	// SharedTables mirrors the rewriter's shared table list. Shared tables
	// are not required to carry the tenant column.
	SharedTables []string
}

// Doctor checks queries and the tables they read from.
type Doctor struct {
	db       *sql.DB
	rewriter *tenantsql.Rewriter
	opts     Options
	shared   map[string]bool

	// Populated during Run.
	tables []tenantsql.Table
}

// New creates a new Doctor instance. db may be nil, in which case only the
// query checks run.
func New(db *sql.DB, rw *tenantsql.Rewriter, opts Options) *Doctor {
	shared := make(map[string]bool, len(opts.SharedTables))
	for _, t := range opts.SharedTables {
		shared[t] = true
	}
	return &Doctor{
		db:       db,
		rewriter: rw,
		opts:     opts,
		shared:   shared,
	}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkQueries(report)

	if !d.checkDatabase(ctx, report) {
		return report, nil
	}
	if err := d.checkTables(ctx, report); err != nil {
		return nil, fmt.Errorf("checking tables: %w", err)
	}

	return report, nil
}

// checkQueries runs every statement of the query file through the rewriter
// and records the tables they read from.
func (d *Doctor) checkQueries(report *Report) {
	if d.opts.QueriesPath == "" {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "file",
			Status:   StatusWarn,
			Message:  "No query file configured",
			FixHint:  "Pass --queries or set doctor.queries in tenantsql.yaml",
		})
		return
	}

	content, err := os.ReadFile(d.opts.QueriesPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "file",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Cannot read %s", d.opts.QueriesPath),
			Details:  err.Error(),
		})
		return
	}

	stmts, err := parser.Split(string(content))
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "syntax",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%s is not valid SQL", d.opts.QueriesPath),
			Details:  err.Error(),
			FixHint:  "Fix the syntax error; the rewriter accepts PostgreSQL syntax only",
		})
		return
	}

	seen := make(map[tenantsql.Table]bool)
	var accepted int
	for i, stmt := range stmts {
		tables, err := d.rewriter.Tables(stmt)
		if err != nil {
			report.AddCheck(CheckResult{
				Category: "Queries",
				Name:     fmt.Sprintf("statement-%d", i+1),
				Status:   StatusFail,
				Message:  fmt.Sprintf("Statement %d is rejected: %v", i+1, err),
				Details:  stmt,
				FixHint:  rejectionHint(err),
			})
			continue
		}
		accepted++
		for _, t := range tables {
			if !seen[t] {
				seen[t] = true
				d.tables = append(d.tables, t)
			}
		}
	}

	if accepted > 0 {
		report.AddCheck(CheckResult{
			Category: "Queries",
			Name:     "statements",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d of %d statements can be scoped to a tenant", accepted, len(stmts)),
			Details:  "Tables: " + joinTables(d.tables),
		})
	}
}

func rejectionHint(err error) string {
	switch {
	case tenantsql.IsUnsupportedConstructErr(err):
		return "Only single SELECT statements without data-modifying CTEs, SELECT INTO or TABLESAMPLE can be scoped"
	case tenantsql.IsMalformedReferenceErr(err):
		return "Check the table names in the statement"
	default:
		return ""
	}
}

// checkDatabase reports whether catalogue checks can run.
func (d *Doctor) checkDatabase(ctx context.Context, report *Report) bool {
	if d.db == nil {
		report.AddCheck(CheckResult{
			Category: "Database",
			Name:     "connection",
			Status:   StatusWarn,
			Message:  "No database configured, catalogue checks skipped",
			FixHint:  "Pass --db or set database.url in tenantsql.yaml",
		})
		return false
	}

	if err := d.db.PingContext(ctx); err != nil {
		report.AddCheck(CheckResult{
			Category: "Database",
			Name:     "connection",
			Status:   StatusFail,
			Message:  "Cannot connect to database",
			Details:  err.Error(),
		})
		return false
	}

	report.AddCheck(CheckResult{
		Category: "Database",
		Name:     "connection",
		Status:   StatusPass,
		Message:  "Connected",
	})
	return true
}

// checkTables looks up every referenced table in the catalogue.
func (d *Doctor) checkTables(ctx context.Context, report *Report) error {
	column := d.rewriter.TenantColumn()

	for _, t := range d.tables {
		info, err := lookupTable(ctx, d.db, t, column)
		if err != nil {
			if sqlState(err) == pgInsufficientPrivilege {
				report.AddCheck(CheckResult{
					Category: "Tables",
					Name:     t.String(),
					Status:   StatusWarn,
					Message:  fmt.Sprintf("Cannot inspect %s", t),
					Details:  err.Error(),
					FixHint:  "Run doctor as a role that can read pg_catalog",
				})
				continue
			}
			return fmt.Errorf("looking up %s: %w", t, err)
		}
		report.AddCheck(d.tableResult(t, info, column))
	}

	return nil
}

func (d *Doctor) tableResult(t tenantsql.Table, info *TableInfo, column string) CheckResult {
	name := t.String()
	result := CheckResult{Category: "Tables", Name: name}

	switch {
	case !info.Exists:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s does not exist", name)
		result.FixHint = "Create the table or fix the name in the query; the rewrite fails at execution time otherwise"

	case d.shared[name] && info.HasColumn:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is shared but has a %s column", name, column)
		result.Details = "Shared tables are not filtered: every tenant reads every row"
		result.FixHint = "Remove the table from shared_tables unless its rows are global"

	case d.shared[name]:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s is shared (%s)", name, info.KindName())

	case !info.HasColumn:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s has no %s column", name, column)
		result.FixHint = fmt.Sprintf("Add %s to the table, or list it in shared_tables if it holds global data", column)

	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s has %s (%s)", name, column, info.KindName())
	}

	if info.Exists {
		result.Details = strings.TrimSpace(result.Details + "\nRelation: " + info.Regclass)
	}
	return result
}

func joinTables(tables []tenantsql.Table) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
