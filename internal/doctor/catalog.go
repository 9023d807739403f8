package doctor

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/sm"

	"github.com/pthm/tenantsql"
)

// PostgreSQL error codes the doctor reports instead of failing.
const (
	pgInsufficientPrivilege = "42501"
)

// TableInfo describes a table as found in the catalogue.
type TableInfo struct {
	Exists    bool
	RelKind   string // 'r' = table, 'p' = partitioned, 'v' = view, 'm' = materialized view, 'f' = foreign
	Regclass  string
	HasColumn bool
}

// KindName returns a human-readable relation kind.
func (i *TableInfo) KindName() string {
	switch i.RelKind {
	case "r":
		return "table"
	case "p":
		return "partitioned table"
	case "v":
		return "view"
	case "m":
		return "materialized view"
	case "f":
		return "foreign table"
	default:
		return "relation"
	}
}

// regclassName quotes t the way to_regclass expects. Unqualified names
// resolve through the search_path, as they do when the query runs.
func regclassName(t tenantsql.Table) string {
	var id pgx.Identifier
	if t.Catalog != "" {
		id = append(id, t.Catalog)
	}
	if t.Schema != "" {
		id = append(id, t.Schema)
	}
	id = append(id, t.Name)
	return id.Sanitize()
}

// tableQuery builds the catalogue lookup for one table:
//
//	SELECT c.relkind::text, c.oid::regclass::text, a.attname
//	FROM pg_catalog.pg_class AS c
//	LEFT JOIN pg_catalog.pg_attribute AS a ON ...
//	WHERE c.oid = to_regclass($1)
func tableQuery(t tenantsql.Table, column string) bob.Query {
	return psql.Select(
		sm.Columns(
			psql.Raw("c.relkind::text"),
			psql.Raw("c.oid::regclass::text"),
			psql.Quote("a", "attname"),
		),
		sm.From("pg_catalog.pg_class").As("c"),
		sm.LeftJoin("pg_catalog.pg_attribute").As("a").On(
			psql.Quote("a", "attrelid").EQ(psql.Quote("c", "oid")),
			psql.Quote("a", "attname").EQ(psql.Arg(column)),
			psql.Quote("a", "attnum").GT(psql.Raw("0")),
			psql.Raw("NOT a.attisdropped"),
		),
		sm.Where(psql.Quote("c", "oid").EQ(psql.Raw("to_regclass(?)", regclassName(t)))),
	)
}

func lookupTable(ctx context.Context, db *sql.DB, t tenantsql.Table, column string) (*TableInfo, error) {
	query, args, err := bob.Build(ctx, tableQuery(t, column))
	if err != nil {
		return nil, err
	}

	var (
		relkind  string
		regclass string
		attname  sql.NullString
	)
	err = db.QueryRowContext(ctx, query, args...).Scan(&relkind, &regclass, &attname)
	if errors.Is(err, sql.ErrNoRows) {
		return &TableInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	return &TableInfo{
		Exists:    true,
		RelKind:   relkind,
		Regclass:  regclass,
		HasColumn: attname.Valid,
	}, nil
}

// sqlState extracts the SQLSTATE code from a PostgreSQL error.
// Works with multiple drivers via interface detection:
//   - pgx/pgconn: SQLState() string
//   - lib/pq: Code field (via error interface)
//
// Returns empty string if the error doesn't contain a SQLSTATE.
func sqlState(err error) string {
	type sqlStateErr interface{ SQLState() string }
	var se sqlStateErr
	if errors.As(err, &se) {
		return se.SQLState()
	}

	type codeErr interface{ Code() string }
	var ce codeErr
	if errors.As(err, &ce) {
		return ce.Code()
	}

	// Fallback: "... (SQLSTATE 42501)" or "SQLSTATE: 42501"
	errStr := err.Error()
	for _, prefix := range []string{"SQLSTATE ", "SQLSTATE: "} {
		if idx := strings.Index(errStr, prefix); idx >= 0 {
			start := idx + len(prefix)
			if start+5 <= len(errStr) {
				return errStr[start : start+5]
			}
		}
	}

	return ""
}
