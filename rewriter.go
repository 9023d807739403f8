package tenantsql

import (
	"context"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"go.uber.org/zap"

	"github.com/pthm/tenantsql/internal/rewrite"
	"github.com/pthm/tenantsql/pkg/parser"
)

// DefaultTenantColumn is the column the filter predicate compares against
// unless WithTenantColumn says otherwise.
const DefaultTenantColumn = "tenant_id"

// Rewriter scopes SQL statements to a tenant.
//
// A Rewriter is immutable after construction and safe for concurrent use.
// Each call parses its own tree; calls share nothing but the optional cache.
type Rewriter struct {
	column string
	shared map[string]struct{}
	cache  Cache
	logger *zap.Logger
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithTenantColumn sets the column compared against the tenant in every
// filtered subquery. An empty name keeps DefaultTenantColumn.
func WithTenantColumn(column string) Option {
	return func(r *Rewriter) {
		if column != "" {
			r.column = column
		}
	}
}

// WithSharedTables exempts tables from filtering. Use it for global
// reference data that has no tenant column, e.g. "public.countries".
//
// Names are matched exactly against the reference as written in the query:
// "countries" and "public.countries" are different entries. Every exempt
// table is readable by every tenant, so keep the list short and explicit.
func WithSharedTables(tables ...string) Option {
	return func(r *Rewriter) {
		for _, t := range tables {
			r.shared[t] = struct{}{}
		}
	}
}

// WithCache enables caching of rewrite results. Rejections are cached too.
func WithCache(c Cache) Option {
	return func(r *Rewriter) {
		r.cache = c
	}
}

// WithLogger sets the logger used to report rejected statements.
// The default logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rewriter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRewriter creates a Rewriter filtering on DefaultTenantColumn.
func NewRewriter(opts ...Option) *Rewriter {
	r := &Rewriter{
		column: DefaultTenantColumn,
		shared: make(map[string]struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TenantColumn returns the column the filter predicate compares against.
func (r *Rewriter) TenantColumn() string {
	return r.column
}

// Rewrite returns sql with every physical table replaced by a subquery
// filtered to tenant.
//
// Example:
//
//	out, err := rw.Rewrite("SELECT * FROM dataset.customers", tenantsql.TenantInt(1))
//	// SELECT * FROM (SELECT * FROM dataset.customers WHERE tenant_id = 1) customers
//
// The input must hold exactly one SELECT statement. Output formatting is the
// PostgreSQL deparser's canonical form, not the input's.
func (r *Rewriter) Rewrite(sql string, tenant TenantLike) (string, error) {
	if tenant == nil {
		return "", ErrNoTenant
	}
	t := tenant.TenantID()
	if t.IsZero() {
		return "", ErrNoTenant
	}

	if r.cache != nil {
		if out, cachedErr, found := r.cache.Get(sql, t); found {
			return out, cachedErr
		}
	}

	out, err := r.rewrite(sql, t)
	if err != nil {
		r.reject(sql, t, err)
	}

	if r.cache != nil {
		r.cache.Set(sql, t, out, err)
	}

	return out, err
}

// RewriteContext is Rewrite with the tenant taken from ctx (see WithTenant).
// It returns ErrNoTenant when ctx carries none.
func (r *Rewriter) RewriteContext(ctx context.Context, sql string) (string, error) {
	t, ok := TenantFromContext(ctx)
	if !ok {
		return "", ErrNoTenant
	}
	return r.Rewrite(sql, t)
}

// MustRewrite is like Rewrite but panics if the statement is rejected.
// Use it for statements fixed at compile time, never for caller input.
func (r *Rewriter) MustRewrite(sql string, tenant TenantLike) string {
	out, err := r.Rewrite(sql, tenant)
	if err != nil {
		panic(fmt.Sprintf("tenantsql.MustRewrite: %v", err))
	}
	return out
}

// Tables lists the physical tables sql reads from, in order of first
// appearance. Names bound by WITH are not tables and are omitted; shared
// tables are included.
//
// Statements Rewrite would reject are rejected here with the same error.
func (r *Rewriter) Tables(sql string) ([]Table, error) {
	_, stmt, err := parseOne(sql)
	if err != nil {
		return nil, err
	}

	var refs []Table
	if _, err := rewrite.Walk(stmt, rewrite.Collect(&refs)); err != nil {
		return nil, err
	}

	seen := make(map[Table]struct{}, len(refs))
	tables := make([]Table, 0, len(refs))
	for _, t := range refs {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tables = append(tables, t)
	}
	return tables, nil
}

func (r *Rewriter) rewrite(sql string, t Tenant) (string, error) {
	tree, stmt, err := parseOne(sql)
	if err != nil {
		return "", err
	}

	out, err := rewrite.Walk(stmt, r.visitor(t))
	if err != nil {
		return "", err
	}
	return tree.Render(out)
}

// visitor returns the filter for t, skipping shared tables.
func (r *Rewriter) visitor(t Tenant) rewrite.Visitor {
	filter := rewrite.Filter(rewrite.Predicate{Column: r.column, Value: t.literal()})
	if len(r.shared) == 0 {
		return filter
	}
	return func(ref rewrite.Reference) (*pg_query.Node, error) {
		if _, ok := r.shared[ref.Table.String()]; ok {
			return nil, nil
		}
		return filter(ref)
	}
}

// reject logs a refused statement. Syntax errors are routine; structural
// rejections may indicate an attempt to reach unfiltered data.
func (r *Rewriter) reject(sql string, t Tenant, err error) {
	fields := []zap.Field{
		zap.String("tenant", t.String()),
		zap.String("sql", sql),
		zap.Error(err),
	}
	if IsSyntaxErr(err) {
		r.logger.Debug("statement rejected", fields...)
		return
	}
	r.logger.Warn("statement rejected", fields...)
}

// parseOne parses sql and returns its only statement.
func parseOne(sql string) (*parser.Tree, *pg_query.Node, error) {
	tree, err := parser.Parse(sql)
	if err != nil {
		return nil, nil, err
	}
	if n := tree.Len(); n != 1 {
		return nil, nil, &rewrite.Error{
			Kind:     ErrUnsupportedConstruct,
			Position: -1,
			Detail:   fmt.Sprintf("expected exactly one statement, got %d", n),
		}
	}
	stmt, err := tree.Statement()
	if err != nil {
		return nil, nil, err
	}
	return tree, stmt, nil
}
