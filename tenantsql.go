// Package tenantsql scopes PostgreSQL queries to a single tenant by rewriting
// them before they reach the database.
//
// Every reference to a physical table in a FROM position is replaced by a
// filtered subquery that keeps the reference's alias:
//
//	SELECT a.id FROM crm.accounts a JOIN crm.orders o ON o.account_id = a.id
//
// becomes, for tenant 7,
//
//	SELECT a.id
//	FROM (SELECT * FROM crm.accounts WHERE tenant_id = 7) a
//	JOIN (SELECT * FROM crm.orders WHERE tenant_id = 7) o ON o.account_id = a.id
//
// Joins, projections, predicates and nesting are otherwise unchanged. Names
// bound by WITH are not filtered again where they are used; their bodies are
// filtered at the definition.
//
// # Basic Usage
//
//	rw := tenantsql.NewRewriter()
//	sql, err := rw.Rewrite("SELECT * FROM orders", tenantsql.TenantInt(7))
//
// The rewrite runs once, at the boundary where untrusted SQL enters the
// application. Rewriting already rewritten SQL wraps the tables again.
//
// # Rejected Statements
//
// Statements the rewriter cannot scope are rejected, never passed through:
//
//   - ErrSyntax: the input is not valid PostgreSQL.
//   - ErrUnsupportedConstruct: anything other than a single SELECT, or a
//     construct the rewriter does not know how to descend into.
//   - ErrMalformedReference: a table reference without a usable name.
//
// # Caching
//
// Rewrites are deterministic, so repeated statements can be served from a
// cache:
//
//	cache := tenantsql.NewCache(tenantsql.WithTTL(time.Minute))
//	rw := tenantsql.NewRewriter(tenantsql.WithCache(cache))
//
// # Tenant in Context
//
// Middleware can attach the tenant to a request context and handlers call
// RewriteContext:
//
//	ctx = tenantsql.WithTenant(ctx, tenantsql.TenantString("acme"))
//	sql, err := rw.RewriteContext(ctx, query)
package tenantsql

import (
	"strconv"

	"github.com/pthm/tenantsql/internal/rewrite"
)

// Table is the qualified name of a physical table.
type Table = rewrite.Table

// Tenant identifies the data partition a statement is scoped to. It is
// either an integer or a string and is placed verbatim in the filter
// predicate: integers as numeric literals, strings as quoted literals.
//
// Tenants are value types and safe to copy and compare.
type Tenant struct {
	id      string
	num     int64
	numeric bool
}

// TenantInt returns an integer tenant.
func TenantInt(id int64) Tenant {
	return Tenant{id: strconv.FormatInt(id, 10), num: id, numeric: true}
}

// TenantString returns a string tenant.
func TenantString(id string) Tenant {
	return Tenant{id: id}
}

// ParseTenant interprets s as a tenant. Canonical decimal integers (no sign
// prefix other than "-", no leading zeros) become integer tenants; anything
// else is a string tenant. An empty s returns ErrNoTenant.
func ParseTenant(s string) (Tenant, error) {
	if s == "" {
		return Tenant{}, ErrNoTenant
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return TenantInt(n), nil
	}
	return TenantString(s), nil
}

// String returns the tenant id as text.
func (t Tenant) String() string {
	return t.id
}

// IsZero reports whether t is the zero Tenant, which scopes nothing.
func (t Tenant) IsZero() bool {
	return !t.numeric && t.id == ""
}

// Numeric reports whether t is an integer tenant.
func (t Tenant) Numeric() bool {
	return t.numeric
}

// TenantID returns the tenant itself, implementing TenantLike.
func (t Tenant) TenantID() Tenant {
	return t
}

func (t Tenant) literal() rewrite.Literal {
	if t.numeric {
		return rewrite.IntLiteral(t.num)
	}
	return rewrite.StringLiteral(t.id)
}

// TenantLike is implemented by domain types that know their tenant, such as
// an authenticated session or an API key record.
//
// Example:
//
//	type Session struct { UserID string; OrgID int64 }
//	func (s Session) TenantID() tenantsql.Tenant { return tenantsql.TenantInt(s.OrgID) }
type TenantLike interface {
	TenantID() Tenant
}
