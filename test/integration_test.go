package test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/tenantsql"
	"github.com/pthm/tenantsql/test/testutil"
)

// tenantData loads two tenants with distinct row counts:
// tenant 1 has 3 accounts with 2 orders each, tenant 2 has 5 accounts with
// 4 orders each.
func tenantData(t *testing.T) *sql.DB {
	t.Helper()

	db := testutil.DB(t)
	f := testutil.NewFixtures(context.Background(), db)

	for _, d := range []struct {
		tenant   int64
		accounts int
		orders   int
	}{
		{1, 3, 2},
		{2, 5, 4},
	} {
		ids, err := f.CreateAccounts(d.tenant, d.accounts)
		require.NoError(t, err)
		_, err = f.CreateOrders(d.tenant, ids, d.orders)
		require.NoError(t, err)
	}

	_, err := f.CreateNotes("acme", "first", "second")
	require.NoError(t, err)
	_, err = f.CreateNotes("globex", "third")
	require.NoError(t, err)

	return db
}

func queryInt(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query).Scan(&n), query)
	return n
}

func TestRewrite_Isolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := tenantData(t)
	rw := tenantsql.NewRewriter(tenantsql.WithSharedTables("public.countries"))

	tests := []struct {
		name  string
		sql   string
		want1 int
		want2 int
	}{
		{
			name:  "single table",
			sql:   "SELECT COUNT(*) FROM crm.accounts",
			want1: 3,
			want2: 5,
		},
		{
			name:  "join",
			sql:   "SELECT COUNT(*) FROM crm.accounts a JOIN crm.orders o ON o.account_id = a.id",
			want1: 6,
			want2: 20,
		},
		{
			name:  "cross join without condition",
			sql:   "SELECT COUNT(*) FROM crm.accounts, crm.orders",
			want1: 3 * 6,
			want2: 5 * 20,
		},
		{
			name:  "scalar subquery",
			sql:   "SELECT (SELECT COUNT(*) FROM crm.orders)",
			want1: 6,
			want2: 20,
		},
		{
			name:  "correlated EXISTS",
			sql:   "SELECT COUNT(*) FROM crm.accounts a WHERE EXISTS (SELECT 1 FROM crm.orders o WHERE o.account_id = a.id AND o.total >= 200)",
			want1: 0,
			want2: 5,
		},
		{
			name:  "CTE",
			sql:   "WITH big AS (SELECT * FROM crm.orders WHERE total >= 100) SELECT COUNT(*) FROM big",
			want1: 3,
			want2: 15,
		},
		{
			name:  "view",
			sql:   "SELECT COUNT(*) FROM crm.large_orders",
			want1: 3,
			want2: 15,
		},
		{
			name:  "union",
			sql:   "SELECT COUNT(*) FROM (SELECT id FROM crm.accounts UNION ALL SELECT id FROM crm.orders) u",
			want1: 9,
			want2: 25,
		},
		{
			name:  "shared table join",
			sql:   "SELECT COUNT(*) FROM crm.accounts a JOIN public.countries c ON c.code = a.country",
			want1: 3,
			want2: 5,
		},
		{
			name:  "IN subquery",
			sql:   "SELECT COUNT(*) FROM crm.accounts a WHERE a.country IN (SELECT code FROM crm.accounts)",
			want1: 3,
			want2: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for tenant, want := range map[int64]int{1: tt.want1, 2: tt.want2, 3: 0} {
				out, err := rw.Rewrite(tt.sql, tenantsql.TenantInt(tenant))
				require.NoError(t, err)
				assert.Equal(t, want, queryInt(t, db, out), "tenant %d: %s", tenant, out)
			}
		})
	}

	// Without the rewrite every tenant's rows are visible.
	assert.Equal(t, 8, queryInt(t, db, "SELECT COUNT(*) FROM crm.accounts"))
}

func TestRewrite_StringTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := tenantData(t)
	rw := tenantsql.NewRewriter()

	out, err := rw.Rewrite("SELECT COUNT(*) FROM crm.notes", tenantsql.TenantString("acme"))
	require.NoError(t, err)
	assert.Equal(t, 2, queryInt(t, db, out))

	out, err = rw.Rewrite("SELECT COUNT(*) FROM crm.notes", tenantsql.TenantString("initech"))
	require.NoError(t, err)
	assert.Equal(t, 0, queryInt(t, db, out))
}

func TestRewrite_KeepsColumnsAndAliases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := tenantData(t)
	rw := tenantsql.NewRewriter()

	out, err := rw.Rewrite(`
		SELECT accounts.name, SUM(o.total) AS spent
		FROM crm.accounts
		JOIN crm.orders o ON o.account_id = accounts.id
		GROUP BY accounts.name
		ORDER BY accounts.name`, tenantsql.TenantInt(1))
	require.NoError(t, err)

	rows, err := db.QueryContext(context.Background(), out)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			name  string
			spent float64
		)
		require.NoError(t, rows.Scan(&name, &spent))
		names = append(names, name)
		assert.Equal(t, 150.0, spent)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"account_1_0", "account_1_1", "account_1_2"}, names)
}
