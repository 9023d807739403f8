package rewrite_test

import (
	"errors"
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/pthm/tenantsql/internal/rewrite"
	"github.com/pthm/tenantsql/pkg/parser"
)

func tenantFilter(v rewrite.Literal) rewrite.Predicate {
	return rewrite.Predicate{Column: "tenant_id", Value: v}
}

// rewriteSQL parses, filters and renders one statement.
func rewriteSQL(t *testing.T, sql string, p rewrite.Predicate) (string, error) {
	t.Helper()
	tree, err := parser.Parse(sql)
	require.NoError(t, err)
	stmt, err := tree.Statement()
	require.NoError(t, err)

	out, err := rewrite.Walk(stmt, rewrite.Filter(p))
	if err != nil {
		return "", err
	}
	return tree.Render(out)
}

func normalize(t *testing.T, sql string) string {
	t.Helper()
	out, err := parser.Normalize(sql)
	require.NoError(t, err, "expected SQL must parse: %s", sql)
	return out
}

func TestWalk_Filter(t *testing.T) {
	tests := []struct {
		name   string
		tenant rewrite.Literal
		input  string
		want   string
	}{
		{
			name:   "schema qualified table",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT * FROM dataset.customers",
			want:   "SELECT * FROM (SELECT * FROM dataset.customers WHERE tenant_id = 1) AS customers",
		},
		{
			name:   "join with aliases",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT a.id FROM x.customers a JOIN x.orders b ON a.id = b.customer_id",
			want: `SELECT a.id
				FROM (SELECT * FROM x.customers WHERE tenant_id = 1) AS a
				JOIN (SELECT * FROM x.orders WHERE tenant_id = 1) AS b ON a.id = b.customer_id`,
		},
		{
			name:   "scalar subquery in target list",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT (SELECT COUNT(*) FROM table2) FROM table1",
			want: `SELECT (SELECT COUNT(*) FROM (SELECT * FROM table2 WHERE tenant_id = 1) AS table2)
				FROM (SELECT * FROM table1 WHERE tenant_id = 1) AS table1`,
		},
		{
			name:   "CTE name is not filtered again",
			tenant: rewrite.IntLiteral(5),
			input:  "WITH c AS (SELECT * FROM customers) SELECT * FROM c",
			want:   "WITH c AS (SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 5) AS customers) SELECT * FROM c",
		},
		{
			name:   "comma separated FROM list",
			tenant: rewrite.IntLiteral(3),
			input:  "SELECT * FROM customers c, orders o WHERE c.id = o.customer_id",
			want: `SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 3) AS c,
				(SELECT * FROM orders WHERE tenant_id = 3) AS o WHERE c.id = o.customer_id`,
		},
		{
			name:   "EXISTS in WHERE",
			tenant: rewrite.IntLiteral(3),
			input:  "SELECT * FROM customers c WHERE EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id)",
			want: `SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 3) AS c
				WHERE EXISTS (SELECT 1 FROM (SELECT * FROM orders WHERE tenant_id = 3) AS o WHERE o.customer_id = c.id)`,
		},
		{
			name:   "IN subquery",
			tenant: rewrite.IntLiteral(3),
			input:  "SELECT id FROM customers WHERE id IN (SELECT customer_id FROM orders)",
			want: `SELECT id FROM (SELECT * FROM customers WHERE tenant_id = 3) AS customers
				WHERE id IN (SELECT customer_id FROM (SELECT * FROM orders WHERE tenant_id = 3) AS orders)`,
		},
		{
			name:   "ANY subquery inside boolean expression",
			tenant: rewrite.IntLiteral(3),
			input:  "SELECT 1 FROM a WHERE a.x > 0 AND a.y = ANY (SELECT y FROM b)",
			want: `SELECT 1 FROM (SELECT * FROM a WHERE tenant_id = 3) AS a
				WHERE a.x > 0 AND a.y = ANY (SELECT y FROM (SELECT * FROM b WHERE tenant_id = 3) AS b)`,
		},
		{
			name:   "derived table",
			tenant: rewrite.IntLiteral(2),
			input:  "SELECT d.n FROM (SELECT count(*) AS n FROM orders) d",
			want:   "SELECT d.n FROM (SELECT count(*) AS n FROM (SELECT * FROM orders WHERE tenant_id = 2) AS orders) d",
		},
		{
			name:   "lateral derived table",
			tenant: rewrite.IntLiteral(2),
			input:  "SELECT * FROM customers c, LATERAL (SELECT * FROM orders o WHERE o.customer_id = c.id) x",
			want: `SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 2) AS c,
				LATERAL (SELECT * FROM (SELECT * FROM orders WHERE tenant_id = 2) AS o WHERE o.customer_id = c.id) x`,
		},
		{
			name:   "set operation branches",
			tenant: rewrite.IntLiteral(2),
			input:  "SELECT id FROM a UNION ALL SELECT id FROM b ORDER BY 1",
			want: `SELECT id FROM (SELECT * FROM a WHERE tenant_id = 2) AS a
				UNION ALL SELECT id FROM (SELECT * FROM b WHERE tenant_id = 2) AS b ORDER BY 1`,
		},
		{
			name:   "CTE visible in set operation branches",
			tenant: rewrite.IntLiteral(2),
			input:  "WITH c AS (SELECT id FROM a) SELECT id FROM c UNION SELECT id FROM c",
			want: `WITH c AS (SELECT id FROM (SELECT * FROM a WHERE tenant_id = 2) AS a)
				SELECT id FROM c UNION SELECT id FROM c`,
		},
		{
			name:   "CTE shadowing a physical table is filtered inside its own body",
			tenant: rewrite.IntLiteral(4),
			input:  "WITH orders AS (SELECT * FROM orders WHERE total > 10) SELECT * FROM orders",
			want: `WITH orders AS (SELECT * FROM (SELECT * FROM orders WHERE tenant_id = 4) AS orders WHERE total > 10)
				SELECT * FROM orders`,
		},
		{
			name:   "later CTE sees earlier sibling",
			tenant: rewrite.IntLiteral(4),
			input:  "WITH a AS (SELECT * FROM t), b AS (SELECT * FROM a) SELECT * FROM b",
			want: `WITH a AS (SELECT * FROM (SELECT * FROM t WHERE tenant_id = 4) AS t),
				b AS (SELECT * FROM a) SELECT * FROM b`,
		},
		{
			name:   "earlier CTE does not see later sibling",
			tenant: rewrite.IntLiteral(4),
			input:  "WITH a AS (SELECT * FROM b), b AS (SELECT 1) SELECT * FROM a",
			want: `WITH a AS (SELECT * FROM (SELECT * FROM b WHERE tenant_id = 4) AS b),
				b AS (SELECT 1) SELECT * FROM a`,
		},
		{
			name:   "recursive CTE references itself",
			tenant: rewrite.IntLiteral(4),
			input: `WITH RECURSIVE tree AS (
					SELECT id, parent_id FROM nodes WHERE parent_id IS NULL
					UNION ALL
					SELECT n.id, n.parent_id FROM nodes n JOIN tree ON n.parent_id = tree.id
				) SELECT * FROM tree`,
			want: `WITH RECURSIVE tree AS (
					SELECT id, parent_id FROM (SELECT * FROM nodes WHERE tenant_id = 4) AS nodes WHERE parent_id IS NULL
					UNION ALL
					SELECT n.id, n.parent_id FROM (SELECT * FROM nodes WHERE tenant_id = 4) AS n JOIN tree ON n.parent_id = tree.id
				) SELECT * FROM tree`,
		},
		{
			name:   "outer CTE visible in nested subquery",
			tenant: rewrite.IntLiteral(6),
			input:  "WITH c AS (SELECT * FROM t) SELECT * FROM u WHERE EXISTS (SELECT 1 FROM c)",
			want: `WITH c AS (SELECT * FROM (SELECT * FROM t WHERE tenant_id = 6) AS t)
				SELECT * FROM (SELECT * FROM u WHERE tenant_id = 6) AS u WHERE EXISTS (SELECT 1 FROM c)`,
		},
		{
			name:   "inner CTE does not mask outer physical table",
			tenant: rewrite.IntLiteral(6),
			input:  "SELECT * FROM (WITH c AS (SELECT 1 AS x) SELECT * FROM c) s, c",
			want: `SELECT * FROM (WITH c AS (SELECT 1 AS x) SELECT * FROM c) s,
				(SELECT * FROM c WHERE tenant_id = 6) AS c`,
		},
		{
			name:   "schema qualified name never resolves to a CTE",
			tenant: rewrite.IntLiteral(6),
			input:  "WITH orders AS (SELECT 1) SELECT * FROM sales.orders",
			want:   "WITH orders AS (SELECT 1) SELECT * FROM (SELECT * FROM sales.orders WHERE tenant_id = 6) AS orders",
		},
		{
			name:   "catalog qualified table",
			tenant: rewrite.IntLiteral(6),
			input:  "SELECT * FROM app.sales.orders",
			want:   "SELECT * FROM (SELECT * FROM app.sales.orders WHERE tenant_id = 6) AS orders",
		},
		{
			name:   "ONLY is kept on the inner table",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT * FROM ONLY events",
			want:   "SELECT * FROM (SELECT * FROM ONLY events WHERE tenant_id = 1) AS events",
		},
		{
			name:   "column aliases move to the subquery",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT p.a FROM pairs AS p(a, b)",
			want:   "SELECT p.a FROM (SELECT * FROM pairs WHERE tenant_id = 1) AS p(a, b)",
		},
		{
			name:   "string tenant",
			tenant: rewrite.StringLiteral("acme"),
			input:  "SELECT * FROM customers",
			want:   "SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 'acme') AS customers",
		},
		{
			name:   "string tenant with quote",
			tenant: rewrite.StringLiteral("o'neil"),
			input:  "SELECT * FROM customers",
			want:   "SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 'o''neil') AS customers",
		},
		{
			name:   "integer tenant beyond int32",
			tenant: rewrite.IntLiteral(9000000000),
			input:  "SELECT * FROM customers",
			want:   "SELECT * FROM (SELECT * FROM customers WHERE tenant_id = 9000000000) AS customers",
		},
		{
			name:   "functions in FROM and expressions are left alone",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT g, coalesce(o.total, 0) FROM generate_series(1, 3) g LEFT JOIN orders o ON o.id = g",
			want: `SELECT g, coalesce(o.total, 0) FROM generate_series(1, 3) g
				LEFT JOIN (SELECT * FROM orders WHERE tenant_id = 1) AS o ON o.id = g`,
		},
		{
			name:   "subquery in function argument in FROM",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT * FROM unnest(ARRAY(SELECT id FROM orders)) u",
			want:   "SELECT * FROM unnest(ARRAY(SELECT id FROM (SELECT * FROM orders WHERE tenant_id = 1) AS orders)) u",
		},
		{
			name:   "CASE, window and grouping clauses",
			tenant: rewrite.IntLiteral(1),
			input: `SELECT region, CASE WHEN sum(total) > 10 THEN 'big' ELSE 'small' END,
					rank() OVER (PARTITION BY region ORDER BY sum(total) DESC)
				FROM orders GROUP BY region HAVING count(*) > (SELECT 1 FROM limits) ORDER BY region LIMIT 5`,
			want: `SELECT region, CASE WHEN sum(total) > 10 THEN 'big' ELSE 'small' END,
					rank() OVER (PARTITION BY region ORDER BY sum(total) DESC)
				FROM (SELECT * FROM orders WHERE tenant_id = 1) AS orders GROUP BY region
				HAVING count(*) > (SELECT 1 FROM (SELECT * FROM limits WHERE tenant_id = 1) AS limits) ORDER BY region LIMIT 5`,
		},
		{
			name:   "DISTINCT and row locking",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT DISTINCT o.id FROM orders o FOR UPDATE OF o",
			want:   "SELECT DISTINCT o.id FROM (SELECT * FROM orders WHERE tenant_id = 1) AS o FOR UPDATE OF o",
		},
		{
			name:   "VALUES with subquery",
			tenant: rewrite.IntLiteral(1),
			input:  "VALUES (1, (SELECT max(id) FROM orders))",
			want:   "VALUES (1, (SELECT max(id) FROM (SELECT * FROM orders WHERE tenant_id = 1) AS orders))",
		},
		{
			name:   "no tables",
			tenant: rewrite.IntLiteral(1),
			input:  "SELECT 1 + 1, now()",
			want:   "SELECT 1 + 1, now()",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteSQL(t, tt.input, tenantFilter(tt.tenant))
			require.NoError(t, err)
			assert.Equal(t, normalize(t, tt.want), got)
		})
	}
}

func TestWalk_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  error
		wantNode string
	}{
		{name: "insert", input: "INSERT INTO orders (id) VALUES (1)", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "InsertStmt"},
		{name: "update", input: "UPDATE orders SET total = 0", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "UpdateStmt"},
		{name: "delete", input: "DELETE FROM orders", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "DeleteStmt"},
		{name: "ddl", input: "DROP TABLE orders", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "DropStmt"},
		{name: "explain", input: "EXPLAIN SELECT * FROM orders", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "ExplainStmt"},
		{name: "select into", input: "SELECT * INTO copy FROM orders", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "IntoClause"},
		{name: "tablesample", input: "SELECT * FROM orders TABLESAMPLE SYSTEM (10)", wantErr: rewrite.ErrUnsupportedConstruct, wantNode: "RangeTableSample"},
		{
			name:     "data modifying CTE",
			input:    "WITH d AS (DELETE FROM orders RETURNING *) SELECT * FROM d",
			wantErr:  rewrite.ErrUnsupportedConstruct,
			wantNode: "DeleteStmt",
		},
		{
			name:     "data modifying CTE nested in subquery",
			input:    "SELECT * FROM (WITH d AS (UPDATE orders SET total = 0 RETURNING *) SELECT * FROM d) s",
			wantErr:  rewrite.ErrUnsupportedConstruct,
			wantNode: "UpdateStmt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteSQL(t, tt.input, tenantFilter(rewrite.IntLiteral(1)))
			require.Error(t, err)
			assert.Empty(t, got, "rejected statements must not produce SQL")
			assert.ErrorIs(t, err, tt.wantErr)

			var rerr *rewrite.Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.wantNode, rerr.Node)
		})
	}
}

func TestWalk_ErrorPosition(t *testing.T) {
	_, err := rewriteSQL(t, "SELECT * FROM orders TABLESAMPLE SYSTEM (10)", tenantFilter(rewrite.IntLiteral(1)))

	var rerr *rewrite.Error
	require.True(t, errors.As(err, &rerr))
	assert.GreaterOrEqual(t, rerr.Position, 21, "position should point into the TABLESAMPLE clause")
	assert.Contains(t, err.Error(), "RangeTableSample at position")
}

func TestWalk_MalformedReference(t *testing.T) {
	tree, err := parser.Parse("SELECT * FROM orders")
	require.NoError(t, err)
	stmt, err := tree.Statement()
	require.NoError(t, err)

	broken := proto.Clone(stmt).(*pg_query.Node)
	broken.GetSelectStmt().FromClause[0].GetRangeVar().Relname = ""

	_, err = rewrite.Walk(broken, rewrite.Filter(tenantFilter(rewrite.IntLiteral(1))))
	require.ErrorIs(t, err, rewrite.ErrMalformedReference)

	var rerr *rewrite.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "RangeVar", rerr.Node)
	assert.Equal(t, 14, rerr.Position)
}

func TestWalk_DoesNotMutateInput(t *testing.T) {
	tree, err := parser.Parse("SELECT a.id FROM x.customers a JOIN x.orders b ON a.id = b.customer_id")
	require.NoError(t, err)
	stmt, err := tree.Statement()
	require.NoError(t, err)
	before := proto.Clone(stmt)

	out, err := rewrite.Walk(stmt, rewrite.Filter(tenantFilter(rewrite.IntLiteral(1))))
	require.NoError(t, err)

	assert.True(t, proto.Equal(before, stmt), "input tree was modified")
	assert.False(t, proto.Equal(out, stmt))
}

func TestWalk_NotIdempotent(t *testing.T) {
	p := tenantFilter(rewrite.IntLiteral(1))
	once, err := rewriteSQL(t, "SELECT * FROM t", p)
	require.NoError(t, err)
	twice, err := rewriteSQL(t, once, p)
	require.NoError(t, err)

	assert.Equal(t, normalize(t,
		"SELECT * FROM (SELECT * FROM (SELECT * FROM t WHERE tenant_id = 1) AS t WHERE tenant_id = 1) AS t",
	), normalize(t, twice))
}

func TestWalk_Collect(t *testing.T) {
	tree, err := parser.Parse(`WITH c AS (SELECT * FROM crm.accounts)
		SELECT * FROM c JOIN orders o ON o.account_id = c.id
		WHERE EXISTS (SELECT 1 FROM app.billing.invoices i WHERE i.order_id = o.id)`)
	require.NoError(t, err)
	stmt, err := tree.Statement()
	require.NoError(t, err)

	var tables []rewrite.Table
	out, err := rewrite.Walk(stmt, rewrite.Collect(&tables))
	require.NoError(t, err)

	assert.Equal(t, []rewrite.Table{
		{Schema: "crm", Name: "accounts"},
		{Name: "orders"},
		{Catalog: "app", Schema: "billing", Name: "invoices"},
	}, tables)
	assert.True(t, proto.Equal(stmt, out), "collecting must not change the statement")
}

func TestWalk_VisitorError(t *testing.T) {
	tree, err := parser.Parse("SELECT * FROM a JOIN b ON true")
	require.NoError(t, err)
	stmt, err := tree.Statement()
	require.NoError(t, err)

	boom := errors.New("boom")
	var seen []string
	_, err = rewrite.Walk(stmt, func(ref rewrite.Reference) (*pg_query.Node, error) {
		seen = append(seen, ref.Table.Name)
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, seen, "walk must stop at the first error")
}

func TestWalk_Nil(t *testing.T) {
	_, err := rewrite.Walk(nil, rewrite.Filter(tenantFilter(rewrite.IntLiteral(1))))
	assert.ErrorIs(t, err, rewrite.ErrUnsupportedConstruct)
}
