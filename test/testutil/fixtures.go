package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Fixtures creates tenant data with batched INSERTs.
type Fixtures struct {
	db  *sql.DB
	ctx context.Context
}

// NewFixtures creates a new Fixtures instance.
func NewFixtures(ctx context.Context, db *sql.DB) *Fixtures {
	return &Fixtures{db: db, ctx: ctx}
}

const batchSize = 1000

// CreateAccounts creates n accounts owned by tenant and returns their IDs.
// Accounts cycle through the countries of the fixture schema.
func (f *Fixtures) CreateAccounts(tenant int64, n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		rows := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, []any{tenant, fmt.Sprintf("account_%d_%d", tenant, i), countryCodes[i%len(countryCodes)]})
		}

		batch, err := f.insert("crm.accounts", []string{"tenant_id", "name", "country"}, rows)
		if err != nil {
			return nil, fmt.Errorf("insert accounts %d-%d: %w", start, end, err)
		}
		ids = append(ids, batch...)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// CreateOrders creates perAccount orders for each account, all owned by
// tenant. Order totals are 50, 100, 150, ... within each account.
func (f *Fixtures) CreateOrders(tenant int64, accountIDs []int64, perAccount int) ([]int64, error) {
	var rows [][]any
	for _, account := range accountIDs {
		for i := 0; i < perAccount; i++ {
			rows = append(rows, []any{tenant, account, 50 * (i + 1)})
		}
	}

	var ids []int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		batch, err := f.insert("crm.orders", []string{"tenant_id", "account_id", "total"}, rows[start:end])
		if err != nil {
			return nil, fmt.Errorf("insert orders %d-%d: %w", start, end, err)
		}
		ids = append(ids, batch...)
	}
	return ids, nil
}

// CreateNotes creates one note per body for a string tenant.
func (f *Fixtures) CreateNotes(tenant string, bodies ...string) ([]int64, error) {
	rows := make([][]any, len(bodies))
	for i, body := range bodies {
		rows[i] = []any{tenant, body}
	}
	return f.insert("crm.notes", []string{"tenant_id", "body"}, rows)
}

// insert runs one multi-row INSERT ... RETURNING id.
func (f *Fixtures) insert(table string, columns []string, rows [][]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*len(columns))
	)
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, v)
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}
	b.WriteString(" RETURNING id")

	result, err := f.db.QueryContext(f.ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = result.Close() }()

	ids := make([]int64, 0, len(rows))
	for result.Next() {
		var id int64
		if err := result.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, result.Err()
}

var countryCodes = []string{"NZ", "DE", "JP"}
