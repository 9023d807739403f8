package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// BulkFixtures loads large tenant datasets with the COPY protocol.
type BulkFixtures struct {
	db  *sql.DB
	ctx context.Context
}

// NewBulkFixtures creates a new BulkFixtures instance.
func NewBulkFixtures(ctx context.Context, db *sql.DB) *BulkFixtures {
	return &BulkFixtures{db: db, ctx: ctx}
}

// copyFrom streams rows into table through the underlying pgx connection.
func (bf *BulkFixtures) copyFrom(table pgx.Identifier, columns []string, n int, row func(i int) []any) error {
	conn, err := bf.db.Conn(bf.ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("not a pgx connection (got %T)", driverConn)
		}
		_, err := c.Conn().CopyFrom(bf.ctx, table, columns, pgx.CopyFromSlice(n, func(i int) ([]any, error) {
			return row(i), nil
		}))
		if err != nil {
			return fmt.Errorf("COPY %s: %w", table.Sanitize(), err)
		}
		return nil
	})
}

// CreateAccounts creates n accounts owned by tenant and returns their IDs in
// ascending order. Falls back to batched INSERTs if COPY fails.
func (bf *BulkFixtures) CreateAccounts(tenant int64, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}

	err := bf.copyFrom(pgx.Identifier{"crm", "accounts"}, []string{"tenant_id", "name", "country"}, n, func(i int) []any {
		return []any{tenant, fmt.Sprintf("bulk_account_%d_%d", tenant, i), countryCodes[i%len(countryCodes)]}
	})
	if err != nil {
		log.Printf("COPY failed for accounts (%v), falling back to batch INSERT", err)
		return NewFixtures(bf.ctx, bf.db).CreateAccounts(tenant, n)
	}

	return bf.fetchIDs("SELECT id FROM crm.accounts WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2", tenant, n)
}

// CreateOrders creates perAccount orders for each account with the COPY
// protocol and returns the number of rows loaded.
func (bf *BulkFixtures) CreateOrders(tenant int64, accountIDs []int64, perAccount int) (int, error) {
	n := len(accountIDs) * perAccount
	if n == 0 {
		return 0, nil
	}

	err := bf.copyFrom(pgx.Identifier{"crm", "orders"}, []string{"tenant_id", "account_id", "total"}, n, func(i int) []any {
		return []any{tenant, accountIDs[i/perAccount], 50 * (i%perAccount + 1)}
	})
	if err != nil {
		log.Printf("COPY failed for orders (%v), falling back to batch INSERT", err)
		ids, err := NewFixtures(bf.ctx, bf.db).CreateOrders(tenant, accountIDs, perAccount)
		return len(ids), err
	}
	return n, nil
}

// fetchIDs runs a query returning the newest IDs first and returns them in
// ascending order.
func (bf *BulkFixtures) fetchIDs(query string, args ...any) ([]int64, error) {
	rows, err := bf.db.QueryContext(bf.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := 0; i < len(ids)/2; i++ {
		ids[i], ids[len(ids)-1-i] = ids[len(ids)-1-i], ids[i]
	}
	return ids, nil
}
