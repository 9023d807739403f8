package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/pthm/tenantsql"
)

// Client calls a tenantsql.v1.Rewriter service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Rewrite asks the server to scope sql to tenant.
func (c *Client) Rewrite(ctx context.Context, sql string, tenant tenantsql.TenantLike, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(withTenant(ctx, tenant), rewriteMethod, wrapperspb.String(sql), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Tables asks the server for the physical tables of sql.
func (c *Client) Tables(ctx context.Context, sql string, opts ...grpc.CallOption) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, tablesMethod, wrapperspb.String(sql), out, opts...); err != nil {
		return nil, err
	}
	tables := make([]string, len(out.GetValues()))
	for i, v := range out.GetValues() {
		tables[i] = v.GetStringValue()
	}
	return tables, nil
}

func withTenant(ctx context.Context, tenant tenantsql.TenantLike) context.Context {
	if tenant == nil {
		return ctx
	}
	t := tenant.TenantID()
	if t.IsZero() {
		return ctx
	}
	kv := []string{TenantHeader, t.String()}
	if !t.Numeric() {
		kv = append(kv, TenantKindHeader, "string")
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}
