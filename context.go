package tenantsql

import "context"

type tenantKey struct{}

// WithTenant returns a new context carrying the tenant. RewriteContext reads
// it back; middleware typically sets it after authentication.
func WithTenant(ctx context.Context, tenant TenantLike) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant.TenantID())
}

// TenantFromContext retrieves the tenant set by WithTenant.
// The boolean is false when no tenant, or the zero Tenant, was set.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	if !ok || t.IsZero() {
		return Tenant{}, false
	}
	return t, true
}
