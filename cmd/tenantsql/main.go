// Command tenantsql scopes SQL statements to a single tenant.
//
// Usage:
//
//	tenantsql [flags] <command>
//
// The rewrite and tables commands work on SQL text alone. The doctor command
// optionally connects to PostgreSQL (--db or database.* in tenantsql.yaml) to
// check that the tables a workload reads carry the tenant column. The serve
// command exposes the rewriter over gRPC.
package main

func main() {
	Execute()
}
