// Package rewrite replaces physical table references in PostgreSQL parse
// trees with tenant filtered subqueries.
//
// The walker operates on pg_query parse trees. Every FROM-position table
// reference is handed to a Visitor, which decides what replaces it:
//
//	SELECT a.id FROM crm.accounts a
//
// becomes, with the Filter visitor and tenant 7,
//
//	SELECT a.id FROM (SELECT * FROM crm.accounts WHERE tenant_id = 7) a
//
// Names bound by WITH are resolved before a reference reaches the visitor,
// so a CTE body is filtered once at its definition and the CTE name is left
// alone wherever it is used. Bindings follow SQL lexical scoping: a WITH
// inside a subquery is invisible to the enclosing query, and names bound
// by an enclosing query are visible inside its subqueries.
//
// The walker fails closed. A node kind it does not know how to descend
// into is reported as ErrUnsupportedConstruct rather than copied through,
// because an unknown construct may hide a table reference.
package rewrite
