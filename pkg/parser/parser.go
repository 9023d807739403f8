// Package parser provides PostgreSQL parsing and rendering for tenantsql.
//
// This package wraps pg_query, the PostgreSQL server's own parser compiled
// as a library, to turn SQL text into a parse tree and a parse tree back
// into SQL text. It isolates the pg_query dependency from the public API.
//
// # Basic Usage
//
// Parse a statement, inspect or rewrite it, then render it:
//
//	tree, err := parser.Parse("SELECT * FROM crm.accounts")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stmt, err := tree.Statement()
//	...
//	sql, err := tree.Render(stmt)
//
// Invalid SQL yields a *SyntaxError, which matches ErrSyntax under
// errors.Is. The parser's message is kept verbatim.
package parser

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrSyntax is matched by every error returned for unparseable SQL.
var ErrSyntax = errors.New("tenantsql: SQL syntax error")

// ErrStatementCount is returned by Statement when the input does not hold
// exactly one statement.
var ErrStatementCount = errors.New("tenantsql: expected exactly one statement")

// SyntaxError reports SQL the PostgreSQL parser rejected.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSyntax, e.Err)
}

// Unwrap exposes both ErrSyntax and the parser's own error.
func (e *SyntaxError) Unwrap() []error {
	return []error{ErrSyntax, e.Err}
}

// Tree is a parsed SQL input of one or more statements.
type Tree struct {
	result *pg_query.ParseResult
}

// Parse parses SQL text with the PostgreSQL grammar.
func Parse(sql string) (*Tree, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, &SyntaxError{Err: err}
	}
	return &Tree{result: result}, nil
}

// Len returns the number of statements in the tree.
func (t *Tree) Len() int {
	return len(t.result.GetStmts())
}

// Statements returns the root node of every statement in source order.
func (t *Tree) Statements() []*pg_query.Node {
	out := make([]*pg_query.Node, 0, t.Len())
	for _, raw := range t.result.GetStmts() {
		out = append(out, raw.GetStmt())
	}
	return out
}

// Statement returns the root node of a single-statement tree.
func (t *Tree) Statement() (*pg_query.Node, error) {
	if t.Len() != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrStatementCount, t.Len())
	}
	return t.result.GetStmts()[0].GetStmt(), nil
}

// Render turns a statement back into SQL text. Formatting is pg_query's
// canonical form; only the tree determines the output.
func (t *Tree) Render(stmt *pg_query.Node) (string, error) {
	out, err := pg_query.Deparse(&pg_query.ParseResult{
		Version: t.result.GetVersion(),
		Stmts:   []*pg_query.RawStmt{{Stmt: stmt}},
	})
	if err != nil {
		return "", fmt.Errorf("tenantsql: rendering statement: %w", err)
	}
	return out, nil
}

// Split breaks a script into its individual statements without
// interpreting them. Syntax errors surface as *SyntaxError.
func Split(script string) ([]string, error) {
	stmts, err := pg_query.SplitWithParser(script, true)
	if err != nil {
		return nil, &SyntaxError{Err: err}
	}
	return stmts, nil
}

// Normalize parses and re-renders SQL, which erases formatting differences
// such as whitespace, keyword case and redundant parentheses.
func Normalize(sql string) (string, error) {
	tree, err := Parse(sql)
	if err != nil {
		return "", err
	}
	out, err := pg_query.Deparse(tree.result)
	if err != nil {
		return "", fmt.Errorf("tenantsql: rendering statement: %w", err)
	}
	return out, nil
}
