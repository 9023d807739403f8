package rewrite

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Table is the qualified name of a physical table.
type Table struct {
	Catalog string
	Schema  string
	Name    string
}

// String renders the dotted form: name, schema.name or catalog.schema.name.
func (t Table) String() string {
	parts := make([]string, 0, 3)
	if t.Catalog != "" {
		parts = append(parts, t.Catalog)
	}
	if t.Schema != "" {
		parts = append(parts, t.Schema)
	}
	parts = append(parts, t.Name)
	return strings.Join(parts, ".")
}

// Qualified reports whether the reference carries a schema or catalog.
// Only unqualified names can resolve to a WITH binding.
func (t Table) Qualified() bool {
	return t.Schema != "" || t.Catalog != ""
}

func tableOf(rv *pg_query.RangeVar) Table {
	return Table{
		Catalog: rv.Catalogname,
		Schema:  rv.Schemaname,
		Name:    rv.Relname,
	}
}

// Literal is the tenant value placed on the right-hand side of the filter
// predicate. It is either an integer or a string.
type Literal struct {
	str     string
	num     int64
	numeric bool
}

// IntLiteral returns an integer literal.
func IntLiteral(v int64) Literal {
	return Literal{num: v, numeric: true}
}

// StringLiteral returns a string literal.
func StringLiteral(v string) Literal {
	return Literal{str: v}
}

// Numeric reports whether the literal is an integer.
func (l Literal) Numeric() bool { return l.numeric }

// String returns the SQL text of the literal.
func (l Literal) String() string {
	if l.numeric {
		return strconv.FormatInt(l.num, 10)
	}
	return "'" + strings.ReplaceAll(l.str, "'", "''") + "'"
}

// node builds the A_Const node the PostgreSQL parser would produce for the
// literal. Integers that do not fit in int32 are kept as numeric text, the
// same way the parser represents them.
func (l Literal) node() *pg_query.Node {
	c := &pg_query.A_Const{Location: -1}
	switch {
	case !l.numeric:
		c.Val = &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: l.str}}
	case l.num >= minInt32 && l.num <= maxInt32:
		c.Val = &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: int32(l.num)}}
	default:
		c.Val = &pg_query.A_Const_Fval{Fval: &pg_query.Float{Fval: strconv.FormatInt(l.num, 10)}}
	}
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: c}}
}

const (
	minInt32 = -1 << 31
	maxInt32 = 1<<31 - 1
)

// Predicate is the tenant filter applied to every table of one statement:
// Column = Value.
type Predicate struct {
	Column string
	Value  Literal
}

// String returns the predicate as SQL text.
func (p Predicate) String() string {
	return p.Column + " = " + p.Value.String()
}
