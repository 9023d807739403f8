package rewrite

import (
	"errors"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var errNoColumn = errors.New("tenantsql: tenant column is empty")

// BuildFilter returns the tree of
//
//	SELECT * FROM <table> WHERE <column> = <value>
//
// It has no side effects; the returned statement shares no nodes with any
// other tree.
func BuildFilter(t Table, p Predicate) (*pg_query.SelectStmt, error) {
	rv := &pg_query.RangeVar{
		Catalogname:    t.Catalog,
		Schemaname:     t.Schema,
		Relname:        t.Name,
		Inh:            true,
		Relpersistence: "p",
		Location:       -1,
	}
	return filterSelect(rv, p)
}

// filterSelect builds the filtered statement over a copy of rv. The copy
// keeps the name and ONLY semantics and drops the alias, which moves to
// the enclosing subquery.
func filterSelect(rv *pg_query.RangeVar, p Predicate) (*pg_query.SelectStmt, error) {
	if rv.Relname == "" {
		return nil, malformed(rv, "table name is empty")
	}
	if p.Column == "" {
		return nil, errNoColumn
	}

	from := &pg_query.RangeVar{
		Catalogname:    rv.Catalogname,
		Schemaname:     rv.Schemaname,
		Relname:        rv.Relname,
		Inh:            rv.Inh,
		Relpersistence: rv.Relpersistence,
		Location:       rv.Location,
	}
	if from.Relpersistence == "" {
		from.Relpersistence = "p"
	}

	return &pg_query.SelectStmt{
		TargetList: []*pg_query.Node{
			{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{
				Val:      columnRef(&pg_query.Node{Node: &pg_query.Node_AStar{AStar: &pg_query.A_Star{}}}),
				Location: -1,
			}}},
		},
		FromClause: []*pg_query.Node{
			{Node: &pg_query.Node_RangeVar{RangeVar: from}},
		},
		WhereClause: &pg_query.Node{Node: &pg_query.Node_AExpr{AExpr: &pg_query.A_Expr{
			Kind:     pg_query.A_Expr_Kind_AEXPR_OP,
			Name:     []*pg_query.Node{stringNode("=")},
			Lexpr:    columnRef(stringNode(p.Column)),
			Rexpr:    p.Value.node(),
			Location: -1,
		}}},
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
		Op:          pg_query.SetOperation_SETOP_NONE,
	}, nil
}

// subquery wraps a filtered statement in a FROM-position subquery node.
func subquery(sel *pg_query.SelectStmt, alias *pg_query.Alias) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_RangeSubselect{RangeSubselect: &pg_query.RangeSubselect{
		Subquery: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}},
		Alias:    alias,
	}}}
}

// aliasFor keeps an explicit alias, column aliases included. Without one
// the bare table name becomes the alias so that references such as
// accounts.id keep resolving.
func aliasFor(rv *pg_query.RangeVar) *pg_query.Alias {
	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		return rv.Alias
	}
	return &pg_query.Alias{Aliasname: rv.Relname}
}

func columnRef(fields ...*pg_query.Node) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_ColumnRef{ColumnRef: &pg_query.ColumnRef{
		Fields:   fields,
		Location: -1,
	}}}
}

func stringNode(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_String_{String_: &pg_query.String{Sval: s}}}
}
