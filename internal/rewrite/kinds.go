package rewrite

import "google.golang.org/protobuf/reflect/protoreflect"

// descendable lists the node kinds the walker enters generically, by
// enumerating their message fields. None of them can hold a table reference
// directly; any subquery below them is reached through the enumeration.
//
// Structural kinds (SelectStmt, JoinExpr, RangeSubselect, SubLink, WITH)
// and FROM items are handled explicitly in walker.go. Everything else is
// rejected.
var descendable = map[protoreflect.Name]bool{
	// values, names and clause helpers
	"A_Const":     true,
	"A_Star":      true,
	"Alias":       true,
	"BitString":   true,
	"Boolean":     true,
	"ColumnDef":   true,
	"ColumnRef":   true,
	"Float":       true,
	"GroupingSet": true,
	"Integer":     true,
	"List":        true,
	"ParamRef":    true,
	"ResTarget":   true,
	"SortBy":      true,
	"String":      true,
	"TypeName":    true,
	"WindowDef":   true,

	// expressions
	"A_ArrayExpr":      true,
	"A_Expr":           true,
	"A_Indices":        true,
	"A_Indirection":    true,
	"BoolExpr":         true,
	"BooleanTest":      true,
	"CaseExpr":         true,
	"CaseWhen":         true,
	"CoalesceExpr":     true,
	"CollateClause":    true,
	"FuncCall":         true,
	"GroupingFunc":     true,
	"MinMaxExpr":       true,
	"NamedArgExpr":     true,
	"NullTest":         true,
	"RowExpr":          true,
	"SQLValueFunction": true,
	"TypeCast":         true,
	"XmlExpr":          true,
	"XmlSerialize":     true,

	// SQL/JSON constructors and predicates
	"JsonAggConstructor":        true,
	"JsonArrayAgg":              true,
	"JsonArrayConstructor":      true,
	"JsonArrayQueryConstructor": true,
	"JsonFormat":                true,
	"JsonIsPredicate":           true,
	"JsonKeyValue":              true,
	"JsonObjectAgg":             true,
	"JsonObjectConstructor":     true,
	"JsonOutput":                true,
	"JsonReturning":             true,
	"JsonValueExpr":             true,

	// XMLTABLE columns
	"RangeTableFuncCol": true,
}
