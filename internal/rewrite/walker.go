package rewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Reference is a physical table reference found in a FROM position.
type Reference struct {
	Table Table

	// Alias is the name the rest of the statement uses for the table: the
	// explicit alias when present, otherwise the bare table name.
	Alias *pg_query.Alias

	// Range is the parse node of the reference.
	Range *pg_query.RangeVar

	// Position is the byte offset of the reference in the source text.
	Position int
}

// Visitor decides what replaces a physical table reference. Returning a nil
// node leaves the reference in place.
type Visitor func(ref Reference) (*pg_query.Node, error)

// Filter returns a Visitor that replaces every reference with
//
//	(SELECT * FROM <table> WHERE <predicate>) AS <alias>
func Filter(p Predicate) Visitor {
	return func(ref Reference) (*pg_query.Node, error) {
		sel, err := filterSelect(ref.Range, p)
		if err != nil {
			return nil, err
		}
		return subquery(sel, ref.Alias), nil
	}
}

// Collect returns a Visitor that records every reference in order of
// appearance and leaves the tree unchanged.
func Collect(into *[]Table) Visitor {
	return func(ref Reference) (*pg_query.Node, error) {
		*into = append(*into, ref.Table)
		return nil, nil
	}
}

// Walk applies visit to every physical table reference of a statement and
// returns the resulting statement. Only SELECT statements are accepted.
//
// The statement is deep-copied first; stmt itself is never modified.
func Walk(stmt *pg_query.Node, visit Visitor) (*pg_query.Node, error) {
	if stmt == nil {
		return nil, &Error{Kind: ErrUnsupportedConstruct, Position: -1, Detail: "empty statement"}
	}
	if _, ok := stmt.Node.(*pg_query.Node_SelectStmt); !ok {
		return nil, unsupported(payloadOf(stmt), "only SELECT statements can be scoped to a tenant")
	}

	out := proto.Clone(stmt).(*pg_query.Node)
	w := &walker{visit: visit}
	if err := w.selectStmt(out.GetSelectStmt(), nil); err != nil {
		return nil, err
	}
	return out, nil
}

type walker struct {
	visit Visitor
}

// selectStmt rewrites one query level in place. The statement belongs to
// the cloned tree, so in-place updates never reach the caller's tree.
func (w *walker) selectStmt(s *pg_query.SelectStmt, sc *scope) error {
	if s == nil {
		return nil
	}
	if s.IntoClause != nil {
		return unsupported(s.IntoClause, "SELECT INTO creates a table")
	}

	var err error
	if s.WithClause != nil {
		if sc, err = w.with(s.WithClause, sc); err != nil {
			return err
		}
	}

	// Set operation branches see the WITH names of the statement that
	// carries them.
	if err := w.selectStmt(s.Larg, sc); err != nil {
		return err
	}
	if err := w.selectStmt(s.Rarg, sc); err != nil {
		return err
	}

	for i, n := range s.FromClause {
		if s.FromClause[i], err = w.fromItem(n, sc); err != nil {
			return err
		}
	}

	for _, list := range [][]*pg_query.Node{
		s.DistinctClause,
		s.TargetList,
		s.GroupClause,
		s.WindowClause,
		s.SortClause,
		s.ValuesLists,
	} {
		if err := w.exprs(list, sc); err != nil {
			return err
		}
	}

	for _, slot := range []**pg_query.Node{
		&s.WhereClause,
		&s.HavingClause,
		&s.LimitOffset,
		&s.LimitCount,
	} {
		if *slot, err = w.expr(*slot, sc); err != nil {
			return err
		}
	}

	// LockingClause names FROM items by their alias, which the rewrite
	// preserves, so it is left untouched.
	return nil
}

// with rewrites the CTE bodies of a WITH clause and returns the scope in
// which the rest of the statement resolves names.
func (w *walker) with(wc *pg_query.WithClause, outer *scope) (*scope, error) {
	sc := outer.child()

	ctes := make([]*pg_query.CommonTableExpr, 0, len(wc.Ctes))
	for _, n := range wc.Ctes {
		cte := n.GetCommonTableExpr()
		if cte == nil {
			return nil, unsupported(payloadOf(n), "unexpected WITH item")
		}
		if cte.Ctename == "" {
			return nil, malformed(cte, "WITH item has no name")
		}
		ctes = append(ctes, cte)
	}

	// A recursive WITH list sees all of its names in every body. A plain
	// one only sees the names defined before each body.
	if wc.Recursive {
		for _, cte := range ctes {
			sc.bind(cte.Ctename)
		}
	}

	for _, cte := range ctes {
		if cte.Ctequery.GetSelectStmt() == nil {
			return nil, unsupported(payloadOf(cte.Ctequery), "data-modifying statements in WITH are not supported")
		}
		if err := w.selectStmt(cte.Ctequery.GetSelectStmt(), sc); err != nil {
			return nil, err
		}
		sc.bind(cte.Ctename)
	}
	return sc, nil
}

// fromItem rewrites one FROM-list entry or join operand.
func (w *walker) fromItem(n *pg_query.Node, sc *scope) (*pg_query.Node, error) {
	switch item := n.Node.(type) {
	case *pg_query.Node_RangeVar:
		return w.table(n, item.RangeVar, sc)

	case *pg_query.Node_JoinExpr:
		j := item.JoinExpr
		var err error
		if j.Larg, err = w.fromItem(j.Larg, sc); err != nil {
			return nil, err
		}
		if j.Rarg, err = w.fromItem(j.Rarg, sc); err != nil {
			return nil, err
		}
		if j.Quals, err = w.expr(j.Quals, sc); err != nil {
			return nil, err
		}
		return n, nil

	case *pg_query.Node_RangeSubselect:
		sel := item.RangeSubselect.Subquery.GetSelectStmt()
		if sel == nil {
			return nil, unsupported(item.RangeSubselect, "derived table is not a SELECT")
		}
		return n, w.selectStmt(sel, sc)

	case *pg_query.Node_RangeFunction:
		return n, w.generic(item.RangeFunction.ProtoReflect(), sc)

	case *pg_query.Node_RangeTableFunc:
		return n, w.generic(item.RangeTableFunc.ProtoReflect(), sc)

	case *pg_query.Node_RangeTableSample:
		return nil, unsupported(item.RangeTableSample, "TABLESAMPLE cannot be applied to a filtered table")

	default:
		return nil, unsupported(payloadOf(n), "unexpected FROM item")
	}
}

// table resolves a FROM-position name. Unqualified names bound by WITH are
// left alone; everything else is a physical table and goes to the visitor.
func (w *walker) table(n *pg_query.Node, rv *pg_query.RangeVar, sc *scope) (*pg_query.Node, error) {
	if rv.Relname == "" {
		return nil, malformed(rv, "table name is empty")
	}
	t := tableOf(rv)
	if !t.Qualified() && sc.bound(t.Name) {
		return n, nil
	}

	repl, err := w.visit(Reference{
		Table:    t,
		Alias:    aliasFor(rv),
		Range:    rv,
		Position: int(rv.Location),
	})
	if err != nil {
		return nil, err
	}
	if repl == nil {
		return n, nil
	}
	return repl, nil
}

func (w *walker) exprs(list []*pg_query.Node, sc *scope) error {
	var err error
	for i, n := range list {
		if list[i], err = w.expr(n, sc); err != nil {
			return err
		}
	}
	return nil
}

// expr rewrites an expression-position node. Subqueries are the only way
// a table can be reached from here.
func (w *walker) expr(n *pg_query.Node, sc *scope) (*pg_query.Node, error) {
	if n == nil {
		return nil, nil
	}

	switch e := n.Node.(type) {
	case nil:
		// Empty list members, e.g. the marker list of a plain DISTINCT.
		return n, nil

	case *pg_query.Node_SelectStmt:
		return n, w.selectStmt(e.SelectStmt, sc)

	case *pg_query.Node_SubLink:
		var err error
		if e.SubLink.Testexpr, err = w.expr(e.SubLink.Testexpr, sc); err != nil {
			return nil, err
		}
		if e.SubLink.Subselect, err = w.expr(e.SubLink.Subselect, sc); err != nil {
			return nil, err
		}
		return n, nil

	case *pg_query.Node_RangeVar:
		return nil, unsupported(e.RangeVar, "table reference outside FROM")
	}

	m := payloadOf(n)
	if !descendable[m.ProtoReflect().Descriptor().Name()] {
		return nil, unsupported(m, "")
	}
	return n, w.generic(m.ProtoReflect(), sc)
}

// generic enumerates the message fields of m and rewrites every node
// below it. Scalar fields are left as they are.
func (w *walker) generic(m protoreflect.Message, sc *scope) error {
	type field struct {
		fd protoreflect.FieldDescriptor
		v  protoreflect.Value
	}
	var fields []field
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() == protoreflect.MessageKind {
			fields = append(fields, field{fd, v})
		}
		return true
	})

	for _, f := range fields {
		if f.fd.IsMap() {
			return unsupported(m.Interface(), "map field "+string(f.fd.Name()))
		}
		if f.fd.IsList() {
			l := f.v.List()
			for i := 0; i < l.Len(); i++ {
				child, err := w.child(l.Get(i).Message(), sc)
				if err != nil {
					return err
				}
				l.Set(i, protoreflect.ValueOfMessage(child))
			}
			continue
		}
		child, err := w.child(f.v.Message(), sc)
		if err != nil {
			return err
		}
		m.Set(f.fd, protoreflect.ValueOfMessage(child))
	}
	return nil
}

// child rewrites one message-typed field value. Node wrappers go through
// expr; typed messages must be descendable kinds.
func (w *walker) child(m protoreflect.Message, sc *scope) (protoreflect.Message, error) {
	if n, ok := m.Interface().(*pg_query.Node); ok {
		out, err := w.expr(n, sc)
		if err != nil {
			return nil, err
		}
		return out.ProtoReflect(), nil
	}
	if !descendable[m.Descriptor().Name()] {
		return nil, unsupported(m.Interface(), "")
	}
	return m, w.generic(m, sc)
}

// payloadOf returns the message held by a Node wrapper, or the wrapper
// itself when it is empty.
func payloadOf(n *pg_query.Node) proto.Message {
	var out proto.Message = n
	if n == nil {
		return out
	}
	n.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() == protoreflect.MessageKind {
			out = v.Message().Interface()
			return false
		}
		return true
	})
	return out
}
