package sql

import (
	"fmt"
	"strings"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

// validator resolves column names against the FROM list and assigns a
// shape to every node of a statement tree.
type validator struct {
	p      *Parser
	tree   *Tree
	tables []TableRef
	corr   *Correlation
	items  []SelectItem
	aggs   []AggFunc
}

func (self *Parser) singleTable(tree *Tree, ref TableRef) *validator {
	v := &validator{
		p:      self,
		tree:   tree,
		tables: []TableRef{ref},
		corr:   &Correlation{},
	}
	v.corr.AddTable(ref.Label(), 0)
	return v
}

func (self *validator) errAt(n *Node, code int, msg, detail string) error {
	e := sqlerr.Semantic(code, msg, detail)
	e.Line = n.Line
	return e
}

func (self *validator) findColumn(n *Node) error {
	col := &n.Col
	if col.Qualifier != "" {
		ref := self.corr.Table(col.Qualifier)
		if ref < 0 {
			return self.errAt(n, sqlerr.ParseTableNotFound, "unknown table qualifier", col.Qualifier)
		}
		idx, c := self.tables[ref].Table.Column(col.Name)
		if c == nil {
			return self.errAt(n, sqlerr.ParseColumnNotFound, "column not found",
				fmt.Sprintf("%s.%s", col.Qualifier, col.Name))
		}
		col.Ref = ref
		col.Column = idx
		col.Name = c.Name
		return nil
	}

	found := false
	for ref := range self.tables {
		idx, c := self.tables[ref].Table.Column(col.Name)
		if c == nil {
			continue
		}
		if found {
			return self.errAt(n, sqlerr.ParseError, "ambiguous column reference", col.Name)
		}
		found = true
		col.Ref = ref
		col.Column = idx
		col.Name = c.Name
	}
	if !found {
		return self.errAt(n, sqlerr.ParseColumnNotFound, "column not found", col.Name)
	}
	return nil
}

// resolve binds every column of the subtree. With alias set, an unqualified
// name that matches a select alias becomes a copy of the aliased
// expression.
func (self *validator) resolve(root int, alias bool) error {
	if root < 0 {
		return nil
	}
	n := &self.tree.Nodes[root]
	switch n.Op {
	case OpColumn:
		if n.Col.Ref >= 0 {
			return nil
		}
		if alias && n.Col.Qualifier == "" {
			if item := self.corr.Alias(n.Col.Name); item >= 0 {
				line := n.Line
				*n = self.tree.Nodes[self.items[item].Expr]
				n.Line = line
				return nil
			}
		}
		return self.findColumn(n)

	case OpAgg:
		return self.resolve(self.aggs[n.Agg].Arg, false)

	default:
		if err := self.resolve(n.L, alias); err != nil {
			return err
		}
		if err := self.resolve(n.R, alias); err != nil {
			return err
		}
		return self.resolve(n.X, alias)
	}
}

func isNullLit(n *Node) bool {
	return n.Op == OpLiteral && n.Null
}

func (self *validator) comparable(n *Node, a, b *Node) error {
	if isNullLit(a) || isNullLit(b) {
		return nil
	}
	at, bt := a.Shape.Type, b.Shape.Type
	switch {
	case at.IsNumeric() && bt.IsNumeric():
		return nil
	case at.IsNumeric() || bt.IsNumeric():
		if (!at.IsNumeric() && numericLiteral(a)) || (!bt.IsNumeric() && numericLiteral(b)) {
			return nil
		}
		break
	case at == bt || at == meta.TypeChar || bt == meta.TypeChar:
		return nil
	}
	return self.errAt(n, sqlerr.ParseError, "type mismatch", fmt.Sprintf("%s %s %s", at, OpName(n.Op), bt))
}

// numericLiteral turns a character literal holding a number into a
// numeric literal, so '1' compares with a NUM column like 1 does.
func numericLiteral(n *Node) bool {
	if n.Op != OpLiteral || n.Null || n.Num {
		return false
	}
	text := strings.TrimSpace(n.Text)
	if _, null, err := meta.ParseNumber([]byte(text)); err != nil || null {
		return false
	}
	n.Text = text
	n.Num = true
	n.Shape = meta.NumberShape(text)
	return true
}

func (self *validator) numeric(n *Node, operands ...*Node) error {
	for _, o := range operands {
		if !o.Shape.Type.IsNumeric() && !isNullLit(o) {
			return self.errAt(n, sqlerr.ParseError, "numeric operand expected", OpName(n.Op))
		}
	}
	return nil
}

var arithOp = map[int]byte{
	OpAdd: '+',
	OpSub: '-',
	OpMul: '*',
	OpDiv: '/',
}

func (self *validator) aggShape(n *Node) error {
	agg := &self.aggs[n.Agg]
	count := meta.Shape{Type: meta.TypeNum, Length: 10}
	if agg.Fn == AggCountStar {
		agg.Shape = count
		n.Shape = count
		return nil
	}
	arg := &self.tree.Nodes[agg.Arg]
	if IsPredicate(arg.Op) {
		return self.errAt(n, sqlerr.ParseError, "set function argument is a predicate", AggName(agg.Fn))
	}
	switch agg.Fn {
	case AggCount:
		agg.Shape = count
		break
	case AggSum:
		if err := self.numeric(n, arg); err != nil {
			return err
		}
		agg.Shape = meta.Shape{Type: meta.TypeNum, Length: meta.MaxNumDigits + 2, Scale: arg.Shape.Scale}
		break
	case AggAvg:
		if err := self.numeric(n, arg); err != nil {
			return err
		}
		agg.Shape = meta.ResultShape('/', arg.Shape, count)
		break
	default:
		agg.Shape = arg.Shape
		break
	}
	n.Shape = agg.Shape
	return nil
}

// typecheck assigns shapes to all nodes. Operands precede their users, so
// one pass in index order sees every operand shape before it is needed.
func (self *validator) typecheck() error {
	nodes := self.tree.Nodes
	for i := range nodes {
		n := &nodes[i]
		var l, r *Node
		if n.L >= 0 {
			l = &nodes[n.L]
		}
		if n.R >= 0 {
			r = &nodes[n.R]
		}

		if n.Op == OpAnd || n.Op == OpOr || n.Op == OpNot {
			if !IsPredicate(l.Op) || (r != nil && !IsPredicate(r.Op)) {
				return self.errAt(n, sqlerr.ParseError, "logical operator needs predicate operands", OpName(n.Op))
			}
			continue
		}
		if (l != nil && IsPredicate(l.Op)) || (r != nil && IsPredicate(r.Op)) {
			return self.errAt(n, sqlerr.ParseError, "predicate used as a value", OpName(n.Op))
		}

		switch n.Op {
		case OpColumn:
			if n.Col.Ref < 0 {
				// parsed but not part of any clause, e.g. an ORDER BY key
				// replaced by a select item
				break
			}
			n.Shape = self.tables[n.Col.Ref].Table.Columns[n.Col.Column].Shape()
			break

		case OpLiteral:
			if n.Null {
				n.Shape = meta.Shape{Type: meta.TypeChar, Length: 1}
			} else if n.Num {
				n.Shape = meta.NumberShape(n.Text)
				if n.Shape.Length > meta.MaxNumDigits+2 {
					return self.errAt(n, sqlerr.BadNumeric, "numeric literal too long", n.Text)
				}
			} else {
				length := len(n.Text)
				if length == 0 {
					length = 1
				}
				n.Shape = meta.Shape{Type: meta.TypeChar, Length: length}
			}
			break

		case OpAdd, OpSub, OpMul, OpDiv:
			if err := self.numeric(n, l, r); err != nil {
				return err
			}
			n.Shape = meta.ResultShape(arithOp[n.Op], l.Shape, r.Shape)
			break

		case OpNeg:
			if err := self.numeric(n, l); err != nil {
				return err
			}
			n.Shape = meta.Shape{Type: meta.TypeNum, Length: l.Shape.Length + 1, Scale: l.Shape.Scale}
			break

		case OpConcat:
			n.Shape = meta.Shape{Type: meta.TypeChar, Length: l.Shape.Length + r.Shape.Length}
			break

		case OpCast:
			from, to := l.Shape.Type, n.Cast.Type
			if !isNullLit(l) && from != to && from != meta.TypeChar && to != meta.TypeChar &&
				(from.IsNumeric() != to.IsNumeric()) {
				return self.errAt(n, sqlerr.ParseError, "invalid cast", fmt.Sprintf("%s to %s", from, to))
			}
			n.Shape = n.Cast
			break

		case OpSubstr:
			if n.X >= 0 {
				if err := self.numeric(n, r, &nodes[n.X]); err != nil {
					return err
				}
			} else if err := self.numeric(n, r); err != nil {
				return err
			}
			n.Shape = meta.Shape{Type: meta.TypeChar, Length: l.Shape.Length}
			break

		case OpTrim, OpUpper, OpLower:
			n.Shape = meta.Shape{Type: meta.TypeChar, Length: l.Shape.Length}
			break

		case OpAgg:
			if err := self.aggShape(n); err != nil {
				return err
			}
			break

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			if err := self.comparable(n, l, r); err != nil {
				return err
			}
			break

		case OpLike:
			if l.Shape.Type.IsNumeric() || r.Shape.Type.IsNumeric() {
				return self.errAt(n, sqlerr.ParseError, "LIKE needs character operands", "")
			}
			break
		}
	}
	return nil
}

func (self *validator) predicate(root int, clause string) error {
	if root < 0 {
		return nil
	}
	if err := self.resolve(root, false); err != nil {
		return err
	}
	if err := self.typecheck(); err != nil {
		return err
	}
	return self.checkPredicate(root, clause)
}

func (self *validator) checkPredicate(root int, clause string) error {
	if root < 0 {
		return nil
	}
	n := &self.tree.Nodes[root]
	if !IsPredicate(n.Op) {
		return self.errAt(n, sqlerr.ParseError, "search condition expected", clause)
	}
	return nil
}

// columnsOutsideAggs returns the column nodes of the subtree that are not
// arguments of a set function.
func (self *validator) columnsOutsideAggs(root int) []*Node {
	out := []*Node{}
	self.tree.Walk(root, func(_ int, n *Node) {
		if n.Op == OpColumn {
			out = append(out, n)
		}
	})
	return out
}

func (self *validator) isGroupColumn(s *Select, n *Node) bool {
	for _, g := range s.GroupBy {
		gn := &self.tree.Nodes[g]
		if gn.Op == OpColumn && gn.Col.Ref == n.Col.Ref && gn.Col.Column == n.Col.Column {
			return true
		}
	}
	return false
}

func (self *Parser) validateSelect(s *Select) error {
	v := &validator{
		p:      self,
		tree:   &s.Tree,
		tables: s.Tables,
		corr:   &s.Corr,
		aggs:   s.Aggs,
	}

	// expand '*' and 't.*'
	items := []SelectItem{}
	for _, item := range s.Items {
		if !item.star {
			items = append(items, item)
			continue
		}
		refs := []int{}
		if item.qualifier != "" {
			ref := s.Corr.Table(item.qualifier)
			if ref < 0 {
				return self.semantic(sqlerr.ParseTableNotFound, "unknown table qualifier", item.qualifier)
			}
			refs = append(refs, ref)
		} else {
			for i := range s.Tables {
				refs = append(refs, i)
			}
		}
		for _, ref := range refs {
			for ci, c := range s.Tables[ref].Table.Columns {
				n := s.Tree.add(Node{
					Op:  OpColumn,
					L:   -1,
					R:   -1,
					X:   -1,
					Col: ColumnRef{Name: c.Name, Ref: ref, Column: ci},
				})
				items = append(items, SelectItem{Expr: n, Name: c.Name})
			}
		}
	}
	s.Items = items
	v.items = items

	for i, item := range s.Items {
		if item.Alias != "" {
			if err := s.Corr.AddAlias(item.Alias, i); err != nil {
				return err
			}
		}
		if err := v.resolve(item.Expr, false); err != nil {
			return err
		}
	}

	if err := v.resolve(s.Where, false); err != nil {
		return err
	}
	for i := range s.Tables {
		if err := v.resolve(s.Tables[i].On, false); err != nil {
			return err
		}
	}
	for _, g := range s.GroupBy {
		if err := v.resolve(g, true); err != nil {
			return err
		}
	}
	if err := v.resolve(s.Having, true); err != nil {
		return err
	}
	for i := range s.OrderBy {
		o := &s.OrderBy[i]
		if o.Expr < 0 {
			if o.Item >= len(s.Items) {
				return self.semantic(sqlerr.ParseError, "ORDER BY position out of range", fmt.Sprint(o.Item+1))
			}
			o.Expr = s.Items[o.Item].Expr
			continue
		}
		n := &s.Tree.Nodes[o.Expr]
		if n.Col.Qualifier == "" {
			if item := s.Corr.Alias(n.Col.Name); item >= 0 {
				o.Item = item
				o.Expr = s.Items[item].Expr
				continue
			}
		}
		if err := v.resolve(o.Expr, false); err != nil {
			return err
		}
	}

	if err := v.typecheck(); err != nil {
		return err
	}

	for i := range s.Items {
		item := &s.Items[i]
		n := &s.Tree.Nodes[item.Expr]
		if IsPredicate(n.Op) {
			return v.errAt(n, sqlerr.ParseError, "search condition used as a select item", "")
		}
		item.Shape = n.Shape
		if item.Name == "" {
			switch {
			case item.Alias != "":
				item.Name = item.Alias
				break
			case n.Op == OpColumn:
				item.Name = n.Col.Name
				break
			default:
				item.Name = s.Tree.Format(item.Expr, nil)
				break
			}
		}
	}

	if err := v.checkPredicate(s.Where, "WHERE"); err != nil {
		return err
	}
	if err := v.checkPredicate(s.Having, "HAVING"); err != nil {
		return err
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		if err := v.checkPredicate(t.On, "ON"); err != nil {
			return err
		}
		if t.On >= 0 && s.Tree.Refs(t.On)>>uint(i+1) != 0 {
			return sqlerr.WithLine(sqlerr.Semantic(sqlerr.ParseError,
				"ON clause references a table joined later", t.Label()), t.Line)
		}
	}

	for _, g := range s.GroupBy {
		if n := &s.Tree.Nodes[g]; n.Op != OpColumn {
			return v.errAt(n, sqlerr.ParseError, "GROUP BY must name columns", "")
		}
	}

	// ORDER BY keys naming a selected column refer to that item
	for i := range s.OrderBy {
		o := &s.OrderBy[i]
		if o.Item >= 0 {
			continue
		}
		n := &s.Tree.Nodes[o.Expr]
		for j, item := range s.Items {
			in := &s.Tree.Nodes[item.Expr]
			if in.Op == OpColumn && n.Op == OpColumn &&
				in.Col.Ref == n.Col.Ref && in.Col.Column == n.Col.Column {
				o.Item = j
				break
			}
		}
		if o.Item < 0 && s.Distinct {
			return v.errAt(n, sqlerr.ParseError, "ORDER BY key must be a select item with DISTINCT", n.Col.Name)
		}
	}

	if s.HasAggregate() {
		check := func(root int, clause string) error {
			for _, n := range v.columnsOutsideAggs(root) {
				if !v.isGroupColumn(s, n) {
					return v.errAt(n, sqlerr.ParseError,
						fmt.Sprintf("column in %s is neither grouped nor in a set function", clause), n.Col.Name)
				}
			}
			return nil
		}
		for _, item := range s.Items {
			if err := check(item.Expr, "select list"); err != nil {
				return err
			}
		}
		if err := check(s.Having, "HAVING"); err != nil {
			return err
		}
		for _, o := range s.OrderBy {
			if o.Item < 0 {
				if err := check(o.Expr, "ORDER BY"); err != nil {
					return err
				}
			}
		}

		distinct := -1
		for _, agg := range s.Aggs {
			if !agg.Distinct {
				continue
			}
			arg := &s.Tree.Nodes[agg.Arg]
			if arg.Op != OpColumn {
				return v.errAt(arg, sqlerr.ParseError, "DISTINCT set function needs a column argument", "")
			}
			if distinct >= 0 {
				d := &s.Tree.Nodes[distinct]
				if d.Col.Ref != arg.Col.Ref || d.Col.Column != arg.Col.Column {
					return v.errAt(arg, sqlerr.ParseError,
						"all DISTINCT set functions must use the same column", arg.Col.Name)
				}
			}
			distinct = agg.Arg
		}
	}

	if s.ForUpdate {
		reason := ""
		switch {
		case len(s.Tables) > 1:
			reason = "more than one table"
			break
		case s.Distinct:
			reason = "DISTINCT"
			break
		case len(s.Aggs) > 0:
			reason = "set functions"
			break
		case len(s.GroupBy) > 0 || s.Having >= 0:
			reason = "GROUP BY"
			break
		}
		if reason != "" {
			return self.semantic(sqlerr.ParseError, "FOR UPDATE cannot be used with "+reason, "")
		}
		if err := self.writableTable(&s.Tables[0], true); err != nil {
			return err
		}
	}
	return nil
}

func assignable(col meta.Shape, n *Node) bool {
	if isNullLit(n) {
		return true
	}
	switch {
	case col.Type.IsNumeric():
		return n.Shape.Type.IsNumeric() || (n.Op == OpLiteral && !n.Num)
	case col.Type == meta.TypeChar:
		return true
	default:
		return n.Shape.Type == col.Type || n.Shape.Type == meta.TypeChar
	}
}

func (self *Parser) validateUpdate(upd *Update) error {
	v := self.singleTable(&upd.Tree, upd.Table)
	for _, set := range upd.Sets {
		if err := v.resolve(set.Expr, false); err != nil {
			return err
		}
	}
	if err := v.resolve(upd.Where, false); err != nil {
		return err
	}
	if err := v.typecheck(); err != nil {
		return err
	}
	if err := v.checkPredicate(upd.Where, "WHERE"); err != nil {
		return err
	}
	for _, set := range upd.Sets {
		col := upd.Table.Table.Columns[set.Column]
		n := &upd.Tree.Nodes[set.Expr]
		if IsPredicate(n.Op) || !assignable(col.Shape(), n) {
			return v.errAt(n, sqlerr.ParseError, "type mismatch in assignment", col.Name)
		}
		// literals are stored in the column's own format
		if n.Op == OpLiteral && !n.Null {
			if _, err := self.encodeValue(col, n); err != nil {
				return err
			}
			n.Shape = col.Shape()
		}
	}
	return nil
}
