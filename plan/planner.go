package plan

import (
	"fmt"
	"sort"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
)

const maxTables = 63

// Build turns a parsed statement into a plan.
func Build(stmt sql.Statement) (*Plan, error) {
	switch s := stmt.(type) {
	case *sql.Select:
		return buildSelect(s)
	case *sql.Update:
		sets := []int{}
		for _, x := range s.Sets {
			sets = append(sets, x.Column)
		}
		return buildModify(stmt, &s.Tree, s.Table, s.Where, sets)
	case *sql.Delete:
		return buildModify(stmt, &s.Tree, s.Table, s.Where, nil)
	default:
		return &Plan{Stmt: stmt}, nil
	}
}

type conjunct struct {
	root int
	refs TableSet
	left int // table reference of the LEFT JOIN whose ON clause holds it, -1 if none
}

// ----------------------------------------------------------------------------
// SELECT

type selectPlanner struct {
	p      *Plan
	s      *sql.Select
	tree   *sql.Tree
	conj   []*conjunct
	order  []OrderColumn
	pseudo int
}

func buildSelect(s *sql.Select) (*Plan, error) {
	if len(s.Tables) > maxTables {
		return nil, sqlerr.Semantic(sqlerr.ParseError, "too many tables in FROM", fmt.Sprint(len(s.Tables)))
	}
	sp := &selectPlanner{
		p: &Plan{
			Stmt:      s,
			Tree:      &s.Tree,
			Tables:    s.Tables,
			ForUpdate: s.ForUpdate,
		},
		s:      s,
		tree:   &s.Tree,
		pseudo: -1,
	}

	// 1) split WHERE and ON into conjuncts
	sp.collectConjuncts()

	// 2) desired order, only worth asking for when nothing else forces a
	//    materialized result
	if !s.HasAggregate() && !s.Distinct {
		sp.order = orderColumns(s)
	}

	// 3) the equality-only OR of ANDs shape over a single table
	if len(s.Tables) == 1 {
		sp.rewriteOrSet()
	}

	// 4) loop order and conjunct placement
	sp.orderTables()
	sp.placeConjuncts()
	sp.chooseIndexes()

	// 5) mode and worksets
	sp.chooseMode()
	sp.buildOutput()
	return sp.p, nil
}

func (self *selectPlanner) addConjuncts(root int, left int) {
	for _, c := range self.tree.Conjuncts(root) {
		self.conj = append(self.conj, &conjunct{
			root: c,
			refs: TableSet(self.tree.Refs(c)),
			left: left,
		})
	}
}

func (self *selectPlanner) collectConjuncts() {
	self.addConjuncts(self.s.Where, -1)
	for i, t := range self.s.Tables {
		if t.On < 0 {
			continue
		}
		if t.Join == sql.JoinLeft {
			self.addConjuncts(t.On, i)
		} else {
			self.addConjuncts(t.On, -1)
		}
	}
}

func orderColumns(s *sql.Select) []OrderColumn {
	out := []OrderColumn{}
	for _, o := range s.OrderBy {
		n := s.Tree.Node(o.Expr)
		if n.Op != sql.OpColumn {
			return nil
		}
		out = append(out, OrderColumn{
			Ref:    n.Col.Ref,
			Column: n.Col.Column,
			Desc:   o.Desc,
		})
	}
	return out
}

func (self *selectPlanner) hasLeftJoin() bool {
	for _, t := range self.s.Tables {
		if t.Join == sql.JoinLeft {
			return true
		}
	}
	return false
}

// candidates returns the WHERE conjuncts usable to read ref once bound is
// known.
func (self *selectPlanner) candidates(ref int, bound TableSet) []int {
	out := []int{}
	for _, c := range self.conj {
		if c.left >= 0 || !c.refs.Has(ref) {
			continue
		}
		if bound.With(ref).Covers(c.refs) {
			out = append(out, c.root)
		}
	}
	return out
}

func (self *selectPlanner) bound0() TableSet {
	if self.pseudo >= 0 {
		return TableSet(0).With(self.pseudo)
	}
	return 0
}

// orderTables picks the nested loop order. Tables are taken greedily, each
// time the one with the best index strategy given the tables already
// placed; ties keep the FROM order. LEFT JOIN pins the FROM order.
func (self *selectPlanner) orderTables() {
	tables := self.s.Tables
	refs := []int{}

	if len(tables) == 1 || self.hasLeftJoin() {
		for i := range tables {
			refs = append(refs, i)
		}
	} else {
		bound := self.bound0()
		remain := []int{}
		for i := range tables {
			remain = append(remain, i)
		}
		for len(remain) > 0 {
			var order []OrderColumn
			if len(refs) == 0 {
				order = self.order
			}
			pick := -1
			var best Choice
			for i, r := range remain {
				ch := ChooseIndex(self.tree, self.candidates(r, bound), tables[r].Table, r, bound, order)
				if pick < 0 || betterChoice(&ch, &best) {
					pick = i
					best = ch
				}
			}
			r := remain[pick]
			refs = append(refs, r)
			bound = bound.With(r)
			remain = append(remain[:pick], remain[pick+1:]...)
		}
	}

	for level, r := range refs {
		t := &tables[r]
		self.p.Levels = append(self.p.Levels, &Scan{
			Ref:    r,
			Name:   t.Label(),
			Table:  t.Table,
			Left:   t.Join == sql.JoinLeft,
			Level:  level,
			Filter: t.Table.Filter,
		})
	}
}

func betterChoice(a, b *Choice) bool {
	if a.Strategy != b.Strategy {
		return a.Strategy > b.Strategy
	}
	if a.EqColumns != b.EqColumns {
		return a.EqColumns > b.EqColumns
	}
	return a.OrderSatisfied && !b.OrderSatisfied
}

// placeConjuncts puts every conjunct at the first loop level where all its
// tables are bound.
func (self *selectPlanner) placeConjuncts() {
	levelOf := map[int]int{}
	for _, s := range self.p.Levels {
		levelOf[s.Ref] = s.Level
	}

	for _, c := range self.conj {
		if c.left >= 0 {
			s := self.p.Levels[levelOf[c.left]]
			s.Match = append(s.Match, c.root)
			continue
		}
		level := -1
		for ref, l := range levelOf {
			if c.refs.Has(ref) && l > level {
				level = l
			}
		}
		if level < 0 {
			if self.pseudo >= 0 && c.refs.Has(self.pseudo) {
				level = 0
			} else {
				self.p.Const = append(self.p.Const, c.root)
				continue
			}
		}
		s := self.p.Levels[level]
		if s.Left {
			s.Post = append(s.Post, c.root)
		} else {
			s.Match = append(s.Match, c.root)
		}
	}
}

// chooseIndexes runs index selection per level. Only the first table may
// satisfy the desired order; once it is processed the order is dropped.
func (self *selectPlanner) chooseIndexes() {
	bound := self.bound0()
	order := self.order
	if self.p.OrSet != nil {
		order = nil
	}
	for _, s := range self.p.Levels {
		s.Choice = ChooseIndex(self.tree, s.Match, s.Table, s.Ref, bound, order)
		bound = bound.With(s.Ref)
		order = nil
	}
	if len(self.order) > 0 && self.p.OrSet == nil {
		self.p.OrderSatisfied = self.p.Levels[0].Choice.OrderSatisfied
	}
}

func (self *selectPlanner) chooseMode() {
	s := self.s
	needSort := len(s.OrderBy) > 0 && !self.p.OrderSatisfied
	switch {
	case s.HasAggregate() || s.Distinct:
		self.p.Mode = ModeMaterialized
		break
	case needSort && s.ForUpdate:
		self.p.Mode = ModeKeyed
		break
	case needSort:
		self.p.Mode = ModeMaterialized
		break
	default:
		self.p.Mode = ModeDynamic
		break
	}
}

// source builds the join tree of the read loops.
func (self *selectPlanner) source() Node {
	var root Node
	if self.p.OrSet != nil {
		root = self.p.OrSet
	}
	for _, s := range self.p.Levels {
		if root == nil {
			root = s
		} else {
			root = &Join{Outer: root, Inner: s, Left: s.Left}
		}
	}
	if len(self.p.Const) > 0 {
		root = &Filter{Input: root, Conds: self.p.Const}
	}
	return root
}

func (self *selectPlanner) buildOutput() {
	s := self.s
	p := self.p
	root := self.source()

	if s.HasAggregate() {
		p.Aggregate = self.buildAggregate(root)
		root = p.Aggregate
	}

	res := &p.Worksets[WsResult]
	proj := &Project{Input: root, Pos: -1}
	for _, item := range s.Items {
		proj.Items = append(proj.Items, item.Expr)
		proj.Fields = append(proj.Fields, res.Add(item.Name, item.Shape))
	}
	keys := []SortKey{}
	for _, o := range s.OrderBy {
		field := -1
		if o.Item >= 0 {
			field = proj.Fields[o.Item]
		} else {
			field = res.Add("$order", self.tree.Node(o.Expr).Shape)
			proj.Hidden = append(proj.Hidden, Hidden{Expr: o.Expr, Field: field})
		}
		keys = append(keys, SortKey{Field: field, Desc: o.Desc})
	}
	if s.ForUpdate {
		proj.Pos = res.Add("$pos", PosShape)
	}
	p.Project = proj
	p.Root = proj

	if p.Mode != ModeDynamic && (len(keys) > 0 || s.Distinct) {
		p.Sort = &Sort{Input: proj, Keys: keys, Unique: s.Distinct}
		p.Root = p.Sort
	}
}

// PosShape holds a record number.
var PosShape = meta.Shape{Type: meta.TypeNum, Length: 10}

var countShape = meta.Shape{Type: meta.TypeNum, Length: 10}

func (self *selectPlanner) buildAggregate(input Node) *Aggregate {
	s := self.s
	acc := &self.p.Worksets[WsAccum]
	grp := &self.p.Worksets[WsGroup]
	srt := &self.p.Worksets[WsSort]

	agg := &Aggregate{
		Input:    input,
		Distinct: -1,
		Prev:     -1,
		Having:   s.Having,
	}
	for _, g := range s.GroupBy {
		n := self.tree.Node(g)
		agg.Groups = append(agg.Groups, GroupColumn{
			Node:  g,
			Key:   srt.Add(n.Col.Name, n.Shape),
			Saved: grp.Add(n.Col.Name, n.Shape),
		})
	}
	for _, f := range s.Aggs {
		slot := AggSlot{Func: f, Arg: -1, Sum: -1, Count: -1}
		if f.Fn != sql.AggCountStar {
			arg := self.tree.Node(f.Arg).Shape
			if f.Distinct {
				if agg.Distinct < 0 {
					agg.Distinct = srt.Add("$distinct", arg)
					agg.Prev = grp.Add("$prev", arg)
				}
				slot.Arg = agg.Distinct
			} else {
				slot.Arg = srt.Add("$arg", arg)
			}
			if f.Fn == sql.AggAvg {
				slot.Sum = acc.Add("$sum", meta.Shape{
					Type:   meta.TypeNum,
					Length: meta.MaxNumDigits + 2,
					Scale:  arg.Scale,
				})
				slot.Count = acc.Add("$count", countShape)
			}
		}
		slot.Result = acc.Add(sql.AggName(f.Fn), f.Shape)
		agg.Aggs = append(agg.Aggs, slot)
	}
	return agg
}

// ----------------------------------------------------------------------------
// OR of ANDs rewrite
//
// A conjunct shaped (a=1 AND b=2) OR (a=3 AND b=4) OR ... over one table,
// every disjunct naming the same columns, becomes a workset holding the
// tuples (1,2), (3,4). The table is then read once per tuple through the
// equalities a=orset.a AND b=orset.b, which an index can serve.

func (self *selectPlanner) disjuncts(root int, out []int) []int {
	n := self.tree.Node(root)
	if n.Op == sql.OpOr {
		out = self.disjuncts(n.L, out)
		return self.disjuncts(n.R, out)
	}
	return append(out, root)
}

// equalities returns column -> (column node, literal node) of a disjunct,
// or nil if the disjunct is not a conjunction of column = literal.
func (self *selectPlanner) equalities(root int) map[int][2]int {
	out := map[int][2]int{}
	t := self.s.Tables[0].Table
	for _, c := range self.tree.Conjuncts(root) {
		n := self.tree.Node(c)
		if n.Op != sql.OpEq {
			return nil
		}
		col, lit := n.L, n.R
		if self.tree.Node(col).Op != sql.OpColumn {
			col, lit = lit, col
		}
		cn, ln := self.tree.Node(col), self.tree.Node(lit)
		if cn.Op != sql.OpColumn || ln.Op != sql.OpLiteral || ln.Null {
			return nil
		}
		column := t.Columns[cn.Col.Column]
		if column.NoCase {
			return nil
		}
		if _, dup := out[cn.Col.Column]; dup {
			return nil
		}
		// the literal must survive conversion to the column unchanged
		buf := make([]byte, column.Length)
		if truncated, err := meta.Encode(buf, column.Shape(), ln.Text); err != nil || truncated {
			return nil
		}
		out[cn.Col.Column] = [2]int{col, lit}
	}
	return out
}

func (self *selectPlanner) rewriteOrSet() {
	t := self.s.Tables[0].Table
	for ci, c := range self.conj {
		if self.tree.Node(c.root).Op != sql.OpOr {
			continue
		}
		list := self.disjuncts(c.root, nil)
		var cols []int
		var first map[int][2]int
		rows := [][]int{}
		ok := true
		for i, d := range list {
			eq := self.equalities(d)
			if eq == nil {
				ok = false
				break
			}
			if i == 0 {
				first = eq
				for col := range eq {
					cols = append(cols, col)
				}
				sort.Ints(cols)
			} else if len(eq) != len(cols) {
				ok = false
				break
			}
			row := []int{}
			for _, col := range cols {
				x, has := eq[col]
				if !has {
					ok = false
					break
				}
				row = append(row, x[1])
			}
			if !ok {
				break
			}
			rows = append(rows, row)
		}
		if !ok || len(rows) < 2 {
			continue
		}

		// tentative equality conjuncts against the orset fields
		pseudo := len(self.s.Tables)
		eqs := []int{}
		for field, col := range cols {
			colNode := first[col][0]
			shape := t.Columns[col].Shape()
			f := self.tree.Append(sql.Node{
				Op: sql.OpColumn, L: -1, R: -1, X: -1,
				Col:   sql.ColumnRef{Name: t.Columns[col].Name, Ref: pseudo, Column: field},
				Shape: shape,
			})
			eqs = append(eqs, self.tree.Append(sql.Node{
				Op: sql.OpEq, L: colNode, R: f, X: -1,
			}))
		}
		rest := []int{}
		for j, o := range self.conj {
			if j != ci {
				rest = append(rest, o.root)
			}
		}
		ch := ChooseIndex(self.tree, append(rest, eqs...), t, 0, TableSet(0).With(pseudo), nil)
		if ch.Strategy == FullScan {
			continue
		}

		orset := &OrSet{Ref: pseudo, Table: 0, Columns: cols, Rows: rows, Conj: c.root}
		ws := &self.p.Worksets[WsOrSet]
		for _, col := range cols {
			ws.Add(t.Columns[col].Name, t.Columns[col].Shape())
		}
		self.p.OrSet = orset
		self.pseudo = pseudo

		conj := []*conjunct{}
		for j, o := range self.conj {
			if j != ci {
				conj = append(conj, o)
			}
		}
		for _, e := range eqs {
			conj = append(conj, &conjunct{
				root: e,
				refs: TableSet(0).With(0).With(pseudo),
				left: -1,
			})
		}
		self.conj = conj
		return
	}
}

// ----------------------------------------------------------------------------
// UPDATE / DELETE

func buildModify(stmt sql.Statement, tree *sql.Tree, ref sql.TableRef, where int, sets []int) (*Plan, error) {
	p := &Plan{
		Stmt:   stmt,
		Tree:   tree,
		Tables: []sql.TableRef{ref},
		Mode:   ModeDynamic,
	}
	scan := &Scan{
		Ref:    0,
		Name:   ref.Label(),
		Table:  ref.Table,
		Filter: ref.Table.Filter,
	}
	for _, c := range tree.Conjuncts(where) {
		if tree.Refs(c) == 0 {
			p.Const = append(p.Const, c)
		} else {
			scan.Match = append(scan.Match, c)
		}
	}
	scan.Choice = ChooseIndex(tree, scan.Match, ref.Table, 0, 0, nil)

	// rewriting a key column of the index being read could move the row
	// ahead of the cursor; read in record order instead
	if scan.Choice.Index >= 0 && len(sets) > 0 {
		idx := ref.Table.Indexes[scan.Choice.Index]
		touched := false
		for _, piece := range idx.Chain() {
			for _, c := range sets {
				if piece.Column == c {
					touched = true
				}
			}
		}
		if touched {
			scan.Choice = Choice{Index: -1, Strategy: FullScan}
		}
	}

	p.Levels = []*Scan{scan}
	p.Root = scan
	if len(p.Const) > 0 {
		p.Root = &Filter{Input: scan, Conds: p.Const}
	}
	return p, nil
}
