package cg

import (
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/vm"
)

// loopCodeGen lowers the nested loop levels of a plan. The body is emitted
// once, inside the innermost level; it gets the label that advances the
// innermost loop.
//
// Every level has the same layout:
//
//	open:   position the table and read the first candidate row
//	check:  key guards, row filter, match conjuncts, post conjuncts
//	        -> inner level or body
//	next:   read the following candidate, goto check
//	end:    the level is exhausted, goto the next of the outer level
//
// A LEFT JOIN level also remembers whether any row matched; when none did
// it blanks the record buffer and runs the post conjuncts and the inner
// levels once more.
type loopCodeGen struct {
	cg   *queryCodeGen
	ctx  *CompilerContext
	plan *plan.Plan
	expr *exprCodeGen
}

func (self *queryCodeGen) loops() *loopCodeGen {
	return &loopCodeGen{
		cg:   self,
		ctx:  self.ctx,
		plan: self.plan,
		expr: self.expr(),
	}
}

// emit writes the loops. Control reaches done once the outermost level is
// exhausted.
func (self *loopCodeGen) emit(done Label, body func(next Label) error) error {
	ctx := self.ctx
	up := done
	if self.plan.OrSet != nil {
		row := ctx.Var()
		ctx.Emit(vm.OpSet, row, 0, 0)
		next := ctx.NewLabel("orset.next")
		ctx.Place(next)
		ctx.Emit(vm.OpIncr, row, 1, 0)
		ctx.Emit(vm.OpWorkGetRowCount, vm.VarScratch, plan.WsOrSet, 0)
		ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarScratch, row)
		ctx.Jump(vm.OpGotoIfNeg, done, vm.VarScratch)
		ctx.Emit(vm.OpWorkSetRowID, plan.WsOrSet, row, 0)
		up = next
	}
	if len(self.plan.Levels) == 0 {
		if err := body(up); err != nil {
			return err
		}
		ctx.Goto(up)
		return nil
	}
	return self.level(0, up, body)
}

func (self *loopCodeGen) level(i int, up Label, body func(next Label) error) error {
	ctx := self.ctx
	s := self.plan.Levels[i]
	t := s.Ref

	open := ctx.NewLabel(s.Name + ".open")
	check := ctx.NewLabel(s.Name + ".check")
	post := ctx.NewLabel(s.Name + ".post")
	next := ctx.NewLabel(s.Name + ".next")
	end := ctx.NewLabel(s.Name + ".end")

	matched, ext := 0, 0
	if s.Left {
		matched = ctx.Var()
		ext = ctx.Var()
	}

	ctx.Place(open)
	if s.Left {
		ctx.Emit(vm.OpSet, matched, 0, 0)
		ctx.Emit(vm.OpSet, ext, 0, 0)
	}
	if err := self.position(s, end); err != nil {
		return err
	}

	ctx.Place(check)
	if err := self.guards(s, end); err != nil {
		return err
	}
	if err := self.filter(s, next); err != nil {
		return err
	}
	if err := self.expr.require(s.Match, next); err != nil {
		return err
	}
	if s.Left {
		ctx.Emit(vm.OpSet, matched, 1, 0)
	}
	ctx.Place(post)
	if err := self.expr.require(s.Post, next); err != nil {
		return err
	}

	if i+1 < len(self.plan.Levels) {
		if err := self.level(i+1, next, body); err != nil {
			return err
		}
	} else {
		if err := body(next); err != nil {
			return err
		}
		ctx.Goto(next)
	}

	ctx.Place(next)
	if s.Left {
		ctx.Jump(vm.OpGotoIfNotZero, up, ext)
	}
	if s.Choice.Strategy == plan.Exact {
		// a unique key matches one record at most
		ctx.Goto(end)
	} else {
		ctx.Jump(vm.OpReadNext, end, t)
		ctx.Goto(check)
	}

	ctx.Place(end)
	if s.Left {
		ctx.Jump(vm.OpGotoIfNotZero, up, matched)
		ctx.Emit(vm.OpSet, ext, 1, 0)
		ctx.Emit(vm.OpClear, t, 0, 0)
		ctx.Goto(post)
	} else {
		ctx.Goto(up)
	}
	return nil
}

func (self *loopCodeGen) isam(s *plan.Scan) bool {
	return s.Choice.Index >= 0 && s.Table.Indexes[s.Choice.Index].Type == meta.IndexISAM
}

// boundValue is the reference holding the value a key piece is compared
// with. LIKE patterns without wildcards carry their text instead of a node.
func (self *loopCodeGen) boundValue(s *plan.Scan, col int, b *plan.Bound) (int, error) {
	if b.Value < 0 {
		return self.ctx.LitText(s.Table.Columns[col].Shape(), b.Text)
	}
	return self.expr.value(b.Value)
}

func prefixShape(prefix string) meta.Shape {
	return meta.Shape{Type: meta.TypeChar, Length: len(prefix)}
}

// position emits the code reading the first candidate row of s, jumping
// to end when there is none.
func (self *loopCodeGen) position(s *plan.Scan, end Label) error {
	ctx := self.ctx
	ch := &s.Choice
	t := s.Ref

	keyed := false
	for _, p := range ch.Trace {
		if p.Eq != nil || p.Lo != nil {
			keyed = true
		}
	}
	if !keyed {
		// record order, or index order for an ORDER BY the index satisfies
		ctx.Emit(vm.OpSetFirst, t, ch.Index, 0)
		ctx.Jump(vm.OpReadNext, end, t)
		return nil
	}

	ctx.Emit(vm.OpKeyInit, t, ch.Index, 0)
	for _, p := range ch.Trace {
		switch {
		case p.Eq != nil:
			r, err := self.boundValue(s, p.Column, p.Eq)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpKeyAppend, t, r, p.Column)
			break

		case p.Lo != nil && p.Lo.Op == sql.OpLike:
			lit, err := ctx.LitText(prefixShape(p.Lo.Text), p.Lo.Text)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpKeyLike, t, lit, p.Column)
			break

		case p.Lo != nil:
			r, err := self.boundValue(s, p.Column, p.Lo)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpKeyAppend, t, r, p.Column)
			if p.Lo.Op == sql.OpGt {
				ctx.Emit(vm.OpKeyIncr, t, 0, 0)
			}
			break
		}
	}
	ctx.Jump(vm.OpReadByKey, end, t)
	return nil
}

// guards stop an ISAM read as soon as the key leaves the range the trace
// describes. Associative reads return matching records only.
func (self *loopCodeGen) guards(s *plan.Scan, end Label) error {
	if !self.isam(s) || s.Choice.Strategy == plan.Exact {
		return nil
	}
	ctx := self.ctx
	t := s.Ref
	for _, p := range s.Choice.Trace {
		col := ctx.Column(t, p.Column)
		if p.Eq != nil {
			r, err := self.boundValue(s, p.Column, p.Eq)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpColCompare, vm.VarCmp, col, r)
			ctx.Jump(vm.OpGotoIfNotZero, end, vm.VarCmp)
			continue
		}
		if p.Lo != nil && p.Lo.Op == sql.OpLike {
			shape := prefixShape(p.Lo.Text)
			head := ctx.Temp(shape)
			lit, err := ctx.LitText(shape, p.Lo.Text)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpColMove, head, col, 0)
			ctx.Emit(vm.OpColCompare, vm.VarCmp, head, lit)
			ctx.Jump(vm.OpGotoIfNotZero, end, vm.VarCmp)
		}
		if p.Hi != nil {
			r, err := self.boundValue(s, p.Column, p.Hi)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpColCompare, vm.VarCmp, col, r)
			ctx.Jump(vm.OpGotoIfPos, end, vm.VarCmp)
			if p.Hi.Op == sql.OpLt {
				ctx.Jump(vm.OpGotoIfZero, end, vm.VarCmp)
			}
		}
	}
	return nil
}

// filter skips records of a table instance bound to a row filter.
func (self *loopCodeGen) filter(s *plan.Scan, next Label) error {
	f := s.Filter
	if f == nil {
		return nil
	}
	ci, col := s.Table.Column(f.Column)
	if col == nil {
		return nil
	}
	ctx := self.ctx
	lit, err := ctx.LitText(col.Shape(), f.Value)
	if err != nil {
		return err
	}
	ctx.Emit(vm.OpColCompare, vm.VarCmp, ctx.Column(s.Ref, ci), lit)
	ctx.Jump(vm.OpGotoIfNotZero, next, vm.VarCmp)
	return nil
}

// prepareOrSet fills the orset workset with the literal tuples, once, when
// the cursor opens. Duplicate tuples are dropped so no row is read twice.
func (self *queryCodeGen) prepareOrSet() error {
	o := self.plan.OrSet
	if o == nil {
		return nil
	}
	ctx := self.ctx
	layout := &self.plan.Worksets[plan.WsOrSet]
	fields := fieldRefs(ctx, plan.WsOrSet, layout)

	ctx.Emit(vm.OpWorkInit, plan.WsOrSet, len(o.Rows), 0)
	for _, row := range o.Rows {
		ctx.Emit(vm.OpWorkNewRow, plan.WsOrSet, 0, 0)
		for i, lit := range row {
			n := self.plan.Tree.Node(lit)
			r, err := ctx.LitText(layout.Fields[i].Shape, n.Text)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpColMove, fields[i], r, 0)
		}
	}
	ctx.Emit(vm.OpWorkUnique, plan.WsOrSet, 0, 0)

	self.scope.pseudo = o.Ref
	self.scope.orset = fields
	return nil
}
