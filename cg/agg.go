package cg

import (
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/vm"
)

// aggCodeGen lowers grouping. The read loop writes one sort workset row
// per input row, holding the group keys and set function arguments. The
// sort workset is then ordered by the keys and walked; a key change
// against the group workset closes the group, which evaluates HAVING and
// appends the result row.
type aggCodeGen struct {
	sel  *selectCodeGen
	ctx  *CompilerContext
	agg  *plan.Aggregate
	keys []int // sort workset fields
	acc  []int // accumulator workset fields
	grp  []int // group workset fields
	zero int
	one  int
}

func (self *selectCodeGen) genAggregate() error {
	ctx := self.ctx
	p := self.plan
	g := &aggCodeGen{
		sel: self,
		ctx: ctx,
		agg: p.Aggregate,
	}
	var err error
	if g.zero, err = ctx.LitText(meta.NumberShape("0"), "0"); err != nil {
		return err
	}
	if g.one, err = ctx.LitText(meta.NumberShape("1"), "1"); err != nil {
		return err
	}

	ctx.Emit(vm.OpWorkInit, plan.WsSort, 0, 0)
	ctx.Emit(vm.OpWorkInit, plan.WsAccum, 1, 0)
	ctx.Emit(vm.OpWorkNewRow, plan.WsAccum, 0, 0)
	if p.Worksets[plan.WsGroup].Used() {
		ctx.Emit(vm.OpWorkInit, plan.WsGroup, 1, 0)
		ctx.Emit(vm.OpWorkNewRow, plan.WsGroup, 0, 0)
	}
	g.keys = fieldRefs(ctx, plan.WsSort, &p.Worksets[plan.WsSort])
	g.acc = fieldRefs(ctx, plan.WsAccum, &p.Worksets[plan.WsAccum])
	g.grp = fieldRefs(ctx, plan.WsGroup, &p.Worksets[plan.WsGroup])

	if err := g.collect(); err != nil {
		return err
	}
	return g.walk()
}

// collect runs the read loop into the sort workset.
func (self *aggCodeGen) collect() error {
	ctx := self.ctx
	cg := self.sel.cg
	collected := ctx.NewLabel("agg.collected")
	if err := cg.expr().require(cg.plan.Const, collected); err != nil {
		return err
	}
	err := cg.loops().emit(collected, func(next Label) error {
		e := cg.expr()
		ctx.Emit(vm.OpWorkNewRow, plan.WsSort, 0, 0)
		for _, gc := range self.agg.Groups {
			if err := e.moveTo(self.keys[gc.Key], gc.Node); err != nil {
				return err
			}
		}
		moved := map[int]bool{}
		for _, slot := range self.agg.Aggs {
			if slot.Arg < 0 || moved[slot.Arg] {
				continue
			}
			moved[slot.Arg] = true
			if err := e.moveTo(self.keys[slot.Arg], slot.Func.Arg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ctx.Place(collected)

	n := 0
	spec := func(field int) {
		reset := 0
		if n == 0 {
			reset = 1
		}
		ctx.Emit(vm.OpSortSpec, self.keys[field], 0, reset)
		n++
	}
	for _, gc := range self.agg.Groups {
		spec(gc.Key)
	}
	if self.agg.Distinct >= 0 {
		spec(self.agg.Distinct)
	}
	if n > 0 {
		ctx.Emit(vm.OpWorkSort, plan.WsSort, 0, 0)
	}
	return nil
}

// walk reads the sorted rows and breaks on group changes. Without GROUP BY
// there is exactly one group, even over no rows.
func (self *aggCodeGen) walk() error {
	ctx := self.ctx
	a := self.agg
	grouped := len(a.Groups) > 0

	finish := ctx.NewLabel("agg.finish")
	after := ctx.NewLabel("agg.after")
	loop := ctx.NewLabel("agg.loop")
	end := ctx.NewLabel("agg.end")

	row := ctx.Var()
	started := ctx.Var()
	ctx.Emit(vm.OpSet, row, 0, 0)
	ctx.Emit(vm.OpSet, started, 0, 0)
	self.reset()

	ctx.Place(loop)
	ctx.Emit(vm.OpIncr, row, 1, 0)
	ctx.Emit(vm.OpWorkGetRowCount, vm.VarScratch, plan.WsSort, 0)
	ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarScratch, row)
	ctx.Jump(vm.OpGotoIfNeg, end, vm.VarScratch)
	ctx.Emit(vm.OpWorkSetRowID, plan.WsSort, row, 0)

	if grouped {
		first := ctx.NewLabel("agg.first")
		brk := ctx.NewLabel("agg.break")
		accum := ctx.NewLabel("agg.accum")
		ctx.Jump(vm.OpGotoIfZero, first, started)
		for _, gc := range a.Groups {
			ctx.Emit(vm.OpColCompare, vm.VarCmp, self.keys[gc.Key], self.grp[gc.Saved])
			ctx.Jump(vm.OpGotoIfNotZero, brk, vm.VarCmp)
		}
		ctx.Goto(accum)

		ctx.Place(brk)
		ctx.Jump(vm.OpCall, finish)
		ctx.Place(first)
		ctx.Emit(vm.OpSet, started, 1, 0)
		for _, gc := range a.Groups {
			ctx.Emit(vm.OpColMove, self.grp[gc.Saved], self.keys[gc.Key], 0)
		}
		self.reset()
		ctx.Place(accum)
	}
	self.accumulate()
	ctx.Goto(loop)

	ctx.Place(end)
	if grouped {
		ctx.Jump(vm.OpGotoIfZero, after, started)
	}
	ctx.Jump(vm.OpCall, finish)
	ctx.Goto(after)

	ctx.Place(finish)
	if err := self.finish(); err != nil {
		return err
	}
	ctx.Place(after)
	return nil
}

// reset starts the accumulators of a new group.
func (self *aggCodeGen) reset() {
	ctx := self.ctx
	for _, slot := range self.agg.Aggs {
		res := self.acc[slot.Result]
		switch slot.Func.Fn {
		case sql.AggCountStar, sql.AggCount:
			ctx.Emit(vm.OpColMove, res, self.zero, 0)
			break
		case sql.AggAvg:
			ctx.Emit(vm.OpColMove, self.acc[slot.Sum], self.zero, 0)
			ctx.Emit(vm.OpColMove, self.acc[slot.Count], self.zero, 0)
			ctx.Emit(vm.OpColNull, res, 0, 0)
			break
		default:
			ctx.Emit(vm.OpColNull, res, 0, 0)
			break
		}
	}
	if self.agg.Prev >= 0 {
		ctx.Emit(vm.OpColNull, self.grp[self.agg.Prev], 0, 0)
	}
}

// accumulate folds the current sort row into the accumulators. NULL
// arguments are ignored; a DISTINCT argument equal to the previous one of
// the group is a duplicate, rows being sorted on it.
func (self *aggCodeGen) accumulate() {
	ctx := self.ctx
	a := self.agg
	dup := 0
	if a.Distinct >= 0 {
		dup = ctx.Var()
		ctx.Emit(vm.OpColCompare, dup, self.keys[a.Distinct], self.grp[a.Prev])
	}

	for _, slot := range a.Aggs {
		res := self.acc[slot.Result]
		if slot.Func.Fn == sql.AggCountStar {
			ctx.Emit(vm.OpColAdd, res, res, self.one)
			continue
		}
		skip := ctx.NewLabel("agg.skip")
		arg := self.keys[slot.Arg]
		ctx.Emit(vm.OpColIsNull, vm.VarCmp, arg, 0)
		ctx.Jump(vm.OpGotoIfNotZero, skip, vm.VarCmp)
		if slot.Func.Distinct {
			ctx.Jump(vm.OpGotoIfZero, skip, dup)
		}

		switch slot.Func.Fn {
		case sql.AggCount:
			ctx.Emit(vm.OpColAdd, res, res, self.one)
			break

		case sql.AggSum:
			add := ctx.NewLabel("agg.add")
			ctx.Emit(vm.OpColIsNull, vm.VarCmp, res, 0)
			ctx.Jump(vm.OpGotoIfZero, add, vm.VarCmp)
			ctx.Emit(vm.OpColMove, res, arg, 0)
			ctx.Goto(skip)
			ctx.Place(add)
			ctx.Emit(vm.OpColAdd, res, res, arg)
			break

		case sql.AggAvg:
			ctx.Emit(vm.OpColAdd, self.acc[slot.Sum], self.acc[slot.Sum], arg)
			ctx.Emit(vm.OpColAdd, self.acc[slot.Count], self.acc[slot.Count], self.one)
			break

		case sql.AggMin, sql.AggMax:
			set := ctx.NewLabel("agg.set")
			ctx.Emit(vm.OpColIsNull, vm.VarCmp, res, 0)
			ctx.Jump(vm.OpGotoIfNotZero, set, vm.VarCmp)
			ctx.Emit(vm.OpColCompare, vm.VarCmp, arg, res)
			if slot.Func.Fn == sql.AggMin {
				ctx.Jump(vm.OpGotoIfNeg, set, vm.VarCmp)
			} else {
				ctx.Jump(vm.OpGotoIfPos, set, vm.VarCmp)
			}
			ctx.Goto(skip)
			ctx.Place(set)
			ctx.Emit(vm.OpColMove, res, arg, 0)
			break
		}
		ctx.Place(skip)
	}

	if a.Distinct >= 0 {
		ctx.Emit(vm.OpColMove, self.grp[a.Prev], self.keys[a.Distinct], 0)
	}
}

// finish is the subroutine closing a group: it completes AVG, checks
// HAVING and appends the result row.
func (self *aggCodeGen) finish() error {
	ctx := self.ctx
	sel := self.sel
	a := self.agg

	for _, slot := range a.Aggs {
		if slot.Func.Fn == sql.AggAvg {
			ctx.Emit(vm.OpColDiv, self.acc[slot.Result], self.acc[slot.Sum], self.acc[slot.Count])
		}
	}

	e := sel.cg.expr()
	e.scope = self.scope(e.scope)
	ret := ctx.NewLabel("agg.return")
	if a.Having >= 0 {
		if err := e.branch(a.Having, ret, false); err != nil {
			return err
		}
	}
	if err := sel.newResultRow(e); err != nil {
		return err
	}
	ctx.Place(ret)
	ctx.Emit(vm.OpReturn, 0, 0, 0)
	return nil
}

// scope maps group columns to the group workset and set functions to
// their accumulators.
func (self *aggCodeGen) scope(base *scope) *scope {
	tree := self.sel.plan.Tree
	cols := map[colKey]int{}
	for _, gc := range self.agg.Groups {
		n := tree.Node(gc.Node)
		cols[colKey{n.Col.Ref, n.Col.Column}] = self.grp[gc.Saved]
	}
	aggs := make([]int, len(self.agg.Aggs))
	for i, slot := range self.agg.Aggs {
		aggs[i] = self.acc[slot.Result]
	}
	return base.grouped(cols, aggs)
}
