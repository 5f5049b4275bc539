package cg

import (
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

// selectCodeGen lowers a SELECT into a cursor program. The program is
// entered at pc 0 on every call and dispatches on FUNC:
//
//	INIT          open the cursor; dynamic programs probe for a first row,
//	              materialized ones build and sort the whole result
//	NEXT .. REL   compute TARGET and jump to seek
//	ROWCOUNT      report the result size, counting it first if needed
//	UPDATE/DELETE positioned statements on the current row
//
// The seek routine of a dynamic program restarts the read loop when the
// target lies behind the loaded row and resumes it when it lies ahead.
// A materialized program just selects the target row of the result
// workset.
type selectCodeGen struct {
	cg   *queryCodeGen
	ctx  *CompilerContext
	plan *plan.Plan
	stmt *sql.Select

	fn       [vm.FnDelete + 1]Label
	start    Label
	resume   Label
	seek     Label
	replyRow Label
	replyEnd Label
	project  Label
	hook     Label

	// result workset fields, materialized and keyed modes
	ws0        []int
	resultRefs func() ([]int, error)
}

func (self *selectCodeGen) dynamic() bool { return self.plan.Mode == plan.ModeDynamic }
func (self *selectCodeGen) keyed() bool   { return self.plan.Mode == plan.ModeKeyed }

func (self *selectCodeGen) gen() error {
	self.ctx = self.cg.ctx
	self.plan = self.cg.plan
	ctx := self.ctx
	p := self.plan
	prog := ctx.Program()

	prog.Mode = p.Mode.String()
	prog.ForUpdate = p.ForUpdate
	prog.NoWait = self.stmt.NoWait
	prog.Updatable = 'R'
	if p.ForUpdate {
		prog.Updatable = 'W'
	}
	for ws := range p.Worksets {
		prog.Worksets = append(prog.Worksets, vm.WorksetDef{
			Name:   plan.WorksetName(ws),
			RowLen: p.Worksets[ws].RowLen,
		})
	}

	for fn := range self.fn {
		self.fn[fn] = ctx.NewLabel(fnName[fn])
	}
	self.start = ctx.NewLabel("start")
	self.resume = ctx.NewLabel("resume")
	self.seek = ctx.NewLabel("seek")
	self.replyRow = ctx.NewLabel("reply.row")
	self.replyEnd = ctx.NewLabel("reply.end")
	self.project = ctx.NewLabel("project")
	self.hook = ctx.NewLabel("hook")

	self.dispatch()

	ctx.Place(self.fn[vm.FnInit])
	var err error
	if self.dynamic() {
		err = self.genDynamic()
	} else {
		err = self.genMaterialized()
	}
	if err != nil {
		return err
	}
	self.genFunctions()
	self.genReply()
	if err := self.genPositioned(); err != nil {
		return err
	}
	return self.genProject()
}

var fnName = []string{
	vm.FnInit:     "init",
	vm.FnNext:     "next",
	vm.FnPrev:     "prev",
	vm.FnFirst:    "first",
	vm.FnLast:     "last",
	vm.FnAbsolute: "absolute",
	vm.FnRelative: "relative",
	vm.FnRowCount: "rowcount",
	vm.FnUpdate:   "update",
	vm.FnDelete:   "delete",
}

func (self *selectCodeGen) dispatch() {
	ctx := self.ctx
	ctx.Jump(vm.OpGotoIfZero, self.fn[vm.FnInit], vm.VarFunc)
	for fn := vm.FnNext; fn <= vm.FnDelete; fn++ {
		ctx.Emit(vm.OpSet, vm.VarScratch, fn, 0)
		ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarFunc, vm.VarScratch)
		ctx.Jump(vm.OpGotoIfZero, self.fn[fn], vm.VarScratch)
	}
	ctx.Emit(vm.OpFail, sqlerr.BadCmd, 0, 0)
}

// empty ends an open call that found no row. Without FOR UPDATE the
// cursor is dropped.
func (self *selectCodeGen) empty() {
	ctx := self.ctx
	if self.plan.ForUpdate {
		ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
		ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusEnd, 0)
		ctx.Emit(vm.OpFinish, 0, 0, 0)
	} else {
		ctx.Emit(vm.OpTerminate, vm.StatusEmpty, 0, 0)
	}
}

// ----------------------------------------------------------------------------
// dynamic mode

func (self *selectCodeGen) genDynamic() error {
	ctx := self.ctx
	p := self.plan

	ctx.Emit(vm.OpSet, vm.VarCount, -1, 0)
	ctx.Emit(vm.OpSet, vm.VarRecnum, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarCounting, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarReport, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarProbe, 1, 0)
	ctx.Emit(vm.OpSet, vm.VarTarget, 1, 0)
	if err := self.cg.prepareOrSet(); err != nil {
		return err
	}

	done := ctx.NewLabel("done")
	probed := ctx.NewLabel("probed")

	ctx.Place(self.start)
	if err := self.cg.expr().require(p.Const, done); err != nil {
		return err
	}
	err := self.cg.loops().emit(done, func(next Label) error {
		ctx.Emit(vm.OpIncr, vm.VarRecnum, 1, 0)
		ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarTarget, vm.VarRecnum)
		ctx.Jump(vm.OpGotoIfPos, next, vm.VarScratch)
		ctx.Jump(vm.OpCall, self.project)
		ctx.Jump(vm.OpGotoIfNotZero, probed, vm.VarProbe)
		ctx.Emit(vm.OpMove, vm.VarCurrent, vm.VarRecnum, 0)
		ctx.Goto(self.replyRow)
		ctx.Place(self.resume)
		return nil
	})
	if err != nil {
		return err
	}

	// the open call found a row; it is delivered by the first NEXT
	ctx.Place(probed)
	ctx.Emit(vm.OpSet, vm.VarProbe, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusRow, 0)
	ctx.Emit(vm.OpFinish, 0, 0, 0)

	// the loop ran to its end, the result size is now known
	counted := ctx.NewLabel("counted")
	eof := ctx.NewLabel("eof")
	ctx.Place(done)
	ctx.Emit(vm.OpMove, vm.VarCount, vm.VarRecnum, 0)
	ctx.Emit(vm.OpSet, vm.VarRecnum, seekEnd, 0)
	ctx.Jump(vm.OpGotoIfZero, counted, vm.VarProbe)
	self.empty()

	ctx.Place(counted)
	ctx.Jump(vm.OpGotoIfZero, eof, vm.VarCounting)
	notLast := ctx.NewLabel("counted.abs")
	notAbs := ctx.NewLabel("counted.rowcount")
	self.ifNotFn(vm.VarCounting, vm.FnLast, notLast)
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarCount, 0)
	ctx.Emit(vm.OpSet, vm.VarCounting, 0, 0)
	ctx.Goto(self.seek)
	ctx.Place(notLast)
	self.ifNotFn(vm.VarCounting, vm.FnAbsolute, notAbs)
	ctx.Emit(vm.OpAdd, vm.VarTarget, vm.VarCount, vm.VarArg)
	ctx.Emit(vm.OpIncr, vm.VarTarget, 1, 0)
	ctx.Emit(vm.OpSet, vm.VarCounting, 0, 0)
	ctx.Goto(self.seek)
	ctx.Place(notAbs)
	// ROWCOUNT goes back to the row that was current
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarCurrent, 0)
	ctx.Emit(vm.OpSet, vm.VarCounting, 0, 0)
	ctx.Goto(self.seek)

	ctx.Place(eof)
	self.pastEnd()

	// seek
	ahead := ctx.NewLabel("seek.ahead")
	unknown := ctx.NewLabel("seek.unknown")
	restart := ctx.NewLabel("seek.restart")
	past := ctx.NewLabel("seek.past")
	ctx.Place(self.seek)
	ctx.Jump(vm.OpGotoIfPos, ahead, vm.VarTarget)
	ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
	ctx.Goto(self.replyEnd)
	ctx.Place(ahead)
	ctx.Jump(vm.OpGotoIfNeg, unknown, vm.VarCount)
	ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarTarget, vm.VarCount)
	ctx.Jump(vm.OpGotoIfPos, past, vm.VarScratch)
	ctx.Place(unknown)
	ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarTarget, vm.VarRecnum)
	ctx.Jump(vm.OpGotoIfNeg, restart, vm.VarScratch)
	ctx.Jump(vm.OpGotoIfPos, self.resume, vm.VarScratch)
	ctx.Emit(vm.OpMove, vm.VarCurrent, vm.VarTarget, 0)
	ctx.Goto(self.replyRow)
	ctx.Place(restart)
	ctx.Emit(vm.OpSet, vm.VarRecnum, 0, 0)
	ctx.Goto(self.start)
	ctx.Place(past)
	self.pastEnd()

	self.setResult(self.itemRefs)
	return nil
}

// ifNotFn jumps to l unless variable v holds function code fn.
func (self *selectCodeGen) ifNotFn(v int, fn int, l Label) {
	ctx := self.ctx
	ctx.Emit(vm.OpSet, vm.VarScratch, fn, 0)
	ctx.Emit(vm.OpSub, vm.VarScratch, v, vm.VarScratch)
	ctx.Jump(vm.OpGotoIfNotZero, l, vm.VarScratch)
}

func (self *selectCodeGen) pastEnd() {
	ctx := self.ctx
	ctx.Emit(vm.OpMove, vm.VarCurrent, vm.VarCount, 0)
	ctx.Emit(vm.OpIncr, vm.VarCurrent, 1, 0)
	ctx.Goto(self.replyEnd)
}

// ----------------------------------------------------------------------------
// materialized and keyed modes

func (self *selectCodeGen) genMaterialized() error {
	ctx := self.ctx
	p := self.plan

	ctx.Emit(vm.OpSet, vm.VarCount, -1, 0)
	ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarCounting, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarReport, 0, 0)
	ctx.Emit(vm.OpWorkInit, plan.WsResult, 0, 0)
	self.ws0 = fieldRefs(ctx, plan.WsResult, &p.Worksets[plan.WsResult])
	if err := self.cg.prepareOrSet(); err != nil {
		return err
	}

	built := ctx.NewLabel("built")
	if p.Aggregate != nil {
		if err := self.genAggregate(); err != nil {
			return err
		}
	} else {
		if err := self.cg.expr().require(p.Const, built); err != nil {
			return err
		}
		err := self.cg.loops().emit(built, func(next Label) error {
			return self.newResultRow(self.cg.expr())
		})
		if err != nil {
			return err
		}
	}
	ctx.Place(built)

	if s := p.Sort; s != nil {
		if s.Unique {
			// rows are equal when their select items compare equal
			for i, f := range p.Project.Fields {
				reset := 0
				if i == 0 {
					reset = 1
				}
				ctx.Emit(vm.OpSortSpec, self.ws0[f], 0, reset)
			}
			ctx.Emit(vm.OpWorkUnique, plan.WsResult, 1, 0)
		}
		for i, k := range s.Keys {
			desc := 0
			if k.Desc {
				desc = 1
			}
			reset := 0
			if i == 0 {
				reset = 1
			}
			ctx.Emit(vm.OpSortSpec, self.ws0[k.Field], desc, reset)
		}
		if len(s.Keys) > 0 {
			ctx.Emit(vm.OpWorkSort, plan.WsResult, 0, 0)
		}
	}

	some := ctx.NewLabel("built.rows")
	ctx.Emit(vm.OpWorkGetRowCount, vm.VarCount, plan.WsResult, 0)
	ctx.Jump(vm.OpGotoIfNotZero, some, vm.VarCount)
	self.empty()
	ctx.Place(some)
	ctx.Emit(vm.OpMove, vm.VarInfo, vm.VarCount, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusResult, 0)
	ctx.Emit(vm.OpFinish, 0, 0, 0)

	// seek
	ahead := ctx.NewLabel("seek.ahead")
	past := ctx.NewLabel("seek.past")
	ctx.Place(self.seek)
	ctx.Jump(vm.OpGotoIfPos, ahead, vm.VarTarget)
	ctx.Emit(vm.OpSet, vm.VarCurrent, 0, 0)
	ctx.Goto(self.replyEnd)
	ctx.Place(ahead)
	ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarTarget, vm.VarCount)
	ctx.Jump(vm.OpGotoIfPos, past, vm.VarScratch)
	ctx.Emit(vm.OpMove, vm.VarCurrent, vm.VarTarget, 0)
	ctx.Emit(vm.OpWorkSetRowID, plan.WsResult, vm.VarCurrent, 0)
	if self.keyed() {
		// a row deleted since the open reads as a hole
		ctx.Jump(vm.OpReadPos, self.replyEnd, 0, self.ws0[p.Project.Pos])
		ctx.Jump(vm.OpCall, self.project)
	}
	ctx.Goto(self.replyRow)
	ctx.Place(past)
	self.pastEnd()

	if self.keyed() {
		self.setResult(self.itemRefs)
	} else {
		self.setResult(func() ([]int, error) {
			out := []int{}
			for _, f := range p.Project.Fields {
				out = append(out, self.ws0[f])
			}
			return out, nil
		})
	}
	return nil
}

// newResultRow appends one row to the result workset, evaluating select
// items and hidden ORDER BY keys in the scope of e.
func (self *selectCodeGen) newResultRow(e *exprCodeGen) error {
	ctx := self.ctx
	proj := self.plan.Project
	ctx.Emit(vm.OpWorkNewRow, plan.WsResult, 0, 0)
	for i, item := range proj.Items {
		if err := e.moveTo(self.ws0[proj.Fields[i]], item); err != nil {
			return err
		}
	}
	for _, h := range proj.Hidden {
		if err := e.moveTo(self.ws0[h.Field], h.Expr); err != nil {
			return err
		}
	}
	if proj.Pos >= 0 && self.plan.Aggregate == nil {
		ctx.Emit(vm.OpFPosToCol, self.ws0[proj.Pos], 0, 0)
	}
	return nil
}

// ----------------------------------------------------------------------------
// row functions

func (self *selectCodeGen) genFunctions() {
	ctx := self.ctx
	dynamic := self.dynamic()

	ctx.Place(self.fn[vm.FnNext])
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarCurrent, 0)
	ctx.Emit(vm.OpIncr, vm.VarTarget, 1, 0)
	ctx.Goto(self.seek)

	ctx.Place(self.fn[vm.FnPrev])
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarCurrent, 0)
	ctx.Emit(vm.OpIncr, vm.VarTarget, -1, 0)
	ctx.Goto(self.seek)

	ctx.Place(self.fn[vm.FnFirst])
	ctx.Emit(vm.OpSet, vm.VarTarget, 1, 0)
	ctx.Goto(self.seek)

	// LAST and a negative ABSOLUTE need the row count; a dynamic cursor
	// that does not know it yet runs the loop to its end first
	ctx.Place(self.fn[vm.FnLast])
	if dynamic {
		self.needCount(vm.FnLast)
	}
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarCount, 0)
	ctx.Goto(self.seek)

	neg := ctx.NewLabel("absolute.neg")
	ctx.Place(self.fn[vm.FnAbsolute])
	ctx.Jump(vm.OpGotoIfNeg, neg, vm.VarArg)
	ctx.Emit(vm.OpMove, vm.VarTarget, vm.VarArg, 0)
	ctx.Goto(self.seek)
	ctx.Place(neg)
	if dynamic {
		self.needCount(vm.FnAbsolute)
	}
	ctx.Emit(vm.OpAdd, vm.VarTarget, vm.VarCount, vm.VarArg)
	ctx.Emit(vm.OpIncr, vm.VarTarget, 1, 0)
	ctx.Goto(self.seek)

	ctx.Place(self.fn[vm.FnRelative])
	ctx.Emit(vm.OpAdd, vm.VarTarget, vm.VarCurrent, vm.VarArg)
	ctx.Goto(self.seek)

	ctx.Place(self.fn[vm.FnRowCount])
	if dynamic {
		known := ctx.NewLabel("rowcount.known")
		self.ifKnown(known)
		ctx.Emit(vm.OpSet, vm.VarReport, 1, 0)
		self.countFirst(vm.FnRowCount)
		ctx.Place(known)
	}
	ctx.Emit(vm.OpMove, vm.VarInfo, vm.VarCount, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusCount, 0)
	ctx.Emit(vm.OpFinish, 0, 0, 0)
}

// needCount falls through when COUNT is known and otherwise makes the
// seek run the loop to its end, resolving fn once it is.
func (self *selectCodeGen) needCount(fn int) {
	known := self.ctx.NewLabel(fnName[fn] + ".known")
	self.ifKnown(known)
	self.countFirst(fn)
	self.ctx.Place(known)
}

// ifKnown jumps to l when the row count is known; it is -1 until then.
func (self *selectCodeGen) ifKnown(l Label) {
	self.ctx.Jump(vm.OpGotoIfPos, l, vm.VarCount)
	self.ctx.Jump(vm.OpGotoIfZero, l, vm.VarCount)
}

func (self *selectCodeGen) countFirst(fn int) {
	ctx := self.ctx
	ctx.Emit(vm.OpSet, vm.VarCounting, fn, 0)
	ctx.Emit(vm.OpSet, vm.VarTarget, seekEnd, 0)
	ctx.Goto(self.seek)
}

func (self *selectCodeGen) genReply() {
	ctx := self.ctx
	reply := ctx.NewLabel("reply")
	fin := ctx.NewLabel("reply.finish")

	ctx.Place(self.replyRow)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusRow, 0)
	ctx.Goto(reply)

	ctx.Place(self.replyEnd)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusEnd, 0)

	// a ROWCOUNT that had to count reports the count instead of the row
	ctx.Place(reply)
	ctx.Jump(vm.OpGotoIfZero, fin, vm.VarReport)
	ctx.Emit(vm.OpSet, vm.VarReport, 0, 0)
	ctx.Emit(vm.OpMove, vm.VarInfo, vm.VarCount, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusCount, 0)
	ctx.Place(fin)
	ctx.Emit(vm.OpFinish, 0, 0, 0)
}

// ----------------------------------------------------------------------------
// positioned UPDATE and DELETE

func (self *selectCodeGen) genPositioned() error {
	ctx := self.ctx
	if !self.plan.ForUpdate {
		ctx.Place(self.fn[vm.FnUpdate])
		ctx.Place(self.fn[vm.FnDelete])
		ctx.Emit(vm.OpFail, sqlerr.NoForUpdate, 0, 0)
		ctx.Place(self.hook)
		return nil
	}

	bad := ctx.NewLabel("positioned.bad")
	ctx.Place(self.fn[vm.FnUpdate])
	self.currentRow(bad)
	ctx.Jump(vm.OpCall, self.hook)
	ctx.Jump(vm.OpCall, self.project)
	ctx.Emit(vm.OpSet, vm.VarInfo, 1, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusCount, 0)
	ctx.Emit(vm.OpFinish, 0, 0, 0)

	ctx.Place(self.fn[vm.FnDelete])
	self.currentRow(bad)
	ctx.Emit(vm.OpDelete, 0, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarInfo, 1, 0)
	ctx.Emit(vm.OpSet, vm.VarStatus, vm.StatusCount, 0)
	ctx.Emit(vm.OpFinish, 0, 0, 0)

	ctx.Place(bad)
	ctx.Emit(vm.OpFail, sqlerr.BadRowID, 0, 0)

	// replaced by the SET code of a positioned UPDATE
	ctx.Place(self.hook)
	ctx.Program().UpdateHook = ctx.PC()
	ctx.Emit(vm.OpReturn, 0, 0, 0)
	return nil
}

// currentRow checks that the cursor is on a row and that the row is the
// one held in the record buffer.
func (self *selectCodeGen) currentRow(bad Label) {
	ctx := self.ctx
	ctx.Jump(vm.OpGotoIfNeg, bad, vm.VarCurrent)
	ctx.Jump(vm.OpGotoIfZero, bad, vm.VarCurrent)
	if self.dynamic() {
		ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarCurrent, vm.VarRecnum)
		ctx.Jump(vm.OpGotoIfNotZero, bad, vm.VarScratch)
		return
	}
	ctx.Emit(vm.OpSub, vm.VarScratch, vm.VarCurrent, vm.VarCount)
	ctx.Jump(vm.OpGotoIfPos, bad, vm.VarScratch)
	ctx.Emit(vm.OpWorkSetRowID, plan.WsResult, vm.VarCurrent, 0)
	ctx.Jump(vm.OpReadPos, bad, 0, self.ws0[self.plan.Project.Pos])
}

// ----------------------------------------------------------------------------
// result columns

// itemRefs emits the project subroutine body: the select items that are
// not plain columns are computed into temps from the loaded records.
func (self *selectCodeGen) itemRefs() ([]int, error) {
	e := self.cg.expr()
	out := []int{}
	for _, item := range self.plan.Project.Items {
		r, err := e.value(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (self *selectCodeGen) setResult(refs func() ([]int, error)) {
	self.resultRefs = refs
}

// genProject emits the project subroutine and names the result columns.
// Materialized programs never call it; their result lives in the workset.
func (self *selectCodeGen) genProject() error {
	ctx := self.ctx
	ctx.Place(self.project)
	refs, err := self.resultRefs()
	if err != nil {
		return err
	}
	ctx.Emit(vm.OpReturn, 0, 0, 0)

	prog := ctx.Program()
	for i, item := range self.stmt.Items {
		prog.Result = append(prog.Result, vm.ResultColumn{
			Name: item.Name,
			Ref:  refs[i],
		})
	}
	return nil
}
