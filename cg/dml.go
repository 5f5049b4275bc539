package cg

import (
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

func (self *queryCodeGen) genInsert(s *sql.Insert) error {
	ctx := self.ctx
	t := s.Table.Table

	ctx.Emit(vm.OpClear, 0, 0, 0)
	assigned := map[int]bool{}
	for _, v := range s.Values {
		lit := ctx.Lit(t.Columns[v.Column].Shape(), v.Data)
		ctx.Emit(vm.OpColMove, ctx.Column(0, v.Column), lit, 0)
		assigned[v.Column] = true
	}

	// rows of a table instance carry the instance's filter value
	if f := t.Filter; f != nil {
		if ci, col := t.Column(f.Column); col != nil && !assigned[ci] {
			lit, err := ctx.LitText(col.Shape(), f.Value)
			if err != nil {
				return err
			}
			ctx.Emit(vm.OpColMove, ctx.Column(0, ci), lit, 0)
		}
	}

	ctx.Emit(vm.OpWrite, 0, 0, 0)
	ctx.Emit(vm.OpSet, vm.VarInfo, 1, 0)
	ctx.Emit(vm.OpTerminate, vm.StatusCount, 0, 0)
	return nil
}

// genModify lowers a searched UPDATE, or a DELETE when sets is nil. INFO
// counts the affected rows.
func (self *queryCodeGen) genModify(sets []sql.SetClause) error {
	ctx := self.ctx
	p := self.plan
	file := self.config.LockPolicy == LockFile

	if file {
		ctx.Emit(vm.OpTableLock, 0, 1, 0)
	}
	done := ctx.NewLabel("done")
	if err := self.expr().require(p.Const, done); err != nil {
		return err
	}
	err := self.loops().emit(done, func(next Label) error {
		if sets == nil {
			ctx.Emit(vm.OpDelete, 0, 0, 0)
		} else if err := self.assign(self.expr(), 0, sets); err != nil {
			return err
		}
		ctx.Emit(vm.OpIncr, vm.VarInfo, 1, 0)
		return nil
	})
	if err != nil {
		return err
	}
	ctx.Place(done)
	if file {
		ctx.Emit(vm.OpTableUnlock, 0, 1, 0)
	}
	ctx.Emit(vm.OpTerminate, vm.StatusCount, 0, 0)
	return nil
}

// assign evaluates every SET value before storing any, so that a SET
// reading a column sees the value from before the statement, then writes
// the record of table t back.
func (self *queryCodeGen) assign(e *exprCodeGen, t int, sets []sql.SetClause) error {
	ctx := e.ctx
	table := ctx.Program().Tables[t].Table
	temps := []int{}
	for _, set := range sets {
		v, err := e.value(set.Expr)
		if err != nil {
			return err
		}
		tmp := ctx.Temp(table.Columns[set.Column].Shape())
		ctx.Emit(vm.OpColMove, tmp, v, 0)
		temps = append(temps, tmp)
	}
	for i, set := range sets {
		ctx.Emit(vm.OpColMove, ctx.Column(t, set.Column), temps[i], 0)
	}
	ctx.Emit(vm.OpUpdate, t, 0, 0)
	return nil
}

func (self *queryCodeGen) genLock(s *sql.Lock) error {
	if s.Unlock {
		self.ctx.Emit(vm.OpTableUnlock, 0, 0, 0)
	} else {
		self.ctx.Emit(vm.OpTableLock, 0, 0, 0)
	}
	self.ctx.Emit(vm.OpTerminate, vm.StatusExecuted, 0, 0)
	return nil
}

// AppendUpdate derives from a FOR UPDATE cursor program the program that
// runs a positioned UPDATE: the update hook's RETURN becomes a jump to the
// SET code, which ends with the record write and a RETURN. prog itself is
// left untouched.
func AppendUpdate(prog *vm.Program, upd *sql.Update) (*vm.Program, error) {
	if prog.UpdateHook < 0 || !prog.ForUpdate {
		return nil, sqlerr.Exec(sqlerr.NoForUpdate, "cursor is not declared FOR UPDATE")
	}
	if upd.Where >= 0 {
		return nil, sqlerr.Semantic(sqlerr.ParseError, "positioned UPDATE takes no WHERE clause", "")
	}
	if len(prog.Tables) == 0 || prog.Tables[0].ID != upd.Table.ID {
		return nil, sqlerr.Semantic(sqlerr.ParseTableNotFound,
			"table is not the table of the cursor", upd.Table.Name)
	}

	ctx := extend(prog)
	out := ctx.Program()
	out.Code[prog.UpdateHook] = vm.Instr{Op: vm.OpGoto, A: ctx.PC()}
	out.Labels = append(out.Labels, vm.Label{PC: ctx.PC(), Name: "set"})

	g := &queryCodeGen{ctx: ctx, config: &Config{}, scope: newScope()}
	e := &exprCodeGen{cg: g, ctx: ctx, scope: g.scope, tree: &upd.Tree}
	if err := g.assign(e, 0, upd.Sets); err != nil {
		return nil, err
	}
	ctx.Emit(vm.OpReturn, 0, 0, 0)
	return ctx.Finish()
}
