package cg

import (
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

type colKey struct {
	ref    int
	column int
}

// scope tells the expression generator where column values live. By
// default a column is read from the record buffer of its table; the OR set
// pseudo table reads from the orset workset, and once rows are grouped,
// group columns and set functions read from the group and accumulator
// worksets.
type scope struct {
	pseudo int
	orset  []int
	cols   map[colKey]int
	aggs   []int
}

func newScope() *scope {
	return &scope{pseudo: -1, cols: map[colKey]int{}}
}

// grouped derives the scope used after grouping.
func (self *scope) grouped(cols map[colKey]int, aggs []int) *scope {
	return &scope{pseudo: self.pseudo, orset: self.orset, cols: cols, aggs: aggs}
}

// expression generation
type exprCodeGen struct {
	cg    *queryCodeGen
	ctx   *CompilerContext
	scope *scope
	tree  *sql.Tree
}

func (self *exprCodeGen) column(n *sql.Node) (int, error) {
	k := colKey{n.Col.Ref, n.Col.Column}
	if self.scope != nil {
		if r, ok := self.scope.cols[k]; ok {
			return r, nil
		}
		if n.Col.Ref == self.scope.pseudo && self.scope.pseudo >= 0 {
			return self.scope.orset[n.Col.Column], nil
		}
	}
	if n.Col.Ref < 0 || n.Col.Ref >= len(self.ctx.Program().Tables) {
		return -1, sqlerr.Internalf("column %s of unknown table %d", n.Col.Name, n.Col.Ref)
	}
	return self.ctx.Column(n.Col.Ref, n.Col.Column), nil
}

func (self *exprCodeGen) literal(n *sql.Node) (int, error) {
	if n.Null {
		return self.ctx.LitText(n.Shape, "")
	}
	return self.ctx.LitText(n.Shape, n.Text)
}

var arithOps = map[int]int{
	sql.OpAdd:    vm.OpColAdd,
	sql.OpSub:    vm.OpColSub,
	sql.OpMul:    vm.OpColMult,
	sql.OpDiv:    vm.OpColDiv,
	sql.OpConcat: vm.OpColConcat,
}

var unaryOps = map[int]int{
	sql.OpNeg:   vm.OpColNegate,
	sql.OpUpper: vm.OpColUpper,
	sql.OpLower: vm.OpColLower,
	sql.OpCast:  vm.OpColCast,
}

var trimOps = map[int]int{
	sql.TrimBoth:     vm.OpColTrimB,
	sql.TrimLeading:  vm.OpColTrimL,
	sql.TrimTrailing: vm.OpColTrimT,
}

// value emits the code computing node n and returns the reference holding
// the result. Columns and literals cost no code.
func (self *exprCodeGen) value(idx int) (int, error) {
	n := self.tree.Node(idx)
	switch n.Op {
	case sql.OpColumn:
		return self.column(n)

	case sql.OpLiteral:
		return self.literal(n)

	case sql.OpAgg:
		if self.scope == nil || n.Agg >= len(self.scope.aggs) {
			return -1, sqlerr.Internalf("set function outside of a grouped scope")
		}
		return self.scope.aggs[n.Agg], nil

	case sql.OpAdd, sql.OpSub, sql.OpMul, sql.OpDiv, sql.OpConcat:
		l, err := self.value(n.L)
		if err != nil {
			return -1, err
		}
		r, err := self.value(n.R)
		if err != nil {
			return -1, err
		}
		dst := self.ctx.Temp(n.Shape)
		self.ctx.Emit(arithOps[n.Op], dst, l, r)
		return dst, nil

	case sql.OpNeg, sql.OpUpper, sql.OpLower, sql.OpCast:
		l, err := self.value(n.L)
		if err != nil {
			return -1, err
		}
		dst := self.ctx.Temp(n.Shape)
		self.ctx.Emit(unaryOps[n.Op], dst, l, 0)
		return dst, nil

	case sql.OpTrim:
		l, err := self.value(n.L)
		if err != nil {
			return -1, err
		}
		dst := self.ctx.Temp(n.Shape)
		self.ctx.Emit(trimOps[n.Trim], dst, l, 0)
		return dst, nil

	case sql.OpSubstr:
		// all operands first, the position registers are consumed by the
		// next COLSUBSTR
		s, err := self.value(n.L)
		if err != nil {
			return -1, err
		}
		pos, err := self.value(n.R)
		if err != nil {
			return -1, err
		}
		length := -1
		if n.X >= 0 {
			if length, err = self.value(n.X); err != nil {
				return -1, err
			}
		}
		dst := self.ctx.Temp(n.Shape)
		self.ctx.Emit(vm.OpColSubPos, pos, 0, 0)
		if length >= 0 {
			self.ctx.Emit(vm.OpColSubLen, length, 0, 0)
		}
		self.ctx.Emit(vm.OpColSubstr, dst, s, 0)
		return dst, nil

	default:
		return -1, sqlerr.Internalf("%s is not a value", sql.OpName(n.Op))
	}
}

// moveTo evaluates node n into dst.
func (self *exprCodeGen) moveTo(dst int, idx int) error {
	v, err := self.value(idx)
	if err != nil {
		return err
	}
	self.ctx.Emit(vm.OpColMove, dst, v, 0)
	return nil
}

// branch jumps to l when predicate n evaluates to when and falls through
// otherwise. Predicates are two valued: NULL is the blank value and
// compares like any other.
func (self *exprCodeGen) branch(idx int, l Label, when bool) error {
	ctx := self.ctx
	n := self.tree.Node(idx)
	switch n.Op {
	case sql.OpAnd, sql.OpOr:
		// AND jumping on true and OR jumping on false need both sides
		both := (n.Op == sql.OpAnd) == when
		if both {
			skip := ctx.NewLabel("skip")
			if err := self.branch(n.L, skip, !when); err != nil {
				return err
			}
			if err := self.branch(n.R, l, when); err != nil {
				return err
			}
			ctx.Place(skip)
			return nil
		}
		if err := self.branch(n.L, l, when); err != nil {
			return err
		}
		return self.branch(n.R, l, when)

	case sql.OpNot:
		return self.branch(n.L, l, !when)

	case sql.OpIsNull, sql.OpIsNotNull:
		v, err := self.value(n.L)
		if err != nil {
			return err
		}
		ctx.Emit(vm.OpColIsNull, vm.VarCmp, v, 0)
		if (n.Op == sql.OpIsNull) == when {
			ctx.Jump(vm.OpGotoIfNotZero, l, vm.VarCmp)
		} else {
			ctx.Jump(vm.OpGotoIfZero, l, vm.VarCmp)
		}
		return nil

	case sql.OpLike:
		v, err := self.value(n.L)
		if err != nil {
			return err
		}
		p, err := self.value(n.R)
		if err != nil {
			return err
		}
		ctx.Emit(vm.OpColLike, vm.VarCmp, v, p)
		if when {
			ctx.Jump(vm.OpGotoIfNotZero, l, vm.VarCmp)
		} else {
			ctx.Jump(vm.OpGotoIfZero, l, vm.VarCmp)
		}
		return nil

	case sql.OpEq, sql.OpNe, sql.OpLt, sql.OpLe, sql.OpGt, sql.OpGe:
		a, err := self.value(n.L)
		if err != nil {
			return err
		}
		b, err := self.value(n.R)
		if err != nil {
			return err
		}
		ctx.Emit(vm.OpColCompare, vm.VarCmp, a, b)
		self.compareJump(n.Op, l, when)
		return nil

	default:
		return sqlerr.Internalf("%s is not a predicate", sql.OpName(n.Op))
	}
}

// compareJump jumps on the comparison result held in CMP.
func (self *exprCodeGen) compareJump(op int, l Label, when bool) {
	ctx := self.ctx
	if !when {
		op = negate(op)
	}
	switch op {
	case sql.OpEq:
		ctx.Jump(vm.OpGotoIfZero, l, vm.VarCmp)
		break
	case sql.OpNe:
		ctx.Jump(vm.OpGotoIfNotZero, l, vm.VarCmp)
		break
	case sql.OpLt:
		ctx.Jump(vm.OpGotoIfNeg, l, vm.VarCmp)
		break
	case sql.OpLe:
		ctx.Jump(vm.OpGotoIfNeg, l, vm.VarCmp)
		ctx.Jump(vm.OpGotoIfZero, l, vm.VarCmp)
		break
	case sql.OpGt:
		ctx.Jump(vm.OpGotoIfPos, l, vm.VarCmp)
		break
	case sql.OpGe:
		ctx.Jump(vm.OpGotoIfPos, l, vm.VarCmp)
		ctx.Jump(vm.OpGotoIfZero, l, vm.VarCmp)
		break
	}
}

func negate(op int) int {
	switch op {
	case sql.OpEq:
		return sql.OpNe
	case sql.OpNe:
		return sql.OpEq
	case sql.OpLt:
		return sql.OpGe
	case sql.OpLe:
		return sql.OpGt
	case sql.OpGt:
		return sql.OpLe
	default:
		return sql.OpLt
	}
}

// require jumps to l unless every conjunct holds.
func (self *exprCodeGen) require(conj []int, l Label) error {
	for _, c := range conj {
		if err := self.branch(c, l, false); err != nil {
			return err
		}
	}
	return nil
}

func fieldRefs(ctx *CompilerContext, ws int, layout *plan.Layout) []int {
	out := make([]int, len(layout.Fields))
	for i := range layout.Fields {
		out[i] = ctx.Field(ws, layout, i)
	}
	return out
}
