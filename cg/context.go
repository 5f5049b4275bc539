package cg

import (
	"fmt"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

// Label is a code address that may not be known yet.
type Label int

type labelState struct {
	name string
	pc   int // -1 until placed
}

// patch is an operand waiting for a label to be placed.
type patch struct {
	at      int
	operand int
	label   Label
}

// CompilerContext holds everything one compilation writes: the program
// under construction, the label table with its pending patches and the
// variable allocator. Nothing is shared between two contexts.
type CompilerContext struct {
	prog    *vm.Program
	labels  []labelState
	pending []patch
	nextVar int
	err     error
}

func NewCompilerContext(kind int) *CompilerContext {
	return &CompilerContext{
		prog: &vm.Program{
			Kind:       kind,
			UpdateHook: -1,
		},
		nextVar: vm.VarFirstFree,
	}
}

// extend continues writing into a copy of an existing program. Labels of
// the original are fixed addresses and are not reopened.
func extend(p *vm.Program) *CompilerContext {
	out := p.Clone()
	if out.NumVars < vm.VarFirstFree {
		out.NumVars = vm.VarFirstFree
	}
	return &CompilerContext{
		prog:    out,
		nextVar: out.NumVars,
	}
}

func (self *CompilerContext) Program() *vm.Program { return self.prog }

func (self *CompilerContext) fail(err error) {
	if self.err == nil {
		self.err = err
	}
}

func (self *CompilerContext) PC() int { return len(self.prog.Code) }

func (self *CompilerContext) NewLabel(name string) Label {
	self.labels = append(self.labels, labelState{name: name, pc: -1})
	return Label(len(self.labels) - 1)
}

// Place binds l to the next instruction and patches every jump waiting
// for it.
func (self *CompilerContext) Place(l Label) {
	st := &self.labels[l]
	if st.pc >= 0 {
		self.fail(sqlerr.Internalf("label %s placed twice", st.name))
		return
	}
	st.pc = self.PC()
	self.prog.Labels = append(self.prog.Labels, vm.Label{
		PC:   st.pc,
		Name: fmt.Sprintf("%s.%d", st.name, int(l)),
	})

	rest := self.pending[:0]
	for _, p := range self.pending {
		if p.label == l {
			self.prog.Code[p.at].SetOperand(p.operand, st.pc)
		} else {
			rest = append(rest, p)
		}
	}
	self.pending = rest
}

func (self *CompilerContext) Emit(op, a, b, c int) int {
	self.prog.Code = append(self.prog.Code, vm.Instr{Op: op, A: a, B: b, C: c})
	return self.PC() - 1
}

// Jump emits a branching instruction. The label goes into the address
// operand of op; args fill the other operands in order.
func (self *CompilerContext) Jump(op int, l Label, args ...int) int {
	slot := vm.LabelOperand(op)
	if slot < 0 {
		self.fail(sqlerr.Internalf("%s takes no label", vm.OpName(op)))
		return -1
	}
	ops := [3]int{}
	n := 0
	for i := range ops {
		if i == slot {
			continue
		}
		if n < len(args) {
			ops[i] = args[n]
			n++
		}
	}
	at := self.Emit(op, ops[0], ops[1], ops[2])
	if pc := self.labels[l].pc; pc >= 0 {
		self.prog.Code[at].SetOperand(slot, pc)
	} else {
		self.pending = append(self.pending, patch{at: at, operand: slot, label: l})
	}
	return at
}

func (self *CompilerContext) Goto(l Label) {
	self.Jump(vm.OpGoto, l)
}

// Pending is the number of jumps still waiting for their label.
func (self *CompilerContext) Pending() int { return len(self.pending) }

func (self *CompilerContext) Var() int {
	v := self.nextVar
	self.nextVar++
	return v
}

func (self *CompilerContext) ref(r vm.ColRef) int {
	self.prog.Refs = append(self.prog.Refs, r)
	return len(self.prog.Refs) - 1
}

// Lit adds a literal already encoded in shape s.
func (self *CompilerContext) Lit(s meta.Shape, data []byte) int {
	self.prog.Lits = append(self.prog.Lits, data)
	return self.ref(vm.ColRef{
		Ord:   vm.Ordinal{Kind: vm.OrdLiteral, Column: uint32(len(self.prog.Lits) - 1)},
		Shape: s,
	})
}

// LitText encodes text into shape s and adds it as a literal.
func (self *CompilerContext) LitText(s meta.Shape, text string) (int, error) {
	data := make([]byte, s.Length)
	if _, err := meta.Encode(data, s, text); err != nil {
		return -1, err
	}
	return self.Lit(s, data), nil
}

func (self *CompilerContext) Temp(s meta.Shape) int {
	self.prog.Temps = append(self.prog.Temps, s)
	return self.ref(vm.ColRef{
		Ord:   vm.Ordinal{Kind: vm.OrdTemp, Column: uint32(len(self.prog.Temps) - 1)},
		Shape: s,
	})
}

func (self *CompilerContext) Column(t int, ci int) int {
	c := self.prog.Tables[t].Table.Columns[ci]
	return self.ref(vm.ColRef{
		Ord:    vm.Ordinal{Kind: vm.OrdTable, Table: uint16(t), Column: uint32(ci)},
		Shape:  c.Shape(),
		Offset: c.Offset,
	})
}

func (self *CompilerContext) Field(ws int, layout *plan.Layout, f int) int {
	field := &layout.Fields[f]
	return self.ref(vm.ColRef{
		Ord:    vm.Ordinal{Kind: vm.OrdWorkset, Table: uint16(ws), Column: uint32(f)},
		Shape:  field.Shape,
		Offset: field.Offset,
	})
}

// VarRef reads variable v as a value of shape s.
func (self *CompilerContext) VarRef(v int, s meta.Shape) int {
	return self.ref(vm.ColRef{
		Ord:   vm.Ordinal{Kind: vm.OrdVariable, Column: uint32(v)},
		Shape: s,
	})
}

// Finish closes the program. Any jump left without its label, or any
// error latched while emitting, fails the compilation.
func (self *CompilerContext) Finish() (*vm.Program, error) {
	if self.err != nil {
		return nil, self.err
	}
	if len(self.pending) > 0 {
		p := self.pending[0]
		return nil, sqlerr.Internalf("%d unresolved labels, first %s used at %d",
			len(self.pending), self.labels[p.label].name, p.at)
	}
	self.prog.NumVars = self.nextVar
	return self.prog, nil
}
