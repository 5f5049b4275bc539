package vm

import (
	"time"

	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/store"
	"github.com/dianpeng/fsql/workset"
)

// Env is what a machine needs from the outside world.
type Env struct {
	Store    *store.Store
	Worksets *workset.Manager
	// lock owner, the connection id
	Owner string
	Match *sql.Matcher
	// how long a lock conflict is waited out before it fails
	LockWait time.Duration
}

type tableState struct {
	file   *store.File
	cursor *store.Cursor
	rec    []byte
	pos    uint32 // record number of the buffer, 0 if none
	locked uint32 // record locked by this machine, 0 if none
	// scoped file lock taken by this machine
	fileLock bool

	index int
	key   []byte
	crit  []store.Criterion
	// a key value did not fit its column, the key names no record
	keyMiss bool
}

type worksetState struct {
	handle workset.Handle
	ws     *workset.Workset
}

// Machine runs one program for one cursor. Between calls it keeps every
// variable, cursor position and workset, so a program that yielded with
// FINISH resumes where the next call's code takes it.
type Machine struct {
	prog *Program
	env  Env

	vars     []int
	tables   []tableState
	worksets []*worksetState
	temps    [][]byte
	spec     []workset.KeySpec

	// SUBSTRING operands, the length is -1 when absent
	subPos  int
	subLen  int
	subNull bool

	ret  int
	done bool
}

// New opens every table of the program and returns a machine ready for
// FnInit.
func New(prog *Program, env Env) (*Machine, error) {
	if env.Match == nil {
		env.Match = sql.NewMatcher()
	}
	m := &Machine{
		prog:     prog,
		env:      env,
		worksets: make([]*worksetState, len(prog.Worksets)),
		subPos:   1,
		subLen:   -1,
		ret:      -1,
	}
	m.growVars(prog.NumVars)
	m.growTemps(prog.Temps)

	for _, t := range prog.Tables {
		f, err := env.Store.Open(t.Table)
		if err != nil {
			return nil, err
		}
		m.tables = append(m.tables, tableState{
			file:   f,
			cursor: f.NewCursor(),
			rec:    blank(t.Table.RecordLength),
			index:  -1,
		})
	}
	return m, nil
}

func blank(n int) []byte {
	b := make([]byte, n)
	meta.Blank(b)
	return b
}

func (self *Machine) growVars(n int) {
	if n < VarFirstFree {
		n = VarFirstFree
	}
	for len(self.vars) <= n {
		self.vars = append(self.vars, 0)
	}
}

func (self *Machine) growTemps(shapes []meta.Shape) {
	for i := len(self.temps); i < len(shapes); i++ {
		self.temps = append(self.temps, blank(shapes[i].Length))
	}
}

func (self *Machine) Program() *Program { return self.prog }

func (self *Machine) lockWait() time.Duration {
	if self.prog.NoWait {
		return 0
	}
	return self.env.LockWait
}

// Done reports whether the cursor has ended.
func (self *Machine) Done() bool { return self.done }

// Var reads a variable, used by tests and the engine.
func (self *Machine) Var(v int) int {
	if v < 0 || v >= len(self.vars) {
		return 0
	}
	return self.vars[v]
}

// SwapProgram installs a program derived from the current one by Clone,
// keeping every runtime state, and returns the previous program.
func (self *Machine) SwapProgram(p *Program) *Program {
	old := self.prog
	self.prog = p
	self.growVars(p.NumVars)
	self.growTemps(p.Temps)
	return old
}

// Close ends the cursor: table cursors are dropped, record and scoped file
// locks released and worksets freed. Calling it twice is harmless.
func (self *Machine) Close() {
	if self.done {
		return
	}
	self.done = true
	for i := range self.tables {
		t := &self.tables[i]
		if t.locked != 0 {
			t.file.UnlockRecord(t.locked, self.env.Owner)
			t.locked = 0
		}
		if t.fileLock {
			t.file.UnlockFile(self.env.Owner)
			t.fileLock = false
		}
		t.cursor = nil
	}
	for i, w := range self.worksets {
		if w != nil {
			self.env.Worksets.Release(w.handle)
			self.worksets[i] = nil
		}
	}
}

func badProgram(pc int, format string, args ...interface{}) error {
	e := sqlerr.Exec(sqlerr.ExecBadPgm, format, args...)
	e.Detail = "at " + itoa(pc)
	return e
}

var failMessage = map[int]string{
	sqlerr.BadRowID:    "no current row",
	sqlerr.NoForUpdate: "cursor is not declared FOR UPDATE",
	sqlerr.BadIndex:    "index is not usable",
}

// Run calls the program with a function code and its argument. It returns
// the status and info of the FINISH or TERMINATE that ended the call.
func (self *Machine) Run(fn, arg int) (int, int, error) {
	if self.done {
		return 0, 0, sqlerr.Exec(sqlerr.BadRSID, "cursor is closed")
	}
	self.vars[VarFunc] = fn
	self.vars[VarArg] = arg
	self.vars[VarStatus] = 0
	self.vars[VarInfo] = 0
	self.ret = -1

	code := self.prog.Code
	pc := 0
	for {
		if pc < 0 || pc >= len(code) {
			return 0, 0, badProgram(pc, "program counter out of range")
		}
		in := &code[pc]
		pc++

		switch in.Op {
		case OpSet:
			self.vars[in.A] = in.B
			break
		case OpIncr:
			self.vars[in.A] += in.B
			break
		case OpMove:
			self.vars[in.A] = self.vars[in.B]
			break
		case OpAdd:
			self.vars[in.A] = self.vars[in.B] + self.vars[in.C]
			break
		case OpSub:
			self.vars[in.A] = self.vars[in.B] - self.vars[in.C]
			break
		case OpGoto:
			pc = in.A
			break
		case OpGotoIfZero:
			if self.vars[in.A] == 0 {
				pc = in.B
			}
			break
		case OpGotoIfNotZero:
			if self.vars[in.A] != 0 {
				pc = in.B
			}
			break
		case OpGotoIfPos:
			if self.vars[in.A] > 0 {
				pc = in.B
			}
			break
		case OpGotoIfNeg:
			if self.vars[in.A] < 0 {
				pc = in.B
			}
			break
		case OpCall:
			if self.ret >= 0 {
				return 0, 0, badProgram(pc-1, "nested CALL")
			}
			self.ret = pc
			pc = in.A
			break
		case OpReturn:
			if self.ret < 0 {
				return 0, 0, badProgram(pc-1, "RETURN without CALL")
			}
			pc = self.ret
			self.ret = -1
			break
		case OpFinish:
			return self.vars[VarStatus], self.vars[VarInfo], nil
		case OpTerminate:
			info := self.vars[VarInfo]
			self.Close()
			logger.Debugf("program terminated with status %d info %d", in.A, info)
			return in.A, info, nil
		case OpFail:
			msg, ok := failMessage[in.A]
			if !ok {
				msg = "statement failed"
			}
			return 0, 0, sqlerr.Exec(in.A, "%s", msg)

		default:
			next, err := self.exec(in, pc)
			if err != nil {
				logger.Debugf("%s at %d failed: %s", OpName(in.Op), pc-1, err)
				return 0, 0, err
			}
			pc = next
			break
		}
	}
}

// exec runs the data instructions. pc is the address following in; the
// result is the address to continue at.
func (self *Machine) exec(in *Instr, pc int) (int, error) {
	switch {
	case in.Op <= OpTableUnlock:
		return self.execFile(in, pc)
	case in.Op <= OpWorkUnique:
		return pc, self.execWorkset(in)
	case in.Op <= OpMoveToCol:
		return pc, self.execColumn(in)
	default:
		return pc, badProgram(pc-1, "unknown opcode %d", in.Op)
	}
}

// field resolves ref into the bytes it names. Writes through the slice
// update the location, except for variables which are read only.
func (self *Machine) field(r int) ([]byte, meta.Shape, error) {
	if r < 0 || r >= len(self.prog.Refs) {
		return nil, meta.Shape{}, sqlerr.Exec(sqlerr.ExecBadCol, "bad column reference %d", r)
	}
	ref := &self.prog.Refs[r]
	o := ref.Ord
	switch o.Kind {
	case OrdLiteral:
		return self.prog.Lits[o.Column], ref.Shape, nil
	case OrdTemp:
		return self.temps[o.Column], ref.Shape, nil
	case OrdTable:
		rec := self.tables[o.Table].rec
		return rec[ref.Offset : ref.Offset+ref.Shape.Length], ref.Shape, nil
	case OrdWorkset:
		w, err := self.workset(int(o.Table))
		if err != nil {
			return nil, ref.Shape, err
		}
		row, err := w.ws.Row()
		if err != nil {
			return nil, ref.Shape, err
		}
		return row[ref.Offset : ref.Offset+ref.Shape.Length], ref.Shape, nil
	case OrdVariable:
		buf := make([]byte, ref.Shape.Length)
		if err := putInt(buf, ref.Shape, self.vars[o.Column]); err != nil {
			return nil, ref.Shape, err
		}
		return buf, ref.Shape, nil
	default:
		return nil, ref.Shape, sqlerr.Exec(sqlerr.ExecBadCol, "bad ordinal %s", o)
	}
}

// Value returns a copy of the value at ref.
func (self *Machine) Value(r int) ([]byte, meta.Shape, error) {
	b, s, err := self.field(r)
	if err != nil {
		return nil, s, err
	}
	return append([]byte(nil), b...), s, nil
}

// Row decodes the result columns of the current row. A NULL column
// yields an empty string and a true null flag.
func (self *Machine) Row() ([]string, []bool, error) {
	values := make([]string, len(self.prog.Result))
	nulls := make([]bool, len(self.prog.Result))
	for i, c := range self.prog.Result {
		b, s, err := self.field(c.Ref)
		if err != nil {
			return nil, nil, err
		}
		if meta.IsNull(b) {
			nulls[i] = true
			continue
		}
		values[i] = meta.Decode(b, s)
	}
	return values, nulls, nil
}
