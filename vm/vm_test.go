package vm

import (
	"strconv"
	"strings"
	"testing"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/store"
	"github.com/dianpeng/fsql/workset"
	"github.com/stretchr/testify/assert"
)

var (
	num5   = meta.Shape{Type: meta.TypeNum, Length: 5}
	num52  = meta.Shape{Type: meta.TypeNum, Length: 5, Scale: 2}
	num72  = meta.Shape{Type: meta.TypeNum, Length: 7, Scale: 2}
	char1  = meta.Shape{Type: meta.TypeChar, Length: 1}
	char2  = meta.Shape{Type: meta.TypeChar, Length: 2}
	char4  = meta.Shape{Type: meta.TypeChar, Length: 4}
	char10 = meta.Shape{Type: meta.TypeChar, Length: 10}
)

// asm assembles programs by hand.
type asm struct {
	p *Program
}

func newAsm(tables ...*meta.Table) *asm {
	p := &Program{NumVars: VarFirstFree + 4, UpdateHook: -1}
	for _, t := range tables {
		p.Tables = append(p.Tables, TableRef{Name: t.Name, Table: t})
	}
	return &asm{p: p}
}

func (self *asm) ref(r ColRef) int {
	self.p.Refs = append(self.p.Refs, r)
	return len(self.p.Refs) - 1
}

func (self *asm) lit(s meta.Shape, text string) int {
	b := make([]byte, s.Length)
	if _, err := meta.Encode(b, s, text); err != nil {
		panic(err)
	}
	self.p.Lits = append(self.p.Lits, b)
	return self.ref(ColRef{Ord: Ordinal{Kind: OrdLiteral, Column: uint32(len(self.p.Lits) - 1)}, Shape: s})
}

func (self *asm) col(t, c int) int {
	column := self.p.Tables[t].Table.Columns[c]
	return self.ref(ColRef{
		Ord:    Ordinal{Kind: OrdTable, Table: uint16(t), Column: uint32(c)},
		Shape:  column.Shape(),
		Offset: column.Offset,
	})
}

func (self *asm) tmp(s meta.Shape) int {
	self.p.Temps = append(self.p.Temps, s)
	return self.ref(ColRef{Ord: Ordinal{Kind: OrdTemp, Column: uint32(len(self.p.Temps) - 1)}, Shape: s})
}

func (self *asm) field(ws, offset int, s meta.Shape) int {
	return self.ref(ColRef{Ord: Ordinal{Kind: OrdWorkset, Table: uint16(ws)}, Shape: s, Offset: offset})
}

func (self *asm) emit(op, a, b, c int) int {
	self.p.Code = append(self.p.Code, Instr{Op: op, A: a, B: b, C: c})
	return len(self.p.Code) - 1
}

func (self *asm) patch(at, operand, target int) {
	self.p.Code[at].SetOperand(operand, target)
}

func (self *asm) result(name string, ref int) {
	self.p.Result = append(self.p.Result, ResultColumn{Name: name, Ref: ref})
}

type fixture struct {
	emp *meta.Table
	env Env
}

func newFixture(assert *assert.Assertions) *fixture {
	cat := meta.NewCatalog()
	for _, ddl := range []string{
		"CREATE TABLE emp (id NUM(5), name CHAR(10))",
		"CREATE UNIQUE INDEX pk ON emp (id)",
		"CREATE INDEX byname ON emp (name)",
	} {
		_, _, err := sql.Parse(ddl, cat)
		assert.Nil(err, ddl)
	}
	_, emp, err := cat.Lookup("EMP")
	assert.Nil(err)
	return &fixture{
		emp: emp,
		env: Env{
			Store:    store.New(""),
			Worksets: workset.NewManager(16, ""),
			Owner:    "c1",
		},
	}
}

func (self *fixture) run(assert *assert.Assertions, p *Program, fn, arg int) (*Machine, int, int, error) {
	m, err := New(p, self.env)
	assert.Nil(err)
	status, info, err := m.Run(fn, arg)
	return m, status, info, err
}

func (self *fixture) insertProgram(names ...string) *Program {
	a := newAsm(self.emp)
	for i, name := range names {
		a.emit(OpClear, 0, 0, 0)
		a.emit(OpColMove, a.col(0, 0), a.lit(num5, strconv.Itoa(i+1)), 0)
		a.emit(OpColMove, a.col(0, 1), a.lit(char10, name), 0)
		a.emit(OpWrite, 0, 0, 0)
		a.emit(OpIncr, VarInfo, 1, 0)
	}
	a.emit(OpTerminate, StatusCount, 0, 0)
	return a.p
}

func (self *fixture) countProgram() *Program {
	a := newAsm(self.emp)
	a.emit(OpSetFirst, 0, -1, 0)
	loop := a.emit(OpReadNext, 0, 0, 0)
	a.emit(OpIncr, VarInfo, 1, 0)
	a.emit(OpGoto, loop, 0, 0)
	end := a.emit(OpTerminate, StatusCount, 0, 0)
	a.patch(loop, 1, end)
	return a.p
}

// readByID reads the row with the given id through the primary key and
// yields it with status 7, or terminates with 4. Any later call ends it.
func (self *fixture) readByID(id string, lock bool) *Program {
	a := newAsm(self.emp)
	a.p.Tables[0].Lock = lock
	dispatch := a.emit(OpGotoIfNotZero, VarFunc, 0, 0)
	a.emit(OpKeyInit, 0, 0, 0)
	a.emit(OpKeyAppend, 0, a.lit(meta.NumberShape(id), id), 0)
	rd := a.emit(OpReadByKey, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	miss := a.emit(OpTerminate, StatusEmpty, 0, 0)
	a.patch(rd, 1, miss)
	a.patch(dispatch, 1, miss)
	a.result("NAME", a.col(0, 1))
	return a.p
}

func (self *fixture) load(assert *assert.Assertions) {
	m, status, info, err := self.run(assert, self.insertProgram("a", "b", "c"), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusCount, status)
	assert.Equal(3, info)
	assert.True(m.Done())
}

func TestWriteAndScan(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	_, status, info, err := f.run(assert, f.countProgram(), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusCount, status)
	assert.Equal(3, info)

	// duplicate primary key
	_, _, _, err = f.run(assert, f.insertProgram("x"), FnInit, 0)
	assert.True(sqlerr.Is(err, sqlerr.ExecDupKey))
}

func TestReadByKey(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	m, status, _, err := f.run(assert, f.readByID("2", false), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, nulls, err := m.Row()
	assert.Nil(err)
	assert.Equal([]string{"b"}, values)
	assert.Equal([]bool{false}, nulls)
	m.Close()

	_, status, _, err = f.run(assert, f.readByID("9", false), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusEmpty, status)
}

func TestKeyIncrAndReverse(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	// name > 'a' becomes name >= successor of 'a'
	a := newAsm(f.emp)
	a.emit(OpKeyInit, 0, 1, 0)
	a.emit(OpKeyAppend, 0, a.lit(char1, "a"), 1)
	a.emit(OpKeyIncr, 0, 0, 0)
	rd := a.emit(OpReadByKey, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	miss := a.emit(OpTerminate, StatusEmpty, 0, 0)
	a.patch(rd, 1, miss)
	a.result("NAME", a.col(0, 1))

	m, status, _, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, _ := m.Row()
	assert.Equal("b", values[0])

	// backward from 'b' on the name index, FnPrev walks on
	a = newAsm(f.emp)
	dispatch := a.emit(OpGotoIfNotZero, VarFunc, 0, 0)
	a.emit(OpKeyInit, 0, 1, 0)
	a.emit(OpKeyAppend, 0, a.lit(char1, "b"), 1)
	rd = a.emit(OpReadByKeyRev, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	miss = a.emit(OpTerminate, StatusEmpty, 0, 0)
	prev := a.emit(OpReadPrev, 0, miss, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	a.patch(dispatch, 1, prev)
	a.patch(rd, 1, miss)
	a.result("NAME", a.col(0, 1))

	m, status, _, err = f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, _ = m.Row()
	assert.Equal("b", values[0])

	status, _, err = m.Run(FnPrev, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, _ = m.Row()
	assert.Equal("a", values[0])

	status, _, err = m.Run(FnPrev, 0)
	assert.Nil(err)
	assert.Equal(StatusEmpty, status)
	assert.True(m.Done())
}

func TestSetLast(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	a := newAsm(f.emp)
	a.emit(OpSetLast, 0, -1, 0)
	rd := a.emit(OpReadPrev, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	end := a.emit(OpTerminate, StatusEmpty, 0, 0)
	a.patch(rd, 1, end)
	a.result("ID", a.col(0, 0))

	m, status, _, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, _ := m.Row()
	assert.Equal("3", values[0])
}

func TestResumeAfterFinish(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	a := newAsm(f.emp)
	dispatch := a.emit(OpGotoIfNotZero, VarFunc, 0, 0)
	a.emit(OpSetFirst, 0, -1, 0)
	a.emit(OpSet, VarStatus, StatusExecuted, 0)
	a.emit(OpFinish, 0, 0, 0)
	next := a.emit(OpReadNext, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	eof := a.emit(OpSet, VarStatus, StatusEnd, 0)
	a.emit(OpFinish, 0, 0, 0)
	a.patch(dispatch, 1, next)
	a.patch(next, 1, eof)
	a.result("NAME", a.col(0, 1))

	m, status, _, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusExecuted, status)

	got := []string{}
	for i := 0; i < 5; i++ {
		status, _, err := m.Run(FnNext, 0)
		assert.Nil(err)
		if status != StatusRow {
			assert.Equal(StatusEnd, status)
			continue
		}
		values, _, _ := m.Row()
		got = append(got, values[0])
	}
	assert.Equal([]string{"a", "b", "c"}, got)
	assert.False(m.Done())
}

func TestArithmetic(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)

	a := newAsm()
	x := a.lit(num52, "1.5")
	y := a.lit(num52, "2.5")
	zero := a.lit(num5, "0")
	null := a.lit(num5, "")
	ops := []struct {
		name string
		op   int
		y    int
	}{
		{"add", OpColAdd, y},
		{"sub", OpColSub, y},
		{"mult", OpColMult, y},
		{"div", OpColDiv, y},
		{"divzero", OpColDiv, zero},
		{"null", OpColAdd, null},
	}
	for _, o := range ops {
		d := a.tmp(num72)
		a.emit(o.op, d, x, o.y)
		a.result(o.name, d)
	}
	neg := a.tmp(num72)
	a.emit(OpColNegate, neg, x, 0)
	a.result("neg", neg)
	// scale of the destination wins
	whole := a.tmp(num5)
	a.emit(OpColMove, whole, a.lit(num52, "2.75"), 0)
	a.result("round", whole)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)

	m, status, _, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, nulls, err := m.Row()
	assert.Nil(err)
	assert.Equal([]string{"4.00", "-1.00", "3.75", "0.60", "", "", "-1.50", "3"}, values)
	assert.Equal([]bool{false, false, false, false, true, true, false, false}, nulls)
}

func TestStringOps(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)

	a := newAsm()
	hello := a.lit(meta.Shape{Type: meta.TypeChar, Length: 5}, "hello")

	cat := a.tmp(meta.Shape{Type: meta.TypeChar, Length: 6})
	a.emit(OpColConcat, cat, a.lit(char4, "ab"), a.lit(char2, "cd"))
	a.result("concat", cat)

	up := a.tmp(char4)
	a.emit(OpColUpper, up, a.lit(char2, "ab"), 0)
	a.result("upper", up)

	sub := a.tmp(char4)
	a.emit(OpColSubPos, a.lit(num5, "2"), 0, 0)
	a.emit(OpColSubLen, a.lit(num5, "2"), 0, 0)
	a.emit(OpColSubstr, sub, hello, 0)
	a.result("substr", sub)

	rest := a.tmp(char4)
	a.emit(OpColSubPos, a.lit(num5, "4"), 0, 0)
	a.emit(OpColSubstr, rest, hello, 0)
	a.result("rest", rest)

	trim := a.tmp(char4)
	a.emit(OpColTrimL, trim, a.lit(char4, "  x"), 0)
	a.result("trim", trim)

	v1, v2, v3, v4, v5 := VarFirstFree, VarFirstFree+1, VarFirstFree+2, VarFirstFree+3, VarFirstFree+4
	a.p.NumVars = v5 + 1
	a.emit(OpColLike, v1, hello, a.lit(char2, "h%"))
	a.emit(OpColLike, v2, hello, a.lit(char2, "%z"))
	a.emit(OpColCompare, v3, a.lit(char1, ""), a.lit(char1, "a"))
	a.emit(OpColCompare, v4, a.lit(num5, "10"), a.lit(num5, "9"))
	a.emit(OpColCompare, v5, a.lit(char2, "10"), a.lit(char2, "9"))
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)

	m, status, _, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, err := m.Row()
	assert.Nil(err)
	assert.Equal([]string{"abcd", "AB", "el", "lo", "x"}, values)
	assert.Equal(1, m.Var(v1))
	assert.Equal(0, m.Var(v2))
	assert.Equal(-1, m.Var(v3))
	assert.Equal(1, m.Var(v4))
	assert.Equal(-1, m.Var(v5))
}

func TestWorksetOps(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)

	a := newAsm()
	a.p.Worksets = []WorksetDef{{Name: "result", RowLen: 1}}
	fld := a.field(0, 0, char1)
	a.emit(OpWorkInit, 0, 4, 0)
	for _, v := range []string{"b", "a", "c", "a"} {
		a.emit(OpWorkNewRow, 0, 0, 0)
		a.emit(OpColMove, fld, a.lit(char1, v), 0)
	}
	a.emit(OpWorkUnique, 0, 0, 0)
	a.emit(OpSortSpec, fld, 1, 1)
	a.emit(OpWorkSort, 0, 0, 0)
	a.emit(OpWorkGetRowCount, VarInfo, 0, 0)
	a.emit(OpSet, VarFirstFree, 1, 0)
	a.emit(OpWorkSetRowID, 0, VarFirstFree, 0)
	a.emit(OpSet, VarStatus, StatusResult, 0)
	a.emit(OpFinish, 0, 0, 0)
	a.result("V", fld)

	m, status, info, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusResult, status)
	assert.Equal(3, info)
	values, _, _ := m.Row()
	assert.Equal("c", values[0])
	assert.Equal(1, f.env.Worksets.Live())

	m.Close()
	assert.Equal(0, f.env.Worksets.Live())
	_, _, err = m.Run(FnNext, 0)
	assert.True(sqlerr.Is(err, sqlerr.BadRSID))
}

func TestCallAndFail(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)

	a := newAsm()
	call := a.emit(OpCall, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusRow, 0)
	a.emit(OpFinish, 0, 0, 0)
	sub := a.emit(OpSet, VarInfo, 42, 0)
	a.emit(OpReturn, 0, 0, 0)
	a.patch(call, 0, sub)
	_, status, info, err := f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	assert.Equal(42, info)

	a = newAsm()
	a.emit(OpCall, 2, 0, 0)
	a.emit(OpFinish, 0, 0, 0)
	a.emit(OpCall, 2, 0, 0)
	_, _, _, err = f.run(assert, a.p, FnInit, 0)
	assert.True(sqlerr.Is(err, sqlerr.ExecBadPgm))

	a = newAsm()
	a.emit(OpReturn, 0, 0, 0)
	_, _, _, err = f.run(assert, a.p, FnInit, 0)
	assert.True(sqlerr.Is(err, sqlerr.ExecBadPgm))

	a = newAsm()
	a.emit(OpFail, sqlerr.NoForUpdate, 0, 0)
	_, _, _, err = f.run(assert, a.p, FnInit, 0)
	assert.True(sqlerr.Is(err, sqlerr.NoForUpdate))

	a = newAsm()
	a.emit(OpGoto, 7, 0, 0)
	_, _, _, err = f.run(assert, a.p, FnInit, 0)
	assert.True(sqlerr.Is(err, sqlerr.ExecBadPgm))
}

func TestUpdateDeleteAndLocks(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)

	// read id 2 for update and keep the cursor
	p := f.readByID("2", true)
	m, status, _, err := f.run(assert, p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)

	file, err := f.env.Store.Open(f.emp)
	assert.Nil(err)
	assert.NotNil(file.LockFile("c2"))

	// positioned rewrite through a derived program
	upd := p.Clone()
	a := &asm{p: upd}
	upd.Code[0].B = len(upd.Code)
	a.emit(OpColMove, a.col(0, 1), a.lit(char1, "z"), 0)
	a.emit(OpUpdate, 0, 0, 0)
	a.emit(OpSet, VarStatus, StatusCount, 0)
	a.emit(OpSet, VarInfo, 1, 0)
	a.emit(OpFinish, 0, 0, 0)
	old := m.SwapProgram(upd)
	status, info, err := m.Run(FnUpdate, 0)
	assert.Nil(err)
	assert.Equal(StatusCount, status)
	assert.Equal(1, info)
	m.SwapProgram(old)
	assert.Equal(p, m.Program())

	m.Close()
	assert.Nil(file.LockFile("c2"))
	file.UnlockFile("c2")

	m, status, _, err = f.run(assert, f.readByID("2", false), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusRow, status)
	values, _, _ := m.Row()
	assert.Equal("z", values[0])

	// delete the current row
	a = newAsm(f.emp)
	a.emit(OpKeyInit, 0, 0, 0)
	a.emit(OpKeyAppend, 0, a.lit(num5, "3"), 0)
	rd := a.emit(OpReadByKey, 0, 0, 0)
	a.emit(OpDelete, 0, 0, 0)
	a.emit(OpIncr, VarInfo, 1, 0)
	end := a.emit(OpTerminate, StatusCount, 0, 0)
	a.patch(rd, 1, end)
	_, status, info, err = f.run(assert, a.p, FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusCount, status)
	assert.Equal(1, info)

	_, _, info, err = f.run(assert, f.countProgram(), FnInit, 0)
	assert.Nil(err)
	assert.Equal(2, info)
}

func TestScopedTableLock(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	f.load(assert)
	file, _ := f.env.Store.Open(f.emp)

	lock := func(scoped int, unlock bool) *Program {
		a := newAsm(f.emp)
		a.emit(OpTableLock, 0, scoped, 0)
		if unlock {
			a.emit(OpTableUnlock, 0, scoped, 0)
		}
		a.emit(OpTerminate, StatusExecuted, 0, 0)
		return a.p
	}

	// explicit LOCK TABLE survives the statement
	_, status, _, err := f.run(assert, lock(0, false), FnInit, 0)
	assert.Nil(err)
	assert.Equal(StatusExecuted, status)
	assert.Equal("c1", file.FileOwner())

	// a scoped lock under it leaves it alone
	_, _, _, err = f.run(assert, lock(1, true), FnInit, 0)
	assert.Nil(err)
	assert.Equal("c1", file.FileOwner())

	file.UnlockFile("c1")
	// a scoped lock left open is dropped when the cursor ends
	_, _, _, err = f.run(assert, lock(1, false), FnInit, 0)
	assert.Nil(err)
	assert.Equal("", file.FileOwner())
}

func TestDump(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(assert)
	p := f.readByID("2", false)
	p.Labels = []Label{{PC: 6, Name: "MISS"}}
	out := Dump(p)
	assert.True(strings.Contains(out, "READBYKEY"), out)
	assert.True(strings.Contains(out, "MISS:"), out)
	assert.True(strings.Contains(out, "t0 EMP"), out)
	assert.Equal(1, p.Count(OpReadByKey))
	assert.Equal(0, p.Count(OpReadNext))
}
