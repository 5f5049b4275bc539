package engine

import (
	"github.com/dianpeng/fsql/cg"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

// Direction is the fetch function of a cursor call.
type Direction int

const (
	Next     = Direction(vm.FnNext)
	Prev     = Direction(vm.FnPrev)
	First    = Direction(vm.FnFirst)
	Last     = Direction(vm.FnLast)
	Absolute = Direction(vm.FnAbsolute)
	Relative = Direction(vm.FnRelative)
)

var directionName = map[string]Direction{
	"next":     Next,
	"prev":     Prev,
	"first":    First,
	"last":     Last,
	"absolute": Absolute,
	"relative": Relative,
}

func ParseDirection(s string) (Direction, bool) {
	if s == "" {
		return Next, true
	}
	d, ok := directionName[s]
	return d, ok
}

// RSID names a result set of a connection. The zero RSID names none; an
// id stays invalid once its cursor is gone, even when the slot is reused.
type RSID uint64

func makeRSID(slot, gen uint32) RSID {
	return RSID(uint64(gen)<<32 | uint64(slot))
}

func (id RSID) slot() uint32 { return uint32(id) }
func (id RSID) gen() uint32  { return uint32(id >> 32) }

type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Numeric bool   `json:"numeric,omitempty"`
}

// Result is the outcome of Execute or Describe. Status is one of the vm
// status codes. Count is the affected row count of a modification, the
// row count of a materialized result, or -1 while a dynamic result has not
// been counted.
type Result struct {
	Status   int
	Count    int
	RSID     RSID
	Columns  []Column
	Warnings []*sqlerr.Error
}

// Row is the current row of a cursor; Number is its 1 based position.
type Row struct {
	Number int
	Values []string
	Nulls  []bool
}

type cursor struct {
	m       *vm.Machine
	columns []Column
}

type cursorSlot struct {
	gen uint32
	cur *cursor
}

// Conn is one client session. A Conn is used by one goroutine at a time.
type Conn struct {
	engine *Engine
	id     string
	match  *sql.Matcher

	slots []cursorSlot
	free  []uint32
}

func (self *Conn) ID() string { return self.id }

func (self *Conn) env() vm.Env {
	return vm.Env{
		Store:    self.engine.store,
		Worksets: self.engine.worksets,
		Owner:    self.id,
		Match:    self.match,
		LockWait: self.engine.lockWait,
	}
}

func columnsOf(prog *vm.Program) []Column {
	out := make([]Column, 0, len(prog.Result))
	for _, c := range prog.Result {
		shape := prog.Refs[c.Ref].Shape
		out = append(out, Column{
			Name:    c.Name,
			Type:    shape.String(),
			Numeric: shape.Type.IsNumeric(),
		})
	}
	return out
}

func (self *Conn) add(c *cursor) RSID {
	var idx uint32
	if n := len(self.free); n > 0 {
		idx = self.free[n-1]
		self.free = self.free[:n-1]
	} else {
		self.slots = append(self.slots, cursorSlot{})
		idx = uint32(len(self.slots) - 1)
	}
	s := &self.slots[idx]
	s.gen++
	s.cur = c
	return makeRSID(idx, s.gen)
}

func (self *Conn) lookup(id RSID) (*cursor, error) {
	idx := id.slot()
	if id == 0 || int(idx) >= len(self.slots) {
		return nil, sqlerr.Exec(sqlerr.BadRSID, "unknown result set %d", uint64(id))
	}
	s := &self.slots[idx]
	if s.gen != id.gen() || s.cur == nil {
		return nil, sqlerr.Exec(sqlerr.BadRSID, "result set %d is gone", uint64(id))
	}
	return s.cur, nil
}

func (self *Conn) drop(id RSID) {
	s := &self.slots[id.slot()]
	if s.cur != nil {
		s.cur.m.Close()
		s.cur = nil
		self.free = append(self.free, id.slot())
	}
}

// Execute compiles text and runs its opening call. A SELECT with rows, or
// declared FOR UPDATE, leaves a cursor behind named by Result.RSID.
func (self *Conn) Execute(text string) (*Result, error) {
	c, err := self.engine.compile(text)
	if err != nil {
		return nil, err
	}
	m, err := vm.New(c.prog, self.env())
	if err != nil {
		return nil, err
	}
	status, info, err := m.Run(vm.FnInit, 0)
	if err != nil {
		m.Close()
		return nil, err
	}

	res := &Result{Status: status, Count: info, Warnings: c.warnings}
	if c.prog.Kind != sql.StmtSelect {
		m.Close()
		return res, nil
	}

	res.Columns = columnsOf(c.prog)
	switch status {
	case vm.StatusEmpty:
		m.Close()
		res.Count = 0
		return res, nil
	case vm.StatusRow:
		res.Count = -1
		break
	case vm.StatusEnd:
		res.Count = 0
		break
	}
	if m.Done() {
		return res, nil
	}
	res.RSID = self.add(&cursor{m: m, columns: res.Columns})
	logger.Debugf("engine: %s opened result set %d (%s)", self.id, uint64(res.RSID), c.prog.Mode)
	return res, nil
}

// Describe compiles text and reports the shape of its result without
// running it: StatusNoColumns or StatusColumns.
func (self *Conn) Describe(text string) (*Result, error) {
	c, err := self.engine.compile(text)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Status:   vm.StatusNoColumns,
		Count:    -1,
		Columns:  columnsOf(c.prog),
		Warnings: c.warnings,
	}
	if len(res.Columns) > 0 {
		res.Status = vm.StatusColumns
	}
	return res, nil
}

// Fetch moves the cursor and returns the new current row, or nil when the
// move left the result set.
func (self *Conn) Fetch(id RSID, dir Direction, offset int) (*Row, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return nil, err
	}
	switch dir {
	case Next, Prev, First, Last, Absolute, Relative:
		break
	default:
		return nil, sqlerr.Exec(sqlerr.BadCmd, "bad fetch direction %d", int(dir))
	}

	status, _, err := cur.m.Run(int(dir), offset)
	if err != nil {
		return nil, err
	}
	if status != vm.StatusRow {
		return nil, nil
	}
	values, nulls, err := cur.m.Row()
	if err != nil {
		return nil, err
	}
	return &Row{
		Number: cur.m.Var(vm.VarCurrent),
		Values: values,
		Nulls:  nulls,
	}, nil
}

// RowCount returns the number of rows of the result set. A dynamic result
// is read to its end once, keeping the current row.
func (self *Conn) RowCount(id RSID) (int, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return 0, err
	}
	_, info, err := cur.m.Run(vm.FnRowCount, 0)
	return info, err
}

func (self *Conn) Columns(id RSID) ([]Column, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return nil, err
	}
	return cur.columns, nil
}

// Updatable reports whether positioned statements may target the cursor.
func (self *Conn) Updatable(id RSID) (bool, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return false, err
	}
	p := cur.m.Program()
	return p.ForUpdate && p.Updatable == 'W', nil
}

// PositionedUpdate applies "UPDATE table SET ..." to the current row of a
// FOR UPDATE cursor. The cursor program is extended with the SET code for
// the one call and restored afterwards.
func (self *Conn) PositionedUpdate(id RSID, text string) (int, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return 0, err
	}
	stmt, _, err := sql.Parse(text, self.engine.catalog)
	if err != nil {
		return 0, err
	}
	upd, ok := stmt.(*sql.Update)
	if !ok {
		return 0, sqlerr.Semantic(sqlerr.ParseError, "positioned statement must be an UPDATE", "")
	}
	prog, err := cg.AppendUpdate(cur.m.Program(), upd)
	if err != nil {
		return 0, err
	}

	old := cur.m.SwapProgram(prog)
	defer cur.m.SwapProgram(old)
	_, info, err := cur.m.Run(vm.FnUpdate, 0)
	return info, err
}

// PositionedDelete deletes the current row of a FOR UPDATE cursor.
func (self *Conn) PositionedDelete(id RSID) (int, error) {
	cur, err := self.lookup(id)
	if err != nil {
		return 0, err
	}
	_, info, err := cur.m.Run(vm.FnDelete, 0)
	return info, err
}

// Discard closes a cursor, releasing its worksets and locks.
func (self *Conn) Discard(id RSID) error {
	if _, err := self.lookup(id); err != nil {
		return err
	}
	self.drop(id)
	logger.Debugf("engine: %s discarded result set %d", self.id, uint64(id))
	return nil
}

// Close discards every cursor and drops every lock the connection holds.
func (self *Conn) Close() {
	n := 0
	for i := range self.slots {
		if self.slots[i].cur != nil {
			self.drop(makeRSID(uint32(i), self.slots[i].gen))
			n++
		}
	}
	locks := self.engine.store.ReleaseAll(self.id)
	logger.Infof("engine: connection %s closed, %d cursors %d locks released", self.id, n, locks)
}

// Table returns the catalog entry of a table, for clients listing the
// schema.
func (self *Conn) Table(name string) (*meta.Table, error) {
	_, t, err := self.engine.catalog.Lookup(name)
	return t, err
}
