package workset

import (
	"os"
	"path/filepath"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/google/uuid"
)

// Workset is a buffer of fixed width rows addressed by 1-based row id. The
// first memRows rows live in memory; the rest go to a temporary file and
// are accessed through a one row buffer.
type Workset struct {
	rowLen  int
	memRows int
	dir     string

	rows [][]byte
	cur  int

	spill     *os.File
	spillPath string
	spillRows int
	buf       []byte
	bufRow    int
	dirty     bool
}

func New(rowLen, memRows int, dir string, capacityHint int) *Workset {
	if memRows <= 0 {
		memRows = 1
	}
	if capacityHint > memRows {
		capacityHint = memRows
	}
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Workset{
		rowLen:  rowLen,
		memRows: memRows,
		dir:     dir,
		rows:    make([][]byte, 0, capacityHint),
	}
}

func (self *Workset) RowLen() int { return self.rowLen }

func (self *Workset) RowCount() int {
	return len(self.rows) + self.spillRows
}

// RowID is the current row, 0 when no row is current.
func (self *Workset) RowID() int { return self.cur }

// Spilled reports whether any row lives in the temporary file.
func (self *Workset) Spilled() bool { return self.spillRows > 0 }

func (self *Workset) SetRowID(id int) error {
	if id < 0 || id > self.RowCount() {
		return sqlerr.Exec(sqlerr.ExecBadRowID, "row %d out of range 1..%d", id, self.RowCount())
	}
	self.cur = id
	return nil
}

func (self *Workset) openSpill() error {
	if self.spill != nil {
		return nil
	}
	dir := self.dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "fsql-ws-"+uuid.NewString()+".tmp")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "create work file: %s", err)
	}
	self.spill = f
	self.spillPath = path
	self.buf = make([]byte, self.rowLen)
	self.bufRow = 0
	return nil
}

func (self *Workset) flushBuf() error {
	if !self.dirty || self.bufRow == 0 {
		return nil
	}
	off := int64(self.bufRow-len(self.rows)-1) * int64(self.rowLen)
	if _, err := self.spill.WriteAt(self.buf, off); err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "write work file: %s", err)
	}
	self.dirty = false
	return nil
}

func (self *Workset) loadBuf(id int) error {
	if self.bufRow == id {
		return nil
	}
	if err := self.flushBuf(); err != nil {
		return err
	}
	off := int64(id-len(self.rows)-1) * int64(self.rowLen)
	if _, err := self.spill.ReadAt(self.buf, off); err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "read work file: %s", err)
	}
	self.bufRow = id
	return nil
}

// NewRow appends a blank row and makes it current.
func (self *Workset) NewRow() (int, error) {
	if len(self.rows) < self.memRows && self.spillRows == 0 {
		row := make([]byte, self.rowLen)
		meta.Blank(row)
		self.rows = append(self.rows, row)
		self.cur = len(self.rows)
		return self.cur, nil
	}
	if err := self.openSpill(); err != nil {
		return 0, err
	}
	if err := self.flushBuf(); err != nil {
		return 0, err
	}
	self.spillRows++
	id := self.RowCount()
	meta.Blank(self.buf)
	self.bufRow = id
	self.dirty = true
	if err := self.flushBuf(); err != nil {
		return 0, err
	}
	self.cur = id
	return id, nil
}

// Row returns the current row's bytes. Writes through the slice are kept.
func (self *Workset) Row() ([]byte, error) {
	return self.RowAt(self.cur)
}

func (self *Workset) RowAt(id int) ([]byte, error) {
	if id < 1 || id > self.RowCount() {
		return nil, sqlerr.Exec(sqlerr.ExecBadRowID, "no current workset row")
	}
	if id <= len(self.rows) {
		return self.rows[id-1], nil
	}
	if err := self.loadBuf(id); err != nil {
		return nil, err
	}
	self.dirty = true
	return self.buf, nil
}

// replace stores rows back, in memory first and the rest in the file.
func (self *Workset) replace(rows [][]byte) error {
	if err := self.flushBuf(); err != nil {
		return err
	}
	n := len(rows)
	mem := n
	if mem > self.memRows {
		mem = self.memRows
	}
	self.rows = rows[:mem:mem]
	self.spillRows = 0
	self.bufRow = 0
	self.dirty = false
	if n > mem {
		if err := self.openSpill(); err != nil {
			return err
		}
		if err := self.spill.Truncate(0); err != nil {
			return sqlerr.Exec(sqlerr.ExecBadWorkFile, "truncate work file: %s", err)
		}
		for i, row := range rows[mem:] {
			if _, err := self.spill.WriteAt(row, int64(i)*int64(self.rowLen)); err != nil {
				return sqlerr.Exec(sqlerr.ExecBadWorkFile, "write work file: %s", err)
			}
		}
		self.spillRows = n - mem
	}
	if self.cur > n {
		self.cur = 0
	}
	return nil
}

// Truncate drops every row.
func (self *Workset) Truncate() error {
	self.rows = self.rows[:0]
	self.cur = 0
	self.spillRows = 0
	self.bufRow = 0
	self.dirty = false
	if self.spill != nil {
		if err := self.spill.Truncate(0); err != nil {
			return sqlerr.Exec(sqlerr.ExecBadWorkFile, "truncate work file: %s", err)
		}
	}
	return nil
}

// Close removes the temporary file, if any.
func (self *Workset) Close() error {
	self.rows = nil
	if self.spill == nil {
		return nil
	}
	self.spill.Close()
	err := os.Remove(self.spillPath)
	self.spill = nil
	return err
}
