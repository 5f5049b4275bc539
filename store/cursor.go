package store

import (
	"math"
	"strings"

	"github.com/dianpeng/fsql/sqlerr"
)

type scanKind int

const (
	scanRecord scanKind = iota
	scanISAM
	scanAIM
)

const afterLast = uint64(math.MaxUint32) + 1

// Cursor is a read position over a file. Positions are values, not
// pointers into the index, so they stay meaningful across concurrent
// writes: the next read returns the first entry after the last one seen.
type Cursor struct {
	f     *File
	kind  scanKind
	index int

	rpos uint64
	ipos isamEntry
	list []uint32
	lpos int

	recno uint32
}

func (self *File) NewCursor() *Cursor {
	return &Cursor{
		f:     self,
		index: -1,
	}
}

func (self *Cursor) File() *File { return self.f }

// Recno is the record number of the last record read, 0 if none.
func (self *Cursor) Recno() uint32 { return self.recno }

func (self *Cursor) useIndex(index int) error {
	if index < 0 {
		self.kind = scanRecord
		self.index = -1
		return nil
	}
	if err := self.f.index(index); err != nil {
		return err
	}
	self.index = index
	if self.f.isam[index] != nil {
		self.kind = scanISAM
	} else {
		self.kind = scanAIM
	}
	return nil
}

func maxKey(n int) string {
	return strings.Repeat("\xff", n+1)
}

// SetFirst positions before the first record in index order; index -1 is
// record order.
func (self *Cursor) SetFirst(index int) error {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()
	if err := self.useIndex(index); err != nil {
		return err
	}
	self.recno = 0
	switch self.kind {
	case scanRecord:
		self.rpos = 0
		break
	case scanISAM:
		self.ipos = isamEntry{}
		break
	case scanAIM:
		self.list = self.f.live.ToArray()
		self.lpos = -1
		break
	}
	return nil
}

// SetLast positions after the last record.
func (self *Cursor) SetLast(index int) error {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()
	if err := self.useIndex(index); err != nil {
		return err
	}
	self.recno = 0
	switch self.kind {
	case scanRecord:
		self.rpos = afterLast
		break
	case scanISAM:
		self.ipos = isamEntry{Key: maxKey(self.f.table.Indexes[index].KeyLength()), Recno: math.MaxUint32}
		break
	case scanAIM:
		self.list = self.f.live.ToArray()
		self.lpos = len(self.list)
		break
	}
	return nil
}

// SeekKey positions on an ISAM index so that Next returns the first entry
// whose key is >= key, or with reverse, Prev returns the last entry whose
// key prefix is <= key.
func (self *Cursor) SeekKey(index int, key []byte, reverse bool) error {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()
	if err := self.useIndex(index); err != nil {
		return err
	}
	if self.kind != scanISAM {
		return sqlerr.Exec(sqlerr.BadIndex, "index %d of %s is not sequential", index, self.f.table.Name)
	}
	self.recno = 0
	if reverse {
		self.ipos = isamEntry{Key: string(key) + "\xff", Recno: math.MaxUint32}
	} else {
		self.ipos = isamEntry{Key: string(key)}
	}
	return nil
}

// SeekAIM positions before the records matching every criterion on an
// associative index, in record order.
func (self *Cursor) SeekAIM(index int, criteria []Criterion) error {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()
	if err := self.useIndex(index); err != nil {
		return err
	}
	if self.kind != scanAIM {
		return sqlerr.Exec(sqlerr.BadIndex, "index %d of %s is not associative", index, self.f.table.Name)
	}
	self.recno = 0
	if list := self.f.aim[index].lookup(criteria); list != nil {
		self.list = list
	} else {
		self.list = self.f.live.ToArray()
	}
	self.lpos = -1
	return nil
}

func (self *Cursor) read(recno uint32) ([]byte, bool) {
	rec, ok := self.f.recs[recno]
	if !ok {
		return nil, false
	}
	self.recno = recno
	return append([]byte(nil), rec...), true
}

// Next reads the record following the current position.
func (self *Cursor) Next() ([]byte, bool) {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()

	switch self.kind {
	case scanRecord:
		if self.rpos >= afterLast-1 {
			self.rpos = afterLast
			return nil, false
		}
		rank := self.f.live.Rank(uint32(self.rpos))
		if rank >= self.f.live.GetCardinality() {
			self.rpos = afterLast
			return nil, false
		}
		recno, err := self.f.live.Select(uint32(rank))
		if err != nil {
			self.rpos = afterLast
			return nil, false
		}
		self.rpos = uint64(recno)
		return self.read(recno)

	case scanISAM:
		list := self.f.isam[self.index].entries()
		i := after(list, self.ipos)
		if i >= len(list) {
			return nil, false
		}
		self.ipos = list[i]
		return self.read(list[i].Recno)

	default:
		for self.lpos+1 < len(self.list) {
			self.lpos++
			if rec, ok := self.read(self.list[self.lpos]); ok {
				return rec, true
			}
		}
		self.lpos = len(self.list)
		return nil, false
	}
}

// Prev reads the record preceding the current position.
func (self *Cursor) Prev() ([]byte, bool) {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()

	switch self.kind {
	case scanRecord:
		if self.rpos == 0 {
			return nil, false
		}
		p := self.rpos - 1
		if p > math.MaxUint32 {
			p = math.MaxUint32
		}
		rank := self.f.live.Rank(uint32(p))
		if rank == 0 {
			self.rpos = 0
			return nil, false
		}
		recno, err := self.f.live.Select(uint32(rank - 1))
		if err != nil {
			self.rpos = 0
			return nil, false
		}
		self.rpos = uint64(recno)
		return self.read(recno)

	case scanISAM:
		list := self.f.isam[self.index].entries()
		i := before(list, self.ipos)
		if i < 0 {
			return nil, false
		}
		self.ipos = list[i]
		return self.read(list[i].Recno)

	default:
		for self.lpos-1 >= 0 {
			self.lpos--
			if rec, ok := self.read(self.list[self.lpos]); ok {
				return rec, true
			}
		}
		self.lpos = -1
		return nil, false
	}
}

// SetPos positions on a record number in record order and reads it.
func (self *Cursor) SetPos(recno uint32) ([]byte, bool) {
	self.f.mu.RLock()
	defer self.f.mu.RUnlock()
	self.kind = scanRecord
	self.index = -1
	self.rpos = uint64(recno)
	return self.read(recno)
}
