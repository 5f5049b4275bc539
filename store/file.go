package store

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

// File is the in-memory indexed file behind one table: fixed width records
// addressed by record number (file position), plus one structure per
// index.
type File struct {
	mu    sync.RWMutex
	table *meta.Table
	recs  map[uint32][]byte
	live  *roaring.Bitmap
	next  uint32
	isam  []*isamIndex // nil entries for AIM indexes
	aim   []*aimIndex  // nil entries for ISAM indexes
	locks lockState
}

func newFile(t *meta.Table) *File {
	f := &File{
		table: t,
		recs:  make(map[uint32][]byte),
		live:  roaring.NewBitmap(),
		next:  1,
		locks: newLockState(),
	}
	f.buildIndexes()
	return f
}

func (self *File) buildIndexes() {
	self.isam = make([]*isamIndex, len(self.table.Indexes))
	self.aim = make([]*aimIndex, len(self.table.Indexes))
	for i, def := range self.table.Indexes {
		if def.Type == meta.IndexAIM {
			self.aim[i] = newAIM(def)
		} else {
			self.isam[i] = newISAM(def)
		}
	}
}

func (self *File) Table() *meta.Table {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.table
}

func (self *File) Count() int {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return int(self.live.GetCardinality())
}

func (self *File) index(i int) error {
	if i < 0 || i >= len(self.table.Indexes) {
		return sqlerr.Exec(sqlerr.BadIndex, "table %s has no index %d", self.table.Name, i)
	}
	return nil
}

func (self *File) checkRecord(rec []byte) error {
	if len(rec) != self.table.RecordLength {
		return sqlerr.Exec(sqlerr.ExecBadDataFile, "record length %d does not match table %s (%d)",
			len(rec), self.table.Name, self.table.RecordLength)
	}
	return nil
}

func (self *File) dupCheck(rec []byte, recno uint32) error {
	for _, x := range self.isam {
		if x != nil && x.conflicts(rec, recno) {
			return sqlerr.Exec(sqlerr.ExecDupKey, "duplicate key on index %s of %s", x.def.Name, self.table.Name)
		}
	}
	return nil
}

func (self *File) indexInsert(rec []byte, recno uint32) {
	for i := range self.table.Indexes {
		if self.isam[i] != nil {
			self.isam[i].insert(rec, recno)
		} else {
			self.aim[i].insert(rec, recno)
		}
	}
}

func (self *File) indexRemove(rec []byte, recno uint32) {
	for i := range self.table.Indexes {
		if self.isam[i] != nil {
			self.isam[i].remove(recno)
		} else {
			self.aim[i].remove(rec, recno)
		}
	}
}

// Write appends a record and returns its record number.
func (self *File) Write(rec []byte, owner string) (uint32, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.checkRecord(rec); err != nil {
		return 0, err
	}
	if err := self.locks.checkFile(owner, self.table.Name); err != nil {
		return 0, err
	}
	if err := self.dupCheck(rec, 0); err != nil {
		return 0, err
	}
	recno := self.next
	self.next++
	data := append([]byte(nil), rec...)
	self.recs[recno] = data
	self.live.Add(recno)
	self.indexInsert(data, recno)
	return recno, nil
}

// Update rewrites the record at recno.
func (self *File) Update(recno uint32, rec []byte, owner string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.checkRecord(rec); err != nil {
		return err
	}
	old, ok := self.recs[recno]
	if !ok {
		return sqlerr.Exec(sqlerr.ExecBadRowID, "record %d of %s does not exist", recno, self.table.Name)
	}
	if err := self.locks.checkRecord(owner, recno, self.table.Name); err != nil {
		return err
	}
	if err := self.dupCheck(rec, recno); err != nil {
		return err
	}
	self.indexRemove(old, recno)
	data := append([]byte(nil), rec...)
	self.recs[recno] = data
	self.indexInsert(data, recno)
	return nil
}

func (self *File) Delete(recno uint32, owner string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	old, ok := self.recs[recno]
	if !ok {
		return sqlerr.Exec(sqlerr.ExecBadRowID, "record %d of %s does not exist", recno, self.table.Name)
	}
	if err := self.locks.checkRecord(owner, recno, self.table.Name); err != nil {
		return err
	}
	self.indexRemove(old, recno)
	delete(self.recs, recno)
	self.live.Remove(recno)
	if _, ok := self.locks.records[recno]; ok {
		delete(self.locks.records, recno)
		self.locks.signal()
	}
	return nil
}

// ReadPos returns a copy of the record at recno.
func (self *File) ReadPos(recno uint32) ([]byte, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	rec, ok := self.recs[recno]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), rec...), true
}

// Truncate removes every record.
func (self *File) Truncate(owner string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.locks.checkFile(owner, self.table.Name); err != nil {
		return err
	}
	self.recs = make(map[uint32][]byte)
	self.live = roaring.NewBitmap()
	self.buildIndexes()
	return nil
}

// reshape converts every record to the layout of t and rebuilds the
// indexes. Nothing is modified unless the conversion succeeds.
func (self *File) reshape(t *meta.Table) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	old := self.table
	recs := make(map[uint32][]byte, len(self.recs))
	for recno, rec := range self.recs {
		out := make([]byte, t.RecordLength)
		meta.Blank(out)
		for _, c := range t.Columns {
			if oc := findColumn(old, c.Name); oc != nil {
				if _, err := meta.Convert(out[c.Offset:c.Offset+c.Length], c.Shape(),
					rec[oc.Offset:oc.Offset+oc.Length], oc.Shape()); err != nil {
					return err
				}
			}
		}
		recs[recno] = out
	}

	shadow := &File{
		table: t,
		recs:  recs,
		live:  self.live,
		next:  self.next,
	}
	shadow.buildIndexes()
	for _, recno := range self.live.ToArray() {
		rec := recs[recno]
		if err := shadow.dupCheck(rec, 0); err != nil {
			return err
		}
		shadow.indexInsert(rec, recno)
	}

	self.table = t
	self.recs = recs
	self.isam = shadow.isam
	self.aim = shadow.aim
	return nil
}

// reindex rebuilds the indexes for t, whose record layout is the one of
// the current table. Nothing is modified when a unique index would be
// violated.
func (self *File) reindex(t *meta.Table) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if t.RecordLength != self.table.RecordLength {
		return sqlerr.Exec(sqlerr.ExecBadDataFile, "reindex of %s changes the record length", t.Name)
	}
	shadow := &File{
		table: t,
		recs:  self.recs,
		live:  self.live,
	}
	shadow.buildIndexes()
	for _, recno := range self.live.ToArray() {
		rec := self.recs[recno]
		if err := shadow.dupCheck(rec, 0); err != nil {
			return err
		}
		shadow.indexInsert(rec, recno)
	}
	self.table = t
	self.isam = shadow.isam
	self.aim = shadow.aim
	return nil
}

func findColumn(t *meta.Table, name string) *meta.Column {
	_, c := t.Column(name)
	return c
}
