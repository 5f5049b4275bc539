package store

import (
	"sort"
	"sync"

	"github.com/dianpeng/fsql/meta"
	sorted "github.com/tobshub/go-sortedmap"
)

// isamEntry is one index entry. Entries are ordered by key bytes, then by
// record number, so duplicate keys keep insertion order.
type isamEntry struct {
	Key   string
	Recno uint32
}

func (a isamEntry) less(b isamEntry) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Recno < b.Recno
}

func isamComparisonFunc(a, b isamEntry) bool {
	return a.less(b)
}

type isamIndex struct {
	def  *meta.Index
	m    *sorted.SortedMap[uint32, isamEntry]
	keys map[string]int

	snapMu sync.Mutex
	snap   []isamEntry
	dirty  bool
}

func newISAM(def *meta.Index) *isamIndex {
	return &isamIndex{
		def:   def,
		m:     sorted.New[uint32, isamEntry](0, isamComparisonFunc),
		keys:  make(map[string]int),
		dirty: true,
	}
}

func keyOf(def *meta.Index, rec []byte) string {
	buf := make([]byte, 0, def.KeyLength())
	for _, k := range def.Keys {
		buf = append(buf, rec[k.Offset:k.Offset+k.Length]...)
	}
	return string(buf)
}

// conflicts reports whether inserting rec would duplicate the key of a
// record other than self on a unique index.
func (self *isamIndex) conflicts(rec []byte, recno uint32) bool {
	if self.def.Dup {
		return false
	}
	k := keyOf(self.def, rec)
	n := self.keys[k]
	if n == 0 {
		return false
	}
	if old, ok := self.m.Get(recno); ok && old.Key == k {
		return n > 1
	}
	return true
}

func (self *isamIndex) insert(rec []byte, recno uint32) {
	e := isamEntry{
		Key:   keyOf(self.def, rec),
		Recno: recno,
	}
	self.m.Insert(recno, e)
	self.keys[e.Key]++
	self.dirty = true
}

func (self *isamIndex) remove(recno uint32) {
	if old, ok := self.m.Get(recno); ok {
		self.m.Delete(recno)
		if self.keys[old.Key] <= 1 {
			delete(self.keys, old.Key)
		} else {
			self.keys[old.Key]--
		}
		self.dirty = true
	}
}

// entries returns the ordered entry list, rebuilt from the sorted map after
// a mutation.
func (self *isamIndex) entries() []isamEntry {
	self.snapMu.Lock()
	defer self.snapMu.Unlock()
	if !self.dirty {
		return self.snap
	}
	out := make([]isamEntry, 0, self.m.Len())
	if iter, err := self.m.IterCh(); err == nil {
		for rec := range iter.Records() {
			out = append(out, rec.Val)
		}
	}
	self.snap = out
	self.dirty = false
	return out
}

// after returns the index of the first entry strictly greater than p.
func after(list []isamEntry, p isamEntry) int {
	return sort.Search(len(list), func(i int) bool {
		return p.less(list[i])
	})
}

// before returns the index of the last entry strictly less than p, or -1.
func before(list []isamEntry, p isamEntry) int {
	return sort.Search(len(list), func(i int) bool {
		return !list[i].less(p)
	}) - 1
}
