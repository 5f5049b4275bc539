package store

import (
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/dianpeng/fsql/meta"
	"github.com/google/btree"
)

// aimValue is one distinct value of an associative key with the set of
// records holding it.
type aimValue struct {
	val  string
	bits *roaring.Bitmap
}

func (a *aimValue) Less(than btree.Item) bool {
	return a.val < than.(*aimValue).val
}

// aimIndex keeps one value dictionary per declared key range.
type aimIndex struct {
	def   *meta.Index
	trees []*btree.BTree
}

// Criterion restricts one key range of an associative index to a value or
// a value prefix.
type Criterion struct {
	Key    int
	Value  []byte
	Prefix bool
}

func newAIM(def *meta.Index) *aimIndex {
	x := &aimIndex{
		def: def,
	}
	for range def.Keys {
		x.trees = append(x.trees, btree.New(16))
	}
	return x
}

func (self *aimIndex) insert(rec []byte, recno uint32) {
	for i, k := range self.def.Keys {
		probe := &aimValue{val: string(rec[k.Offset : k.Offset+k.Length])}
		if it := self.trees[i].Get(probe); it != nil {
			it.(*aimValue).bits.Add(recno)
		} else {
			probe.bits = roaring.BitmapOf(recno)
			self.trees[i].ReplaceOrInsert(probe)
		}
	}
}

func (self *aimIndex) remove(rec []byte, recno uint32) {
	for i, k := range self.def.Keys {
		probe := &aimValue{val: string(rec[k.Offset : k.Offset+k.Length])}
		if it := self.trees[i].Get(probe); it != nil {
			v := it.(*aimValue)
			v.bits.Remove(recno)
			if v.bits.IsEmpty() {
				self.trees[i].Delete(probe)
			}
		}
	}
}

func (self *aimIndex) match(c Criterion) *roaring.Bitmap {
	out := roaring.NewBitmap()
	if c.Key < 0 || c.Key >= len(self.trees) {
		return out
	}
	tree := self.trees[c.Key]
	width := self.def.Keys[c.Key].Length

	if !c.Prefix {
		val := string(c.Value)
		if len(val) < width {
			val += strings.Repeat(" ", width-len(val))
		}
		if it := tree.Get(&aimValue{val: val[:width]}); it != nil {
			out.Or(it.(*aimValue).bits)
		}
		return out
	}

	prefix := string(c.Value)
	tree.AscendGreaterOrEqual(&aimValue{val: prefix}, func(i btree.Item) bool {
		v := i.(*aimValue)
		if !strings.HasPrefix(v.val, prefix) {
			return false
		}
		out.Or(v.bits)
		return true
	})
	return out
}

// lookup intersects the record sets of every criterion. With no criteria
// the result is nil, meaning unrestricted.
func (self *aimIndex) lookup(criteria []Criterion) []uint32 {
	var acc *roaring.Bitmap
	for _, c := range criteria {
		m := self.match(c)
		if acc == nil {
			acc = m
		} else {
			acc.And(m)
		}
	}
	if acc == nil {
		return nil
	}
	return acc.ToArray()
}
