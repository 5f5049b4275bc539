package workset

import (
	"bytes"
	"container/heap"
	"os"
	"path/filepath"
	"sort"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/google/uuid"
)

// KeySpec is one sort key: a field of the row and its direction.
type KeySpec struct {
	Offset int
	Shape  meta.Shape
	Desc   bool
}

func (k KeySpec) field(row []byte) []byte {
	return row[k.Offset : k.Offset+k.Shape.Length]
}

// compareRows orders two rows by keys; nil keys compare the raw bytes.
func compareRows(a, b []byte, keys []KeySpec) int {
	if keys == nil {
		return bytes.Compare(a, b)
	}
	for _, k := range keys {
		c := meta.Compare(k.field(a), k.Shape, k.field(b), k.Shape)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Sort orders the rows by keys. The sort is stable so rows with equal keys
// keep their production order. A spilled workset is sorted in runs of
// memRows rows that are merged back, so no more than about two runs are
// held in memory.
func (self *Workset) Sort(keys []KeySpec) error {
	if !self.Spilled() {
		sort.SliceStable(self.rows, func(i, j int) bool {
			return compareRows(self.rows[i], self.rows[j], keys) < 0
		})
		return nil
	}
	return self.mergeSort(keys, false)
}

// Unique removes rows whose keys equal an earlier row's, keeping the first
// occurrence. Nil keys compare whole rows byte for byte. In memory the
// surviving rows keep their order; a spilled workset comes out sorted by
// keys.
func (self *Workset) Unique(keys []KeySpec) error {
	if self.Spilled() {
		return self.mergeSort(keys, true)
	}

	rows := self.rows
	if keys == nil {
		seen := make(map[string]bool, len(rows))
		out := rows[:0]
		for _, row := range rows {
			k := string(row)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, row)
		}
		return self.replace(out)
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return compareRows(rows[order[i]], rows[order[j]], keys) < 0
	})
	drop := make([]bool, len(rows))
	for i := 1; i < len(order); i++ {
		if compareRows(rows[order[i-1]], rows[order[i]], keys) == 0 {
			drop[order[i]] = true
		}
	}
	out := [][]byte{}
	for i, row := range rows {
		if !drop[i] {
			out = append(out, row)
		}
	}
	return self.replace(out)
}

// run is a sorted stretch of the run file.
type run struct {
	index int // position among the runs, breaks ties so the merge is stable
	next  int // next row of the run, relative to its start
	start int
	count int
	row   []byte
}

type runHeap struct {
	runs []*run
	keys []KeySpec
}

func (h *runHeap) Len() int { return len(h.runs) }

func (h *runHeap) Less(i, j int) bool {
	if c := compareRows(h.runs[i].row, h.runs[j].row, h.keys); c != 0 {
		return c < 0
	}
	return h.runs[i].index < h.runs[j].index
}

func (h *runHeap) Swap(i, j int) { h.runs[i], h.runs[j] = h.runs[j], h.runs[i] }

func (h *runHeap) Push(x interface{}) { h.runs = append(h.runs, x.(*run)) }

func (h *runHeap) Pop() interface{} {
	n := len(h.runs)
	r := h.runs[n-1]
	h.runs = h.runs[:n-1]
	return r
}

// mergeSort sorts a spilled workset: every memRows rows are sorted and
// written to a run file, then the runs are merged back into the workset.
// With unique set, rows equal to the previous output row are dropped.
func (self *Workset) mergeSort(keys []KeySpec, unique bool) error {
	if err := self.flushBuf(); err != nil {
		return err
	}
	path := filepath.Join(filepath.Dir(self.spillPath), "fsql-run-"+uuid.NewString()+".tmp")
	rf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "create run file: %s", err)
	}
	defer func() {
		rf.Close()
		os.Remove(path)
	}()

	// 1) sorted runs
	total := self.RowCount()
	h := &runHeap{keys: keys}
	chunk := make([][]byte, 0, self.memRows)
	for start := 1; start <= total; start += self.memRows {
		chunk = chunk[:0]
		for id := start; id <= total && id < start+self.memRows; id++ {
			row, err := self.peekRow(id)
			if err != nil {
				return err
			}
			chunk = append(chunk, row)
		}
		sort.SliceStable(chunk, func(i, j int) bool {
			return compareRows(chunk[i], chunk[j], keys) < 0
		})
		for i, row := range chunk {
			if _, err := rf.WriteAt(row, int64(start-1+i)*int64(self.rowLen)); err != nil {
				return sqlerr.Exec(sqlerr.ExecBadWorkFile, "write run file: %s", err)
			}
		}
		h.runs = append(h.runs, &run{
			index: len(h.runs),
			start: start - 1,
			count: len(chunk),
			row:   make([]byte, self.rowLen),
		})
	}

	advance := func(r *run) (bool, error) {
		if r.next >= r.count {
			return false, nil
		}
		if _, err := rf.ReadAt(r.row, int64(r.start+r.next)*int64(self.rowLen)); err != nil {
			return false, sqlerr.Exec(sqlerr.ExecBadWorkFile, "read run file: %s", err)
		}
		r.next++
		return true, nil
	}
	for _, r := range h.runs {
		if _, err := advance(r); err != nil {
			return err
		}
	}
	heap.Init(h)

	// 2) merge; every row is in the run file now, so the memory rows and
	// the spill file are overwritten in place
	n := 0
	last := make([]byte, self.rowLen)
	for h.Len() > 0 {
		r := h.runs[0]
		if !unique || n == 0 || compareRows(last, r.row, keys) != 0 {
			if err := self.putSorted(n, r.row); err != nil {
				return err
			}
			copy(last, r.row)
			n++
		}
		if ok, err := advance(r); err != nil {
			return err
		} else if ok {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return self.shrink(n)
}

// peekRow returns a copy of row id without marking the buffer dirty.
func (self *Workset) peekRow(id int) ([]byte, error) {
	if id <= len(self.rows) {
		return append([]byte(nil), self.rows[id-1]...), nil
	}
	if err := self.loadBuf(id); err != nil {
		return nil, err
	}
	return append([]byte(nil), self.buf...), nil
}

// putSorted stores the i-th (0 based) merged row.
func (self *Workset) putSorted(i int, row []byte) error {
	if i < len(self.rows) {
		copy(self.rows[i], row)
		return nil
	}
	off := int64(i-len(self.rows)) * int64(self.rowLen)
	if _, err := self.spill.WriteAt(row, off); err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "write work file: %s", err)
	}
	return nil
}

// shrink keeps the first n rows after a merge that dropped duplicates.
func (self *Workset) shrink(n int) error {
	self.bufRow = 0
	self.dirty = false
	if n < len(self.rows) {
		self.rows = self.rows[:n]
		self.spillRows = 0
	} else {
		self.spillRows = n - len(self.rows)
	}
	if err := self.spill.Truncate(int64(self.spillRows) * int64(self.rowLen)); err != nil {
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "truncate work file: %s", err)
	}
	if self.cur > n {
		self.cur = 0
	}
	return nil
}
