package workset

import (
	"os"
	"testing"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/stretchr/testify/assert"
)

func put(assert *assert.Assertions, ws *Workset, text string) {
	_, err := ws.NewRow()
	assert.Nil(err)
	row, err := ws.Row()
	assert.Nil(err)
	copy(row, text)
}

func rowsOf(assert *assert.Assertions, ws *Workset) []string {
	out := []string{}
	for id := 1; id <= ws.RowCount(); id++ {
		row, err := ws.RowAt(id)
		assert.Nil(err)
		out = append(out, string(row))
	}
	return out
}

func TestSpillTransparent(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	ws := New(3, 2, dir, 10)

	for _, s := range []string{"c 3", "a 1", "b 2", "a 9", "d 4"} {
		put(assert, ws, s)
	}
	assert.True(ws.Spilled())
	assert.Equal(5, ws.RowCount())
	assert.Equal([]string{"c 3", "a 1", "b 2", "a 9", "d 4"}, rowsOf(assert, ws))

	assert.Nil(ws.SetRowID(4))
	row, err := ws.Row()
	assert.Nil(err)
	row[2] = '8'
	assert.Nil(ws.SetRowID(1))
	row, err = ws.Row()
	assert.Nil(err)
	assert.Equal("c 3", string(row))
	row, err = ws.RowAt(4)
	assert.Nil(err)
	assert.Equal("a 8", string(row))

	key := []KeySpec{{Offset: 0, Shape: meta.Shape{Type: meta.TypeChar, Length: 1}}}
	assert.Nil(ws.Sort(key))
	assert.Equal([]string{"a 1", "a 8", "b 2", "c 3", "d 4"}, rowsOf(assert, ws))

	assert.Nil(ws.Unique(key))
	assert.Equal([]string{"a 1", "b 2", "c 3", "d 4"}, rowsOf(assert, ws))

	desc := []KeySpec{{Offset: 2, Shape: meta.Shape{Type: meta.TypeNum, Length: 1}, Desc: true}}
	assert.Nil(ws.Sort(desc))
	assert.Equal([]string{"d 4", "c 3", "b 2", "a 1"}, rowsOf(assert, ws))

	assert.True(sqlerr.Is(ws.SetRowID(9), sqlerr.ExecBadRowID))

	path := ws.spillPath
	assert.Nil(ws.Close())
	_, err = os.Stat(path)
	assert.True(os.IsNotExist(err))
}

func TestUniqueWholeRow(t *testing.T) {
	assert := assert.New(t)
	ws := New(2, 10, "", 0)
	for _, s := range []string{"ab", "cd", "ab", "ef", "cd"} {
		put(assert, ws, s)
	}
	assert.Nil(ws.Unique(nil))
	assert.Equal([]string{"ab", "cd", "ef"}, rowsOf(assert, ws))
	assert.Nil(ws.Truncate())
	assert.Equal(0, ws.RowCount())
	assert.Equal(0, ws.RowID())
}

func TestManagerSharedOwnership(t *testing.T) {
	assert := assert.New(t)
	m := NewManager(4, t.TempDir())

	h := m.Alloc(4, 1)
	assert.Nil(m.Retain(h))
	assert.Equal(1, m.Live())

	assert.Nil(m.Release(h))
	ws, err := m.Get(h)
	assert.Nil(err)
	assert.NotNil(ws)

	assert.Nil(m.Release(h))
	_, err = m.Get(h)
	assert.True(sqlerr.Is(err, sqlerr.ExecBadWorkset))
	assert.Nil(m.Release(h))

	h2 := m.Alloc(4, 1)
	assert.Equal(h.Slot, h2.Slot)
	assert.NotEqual(h.Gen, h2.Gen)
	_, err = m.Get(h)
	assert.NotNil(err)

	m.ReleaseAll()
	assert.Equal(0, m.Live())
}

func TestSpilledSortMergesRuns(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	ws := New(3, 3, dir, 0)

	in := []string{"e 1", "b 1", "d 1", "a 1", "b 2", "c 1", "a 2", "e 2", "b 3", "d 2"}
	for _, s := range in {
		put(assert, ws, s)
	}
	assert.True(ws.Spilled())

	key := []KeySpec{{Offset: 0, Shape: meta.Shape{Type: meta.TypeChar, Length: 1}}}
	assert.Nil(ws.Sort(key))
	assert.Equal([]string{
		"a 1", "a 2", "b 1", "b 2", "b 3", "c 1", "d 1", "d 2", "e 1", "e 2",
	}, rowsOf(assert, ws))
	assert.Equal(3, len(ws.rows))

	// only the work file is left behind, the run file is gone
	entries, err := os.ReadDir(dir)
	assert.Nil(err)
	assert.Equal(1, len(entries))
}

func TestSpilledUniqueNoCase(t *testing.T) {
	assert := assert.New(t)
	ws := New(2, 2, t.TempDir(), 0)
	for _, s := range []string{"ab", "AB", "cd", "Ab", "ef", "CD"} {
		put(assert, ws, s)
	}
	key := []KeySpec{{Shape: meta.Shape{Type: meta.TypeChar, Length: 2, NoCase: true}}}
	assert.Nil(ws.Unique(key))
	assert.Equal([]string{"ab", "cd", "ef"}, rowsOf(assert, ws))
	assert.True(ws.Spilled())

	// new rows land after the survivors
	put(assert, ws, "gh")
	assert.Equal([]string{"ab", "cd", "ef", "gh"}, rowsOf(assert, ws))
	assert.Nil(ws.Close())
}

func TestSpilledUniqueWholeRow(t *testing.T) {
	assert := assert.New(t)
	ws := New(2, 2, t.TempDir(), 0)
	for _, s := range []string{"cd", "ab", "cd", "ef", "ab", "ef", "gh"} {
		put(assert, ws, s)
	}
	assert.Nil(ws.Unique(nil))
	assert.Equal([]string{"ab", "cd", "ef", "gh"}, rowsOf(assert, ws))
	assert.True(ws.Spilled())
	assert.Nil(ws.Close())
}

func TestUniqueNoCaseInMemory(t *testing.T) {
	assert := assert.New(t)
	ws := New(2, 10, "", 0)
	for _, s := range []string{"cd", "ab", "CD", "AB"} {
		put(assert, ws, s)
	}
	key := []KeySpec{{Shape: meta.Shape{Type: meta.TypeChar, Length: 2, NoCase: true}}}
	assert.Nil(ws.Unique(key))
	assert.Equal([]string{"cd", "ab"}, rowsOf(assert, ws))
}
