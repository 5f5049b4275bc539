package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/stretchr/testify/assert"
)

// ID CHAR(3) | DEPT CHAR(2)
func fixtureTable() *meta.Table {
	t := &meta.Table{
		Name: "T",
		Columns: []*meta.Column{
			{Name: "ID", Type: meta.TypeChar, Length: 3},
			{Name: "DEPT", Type: meta.TypeChar, Length: 2},
		},
		Indexes: []*meta.Index{
			{Name: "PK", Type: meta.IndexISAM, Keys: []meta.IndexKey{{Offset: 0, Length: 3}}},
			{Name: "DX", Type: meta.IndexISAM, Dup: true, Keys: []meta.IndexKey{{Offset: 3, Length: 2}}},
			{Name: "DA", Type: meta.IndexAIM, Dup: true, Keys: []meta.IndexKey{{Offset: 3, Length: 2}}},
		},
	}
	t.Layout()
	t.Complete()
	return t
}

func fill(assert *assert.Assertions, f *File, recs ...string) {
	for _, r := range recs {
		_, err := f.Write([]byte(r), "")
		assert.Nil(err)
	}
}

func drain(c *Cursor, reverse bool) []string {
	out := []string{}
	for {
		var rec []byte
		var ok bool
		if reverse {
			rec, ok = c.Prev()
		} else {
			rec, ok = c.Next()
		}
		if !ok {
			return out
		}
		out = append(out, string(rec))
	}
}

func TestScanOrders(t *testing.T) {
	assert := assert.New(t)
	s := New("")
	f, err := s.Open(fixtureTable())
	assert.Nil(err)
	fill(assert, f, "003B ", "001A ", "002B ")

	c := f.NewCursor()
	assert.Nil(c.SetFirst(-1))
	assert.Equal([]string{"003B ", "001A ", "002B "}, drain(c, false))

	assert.Nil(c.SetFirst(0))
	assert.Equal([]string{"001A ", "002B ", "003B "}, drain(c, false))

	assert.Nil(c.SetLast(0))
	assert.Equal([]string{"003B ", "002B ", "001A "}, drain(c, true))

	assert.Nil(c.SetLast(-1))
	assert.Equal([]string{"002B ", "001A ", "003B "}, drain(c, true))

	assert.Nil(c.SeekKey(1, []byte("B "), false))
	assert.Equal([]string{"003B ", "002B "}, drain(c, false))

	assert.Nil(c.SeekKey(0, []byte("002"), true))
	assert.Equal([]string{"002B ", "001A "}, drain(c, true))

	assert.Nil(c.SeekAIM(2, []Criterion{{Key: 0, Value: []byte("B")}}))
	assert.Equal([]string{"003B ", "002B "}, drain(c, false))

	assert.Nil(c.SeekAIM(2, []Criterion{{Key: 0, Value: []byte("A"), Prefix: true}}))
	assert.Equal([]string{"001A "}, drain(c, false))

	assert.NotNil(c.SeekKey(2, []byte("A"), false))
}

func TestMutations(t *testing.T) {
	assert := assert.New(t)
	s := New("")
	f, err := s.Open(fixtureTable())
	assert.Nil(err)
	fill(assert, f, "001A ", "002B ")

	_, err = f.Write([]byte("001C "), "")
	assert.True(sqlerr.Is(err, sqlerr.ExecDupKey))

	c := f.NewCursor()
	assert.Nil(c.SetFirst(0))
	rec, ok := c.Next()
	assert.True(ok)
	recno := c.Recno()

	rec[3] = 'C'
	assert.Nil(f.Update(recno, rec, ""))
	err = f.Update(recno, []byte("002C "), "")
	assert.True(sqlerr.Is(err, sqlerr.ExecDupKey))

	assert.Nil(c.SeekAIM(2, []Criterion{{Key: 0, Value: []byte("C ")}}))
	assert.Equal([]string{"001C "}, drain(c, false))

	assert.Nil(f.Delete(recno, ""))
	assert.Equal(1, f.Count())
	_, ok = f.ReadPos(recno)
	assert.False(ok)
	assert.True(sqlerr.Is(f.Delete(recno, ""), sqlerr.ExecBadRowID))
}

func TestLocks(t *testing.T) {
	assert := assert.New(t)
	s := New("")
	f, err := s.Open(fixtureTable())
	assert.Nil(err)
	fill(assert, f, "001A ")

	assert.Nil(f.LockRecord(1, "a"))
	assert.True(sqlerr.Is(f.LockRecord(1, "b"), sqlerr.ExecRecordLocked))
	assert.True(sqlerr.Is(f.Update(1, []byte("001B "), "b"), sqlerr.ExecRecordLocked))
	assert.True(sqlerr.Is(f.LockFile("b"), sqlerr.ExecRecordLocked))
	assert.Nil(f.Update(1, []byte("001B "), "a"))

	assert.Equal(1, s.ReleaseAll("a"))
	assert.Nil(f.LockFile("b"))
	_, err = f.Write([]byte("002A "), "a")
	assert.True(sqlerr.Is(err, sqlerr.ExecRecordLocked))
	f.UnlockFile("b")
	_, err = f.Write([]byte("002A "), "a")
	assert.Nil(err)
}

func TestReorganize(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	s := New(dir)
	old := fixtureTable()
	f, err := s.Open(old)
	assert.Nil(err)
	fill(assert, f, "001A ", "002B ")

	nt := old.Clone()
	nt.Columns = append([]*meta.Column{{Name: "N", Type: meta.TypeNum, Length: 2}}, nt.Columns...)
	nt.Layout()
	nt.Indexes[0].Keys[0].Offset = 2
	nt.Indexes[1].Keys[0].Offset = 5
	nt.Indexes[2].Keys[0].Offset = 5
	assert.Nil(nt.Complete())

	assert.Nil(s.Reorganize(old, nt))
	c := f.NewCursor()
	assert.Nil(c.SetFirst(0))
	assert.Equal([]string{"  001A ", "  002B "}, drain(c, false))

	assert.Nil(s.Flush())
	s2 := New(dir)
	f2, err := s2.Open(nt)
	assert.Nil(err)
	assert.Equal(2, f2.Count())
}

func TestLockWait(t *testing.T) {
	assert := assert.New(t)
	s := New("")
	f, err := s.Open(fixtureTable())
	assert.Nil(err)
	fill(assert, f, "001A ")

	assert.Nil(f.LockRecord(1, "a"))
	start := time.Now()
	err = f.LockRecordWait(1, "b", 50*time.Millisecond)
	assert.True(sqlerr.Is(err, sqlerr.ExecRecordLocked))
	assert.True(time.Since(start) >= 50*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.ReleaseAll("a")
	}()
	assert.Nil(f.LockRecordWait(1, "b", 5*time.Second))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.UnlockRecord(1, "b")
	}()
	assert.Nil(f.LockFileWait("c", 5*time.Second))
	assert.Equal("c", f.FileOwner())
}

func TestReindex(t *testing.T) {
	assert := assert.New(t)
	s := New("")
	old := fixtureTable()
	f, err := s.Open(old)
	assert.Nil(err)
	fill(assert, f, "002B ", "001A ", "003B ")

	uniq := old.Clone()
	uniq.Indexes = append(uniq.Indexes, &meta.Index{
		Name: "DU", Type: meta.IndexISAM, Keys: []meta.IndexKey{{Offset: 3, Length: 2}},
	})
	assert.Nil(uniq.Complete())
	assert.True(sqlerr.Is(s.Reindex(uniq), sqlerr.ExecDupKey))
	assert.Equal(old, f.Table())

	nt := old.Clone()
	nt.Indexes = nt.Indexes[:1]
	nt.Indexes = append(nt.Indexes, &meta.Index{
		Name: "ID2", Type: meta.IndexISAM, Dup: true, Keys: []meta.IndexKey{{Offset: 0, Length: 3}},
	})
	assert.Nil(nt.Complete())
	assert.Nil(s.Reindex(nt))
	assert.Equal(nt, f.Table())

	c := f.NewCursor()
	assert.Nil(c.SetFirst(1))
	assert.Equal([]string{"001A ", "002B ", "003B "}, drain(c, false))
}

func TestRenameMovesFile(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	s := New(dir)
	old := fixtureTable()
	f, err := s.Open(old)
	assert.Nil(err)
	fill(assert, f, "001A ")
	assert.Nil(s.Flush())

	nt := old.Clone()
	nt.Name = "U"
	assert.Nil(s.Reorganize(old, nt))
	_, err = os.Stat(filepath.Join(dir, "t.dat"))
	assert.True(os.IsNotExist(err))
	assert.Nil(s.Flush())

	s2 := New(dir)
	f2, err := s2.Open(nt)
	assert.Nil(err)
	assert.Equal(1, f2.Count())
}
