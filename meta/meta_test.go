package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dianpeng/fsql/sqlerr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testTable() *Table {
	t := &Table{
		Name: "EMP",
		Columns: []*Column{
			{Name: "ID", Type: TypeNum, Length: 5},
			{Name: "NAME", Type: TypeChar, Length: 10},
			{Name: "SALARY", Type: TypeNum, Length: 9, Scale: 2},
			{Name: "HIRED", Type: TypeDate, Length: 10},
		},
		Indexes: []*Index{
			{Name: "PK", Type: IndexISAM, Keys: []IndexKey{{Offset: 0, Length: 5}}},
			{Name: "NAMEX", Type: IndexISAM, Dup: true, Keys: []IndexKey{{Offset: 5, Length: 12}}},
		},
	}
	t.Layout()
	return t
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cases := []struct {
		shape Shape
		text  string
		want  string
	}{
		{Shape{Type: TypeChar, Length: 6}, "abc", "abc"},
		{Shape{Type: TypeNum, Length: 8, Scale: 2}, "-12.5", "-12.50"},
		{Shape{Type: TypeNum, Length: 5}, "42", "42"},
		{Shape{Type: TypePosNum, Length: 6, Scale: 1}, "3.2", "3.2"},
		{Shape{Type: TypeDate, Length: 10}, "20240229", "2024-02-29"},
		{Shape{Type: TypeTime, Length: 12, Scale: 3}, "10:11:12.5", "10:11:12.500"},
		{Shape{Type: TypeTimestamp, Length: 19}, "2024-01-02T03:04:05", "2024-01-02 03:04:05"},
	}
	for _, c := range cases {
		buf := make([]byte, c.shape.Length)
		truncated, err := Encode(buf, c.shape, c.text)
		assert.Nil(err, c.text)
		assert.False(truncated, c.text)
		text := Decode(buf, c.shape)
		assert.Equal(c.want, text)

		again := make([]byte, c.shape.Length)
		_, err = Encode(again, c.shape, text)
		assert.Nil(err)
		assert.Equal(string(buf), string(again))
		assert.True(Equal(buf, c.shape, again, c.shape))
	}
}

func TestEncodeErrors(t *testing.T) {
	assert := assert.New(t)
	{
		buf := make([]byte, 4)
		_, err := Encode(buf, Shape{Type: TypeNum, Length: 4}, "12345")
		assert.True(sqlerr.Is(err, sqlerr.BadNumeric))
	}
	{
		buf := make([]byte, 4)
		_, err := Encode(buf, Shape{Type: TypeNum, Length: 4}, "12a")
		assert.True(sqlerr.Is(err, sqlerr.BadNumeric))
	}
	{
		buf := make([]byte, 6)
		truncated, err := Encode(buf, Shape{Type: TypeNum, Length: 6, Scale: 1}, "1.25")
		assert.Nil(err)
		assert.True(truncated)
		assert.Equal("   1.2", string(buf))
	}
	{
		buf := make([]byte, 3)
		truncated, err := Encode(buf, Shape{Type: TypeChar, Length: 3}, "abcdef")
		assert.Nil(err)
		assert.True(truncated)
		assert.Equal("abc", string(buf))
	}
	{
		buf := make([]byte, 4)
		_, err := Encode(buf, Shape{Type: TypePosNum, Length: 4}, "-1")
		assert.True(sqlerr.Is(err, sqlerr.BadNumeric))
	}
	{
		buf := make([]byte, 10)
		_, err := Encode(buf, Shape{Type: TypeDate, Length: 10}, "2023-02-30")
		assert.NotNil(err)
	}
}

func TestCompare(t *testing.T) {
	assert := assert.New(t)
	num := Shape{Type: TypeNum, Length: 5, Scale: 1}
	chr := Shape{Type: TypeChar, Length: 4}

	assert.Equal(-1, Compare([]byte("  9.0"), num, []byte(" 10.0"), num))
	assert.Equal(0, Compare([]byte("  9.0"), num, []byte("9"), Shape{Type: TypeNum, Length: 1}))
	assert.Equal(-1, Compare([]byte("     "), num, []byte(" -1.0"), num))
	assert.Equal(0, Compare([]byte("ab  "), chr, []byte("ab"), Shape{Type: TypeChar, Length: 2}))
	assert.Equal(1, Compare([]byte("b   "), chr, []byte("ab  "), chr))
	assert.Equal(0, Compare([]byte("AB  "), Shape{Type: TypeChar, Length: 4, NoCase: true}, []byte("ab  "), chr))

	dst := make([]byte, 6)
	_, err := Convert(dst, Shape{Type: TypeNum, Length: 6, Scale: 2}, []byte(" 1.005"), Shape{Type: TypeNum, Length: 6, Scale: 3})
	assert.Nil(err)
	assert.Equal("  1.01", string(dst))

	d, null, err := ParseNumber(dst)
	assert.Nil(err)
	assert.False(null)
	assert.True(d.Equal(decimal.RequireFromString("1.01")))
}

func TestCompleteChain(t *testing.T) {
	assert := assert.New(t)
	tbl := testTable()
	assert.Nil(tbl.Complete())

	for _, idx := range tbl.Indexes {
		sum := 0
		for _, ck := range idx.Chain() {
			sum += ck.Length
		}
		assert.Equal(idx.KeyLength(), sum)
	}

	chain := tbl.Indexes[1].Chain()
	assert.Equal(2, len(chain))
	assert.Equal(1, chain[0].Column)
	assert.True(chain[0].Full)
	assert.True(chain[0].Text)
	assert.Equal(2, chain[1].Column)
	assert.False(chain[1].Full)

	pk := tbl.Indexes[0].Chain()
	assert.Equal(1, len(pk))
	assert.False(pk[0].Text)
}

func TestCatalogLookupAndTemplates(t *testing.T) {
	assert := assert.New(t)
	c := NewCatalog()
	_, err := c.Add(testTable())
	assert.Nil(err)

	tmpl := testTable()
	tmpl.Name = "LOG_*"
	tmpl.File = "logs/*"
	tmpl.Template = true
	_, err = c.Add(tmpl)
	assert.Nil(err)

	id, tbl, err := c.Lookup("emp")
	assert.Nil(err)
	assert.Equal("EMP", tbl.Name)
	assert.True(tbl.IsComplete())

	got, err := c.Get(id)
	assert.Nil(err)
	assert.Equal(tbl, got)

	_, inst, err := c.Lookup("log_2024")
	assert.Nil(err)
	assert.Equal("LOG_2024", inst.Name)
	assert.Equal("logs/log_2024", inst.File)
	assert.Equal("LOG_*", inst.TemplateOf)

	_, _, err = c.Lookup("nope")
	assert.True(sqlerr.Is(err, sqlerr.ParseTableNotFound))

	assert.Nil(c.DropTable("EMP"))
	_, err = c.Get(id)
	assert.True(sqlerr.Is(err, sqlerr.ExecBadTable))
}

type recordingReorg struct {
	reorganized int
	reindexed   int
	dropped     int
	fail        error
}

func (r *recordingReorg) Reorganize(old, new *Table) error { r.reorganized++; return r.fail }
func (r *recordingReorg) Reindex(t *Table) error             { r.reindexed++; return r.fail }
func (r *recordingReorg) Drop(t *Table) error                { r.dropped++; return r.fail }

func TestAlterTable(t *testing.T) {
	assert := assert.New(t)
	c := NewCatalog()
	r := &recordingReorg{}
	c.SetReorganizer(r)

	_, err := c.CreateTable(testTable())
	assert.Nil(err)
	v := c.Version()

	err = c.AlterTable("emp", Alter(
		AddColumn(&Column{Name: "DEPT", Type: TypeChar, Length: 4}, true, ""),
		AddIndex("DEPTX", IndexAIM, true, []IndexColumn{{Name: "DEPT"}}),
	))
	assert.Nil(err)
	assert.True(c.Version() > v)
	assert.Equal(2, r.reorganized)

	_, tbl, err := c.Lookup("EMP")
	assert.Nil(err)
	assert.Equal("DEPT", tbl.Columns[0].Name)
	assert.Equal(4, tbl.Columns[1].Offset)
	_, pk := tbl.IndexByName("PK")
	assert.Equal(4, pk.Keys[0].Offset)
	_, dx := tbl.IndexByName("DEPTX")
	assert.Equal(0, dx.Keys[0].Offset)
	assert.Equal(4, dx.Keys[0].Length)

	err = c.AlterTable("emp", DropColumn("ID"))
	assert.True(sqlerr.Is(err, sqlerr.BadIndex))

	_, err = c.CreateTable(testTable())
	assert.True(sqlerr.Is(err, sqlerr.TableExists))
}

func TestSchemaFile(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")

	c, err := LoadCatalog(path)
	assert.Nil(err)
	_, err = c.CreateTable(testTable())
	assert.Nil(err)

	_, err = os.Stat(path)
	assert.Nil(err)

	c2, err := LoadCatalog(path)
	assert.Nil(err)
	_, tbl, err := c2.Lookup("EMP")
	assert.Nil(err)
	assert.Equal(4, len(tbl.Columns))
	assert.Equal(TypeNum, tbl.Columns[2].Type)
	assert.Equal(9, tbl.Columns[2].Length)
	assert.Equal(2, tbl.Columns[2].Scale)
	assert.Equal(IndexISAM, tbl.Indexes[0].Type)
	assert.True(tbl.Indexes[1].Dup)
	assert.Equal(12, tbl.Indexes[1].Keys[0].Length)
}

func TestSchemaNotWritable(t *testing.T) {
	assert := assert.New(t)
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "missing", "schema.json"))
	assert.Nil(err)
	r := &recordingReorg{}
	c.SetReorganizer(r)
	v := c.Version()

	_, err = c.CreateTable(testTable())
	assert.True(sqlerr.Is(err, sqlerr.ExecNoWrite))
	assert.False(c.Has("EMP"))
	assert.Equal(v, c.Version())
	assert.Equal(0, r.reorganized)
}

func TestReorgFailureRestoresSchema(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "schema.json")
	c, err := LoadCatalog(path)
	assert.Nil(err)
	_, err = c.CreateTable(testTable())
	assert.Nil(err)

	c.SetReorganizer(&recordingReorg{fail: sqlerr.Exec(sqlerr.ExecBadDataFile, "disk full")})
	err = c.AlterTable("emp", AddColumn(&Column{Name: "DEPT", Type: TypeChar, Length: 4}, false, ""))
	assert.True(sqlerr.Is(err, sqlerr.ExecBadDataFile))

	_, tbl, err := c.Lookup("EMP")
	assert.Nil(err)
	assert.Equal(4, len(tbl.Columns))

	c2, err := LoadCatalog(path)
	assert.Nil(err)
	_, tbl, err = c2.Lookup("EMP")
	assert.Nil(err)
	assert.Equal(4, len(tbl.Columns))
}

func TestIndexChangeReindexes(t *testing.T) {
	assert := assert.New(t)
	c := NewCatalog()
	r := &recordingReorg{}
	c.SetReorganizer(r)
	_, err := c.CreateTable(testTable())
	assert.Nil(err)

	err = c.AlterTable("emp", AddIndex("SALX", IndexISAM, true, []IndexColumn{{Name: "SALARY"}}))
	assert.Nil(err)
	assert.Equal(1, r.reorganized)
	assert.Equal(1, r.reindexed)

	err = c.AlterTable("emp", DropIndex("salx"))
	assert.Nil(err)
	assert.Equal(2, r.reindexed)
}

func TestRenameTable(t *testing.T) {
	assert := assert.New(t)
	c := NewCatalog()
	r := &recordingReorg{}
	c.SetReorganizer(r)
	_, err := c.CreateTable(testTable())
	assert.Nil(err)
	other := testTable()
	other.Name = "OTHER"
	_, err = c.CreateTable(other)
	assert.Nil(err)

	assert.Nil(c.AlterTable("emp", RenameTable("staff")))
	assert.Equal(3, r.reorganized)
	assert.False(c.Has("EMP"))
	_, tbl, err := c.Lookup("staff")
	assert.Nil(err)
	assert.Equal("STAFF", tbl.Name)
	assert.Equal("staff", tbl.File)

	err = c.AlterTable("staff", RenameTable("other"))
	assert.True(sqlerr.Is(err, sqlerr.TableExists))
	assert.True(c.Has("STAFF"))
}
