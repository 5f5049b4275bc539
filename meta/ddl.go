package meta

import (
	"strings"

	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
)

// IndexColumn names one column of an index definition; Length limits the
// key to a prefix of the column when positive.
type IndexColumn struct {
	Name   string
	Length int
}

// BuildIndex derives the key byte ranges of an index over the given
// columns. Adjacent columns still get separate keys.
func BuildIndex(t *Table, name string, typ IndexType, dup bool, cols []IndexColumn) (*Index, error) {
	idx := &Index{
		Name: strings.ToUpper(name),
		Type: typ,
		Dup:  dup,
	}
	for _, ic := range cols {
		_, c := t.Column(ic.Name)
		if c == nil {
			return nil, sqlerr.Semantic(sqlerr.ParseColumnNotFound, "column not found", ic.Name)
		}
		length := c.Length
		if ic.Length > 0 {
			if ic.Length > c.Length {
				return nil, sqlerr.Semantic(sqlerr.BadIndex, "key length exceeds column", ic.Name)
			}
			length = ic.Length
		}
		idx.Keys = append(idx.Keys, IndexKey{
			Offset: c.Offset,
			Length: length,
		})
	}
	return idx, nil
}

func (self *Catalog) commit() {
	self.version++
}

// persist writes the schema as it is once old is replaced by new, before
// anything else changes. A nil old adds new, a nil new drops old.
func (self *Catalog) persist(old, new *Table) error {
	if self.path == "" {
		return nil
	}
	if err := writeSchema(self.path, self.tablesWith(old, new)); err != nil {
		return sqlerr.Exec(sqlerr.ExecNoWrite, "schema %s not saved: %s", self.path, err)
	}
	return nil
}

// restore writes back the unchanged schema after the physical side of a
// change failed.
func (self *Catalog) restore() {
	if err := self.persist(nil, nil); err != nil {
		logger.Errorf("catalog: %s", err)
	}
}

// CreateTable adds a new table and creates its (empty) file.
func (self *Catalog) CreateTable(t *Table) (TableID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	t.Name = normName(t.Name)
	if _, ok := self.byName[t.Name]; ok {
		return TableID{}, sqlerr.Semantic(sqlerr.TableExists, "table already exists", t.Name)
	}
	if t.File == "" {
		t.File = strings.ToLower(t.Name)
	}
	if err := validateTable(t); err != nil {
		return TableID{}, err
	}
	t.Layout()
	if err := t.Complete(); err != nil {
		return TableID{}, sqlerr.Semantic(sqlerr.BadIndex, "bad index definition", err.Error())
	}
	if err := self.persist(nil, t); err != nil {
		return TableID{}, err
	}
	if self.reorg != nil {
		if err := self.reorg.Reorganize(nil, t); err != nil {
			self.restore()
			return TableID{}, err
		}
	}
	id := self.add(t)
	self.commit()
	logger.Infof("catalog: created table %s", t.Name)
	return id, nil
}

// Has reports whether a concrete table or a template is named name.
func (self *Catalog) Has(name string) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	_, ok := self.byName[normName(name)]
	return ok
}

func (self *Catalog) DropTable(name string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	id, ok := self.byName[normName(name)]
	if !ok {
		return sqlerr.Semantic(sqlerr.ParseTableNotFound, "table not found", name)
	}
	t := self.slots[id.Slot].table
	if err := self.persist(t, nil); err != nil {
		return err
	}
	if self.reorg != nil {
		if err := self.reorg.Drop(t); err != nil {
			self.restore()
			return err
		}
	}
	self.remove(id)
	self.commit()
	logger.Infof("catalog: dropped table %s", t.Name)
	return nil
}

// AlterTable applies fn to a copy of the named table. The copy replaces
// the table in its slot only after validation, the schema file write and
// physical reorganization succeed. A change that leaves the columns alone
// only rebuilds the indexes.
func (self *Catalog) AlterTable(name string, fn func(t *Table) error) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	id, ok := self.byName[normName(name)]
	if !ok {
		return sqlerr.Semantic(sqlerr.ParseTableNotFound, "table not found", name)
	}
	old := self.slots[id.Slot].table
	if old.ReadOnly {
		return sqlerr.Semantic(sqlerr.ReadOnly, "table is read only", old.Name)
	}
	t := old.Clone()
	if err := fn(t); err != nil {
		return err
	}
	t.Name = normName(t.Name)
	if t.Name != old.Name {
		if _, ok := self.byName[t.Name]; ok {
			return sqlerr.Semantic(sqlerr.TableExists, "table already exists", t.Name)
		}
	}
	if err := validateTable(t); err != nil {
		return err
	}
	t.Layout()
	if err := t.Complete(); err != nil {
		return sqlerr.Semantic(sqlerr.BadIndex, "bad index definition", err.Error())
	}
	if err := self.persist(old, t); err != nil {
		return err
	}
	if self.reorg != nil {
		var err error
		if sameColumns(old, t) && t.Name == old.Name {
			err = self.reorg.Reindex(t)
		} else {
			err = self.reorg.Reorganize(old, t)
		}
		if err != nil {
			self.restore()
			return err
		}
	}
	self.slots[id.Slot].table = t
	if t.Name != old.Name {
		delete(self.byName, old.Name)
		self.byName[t.Name] = id
	}
	self.commit()
	logger.Infof("catalog: altered table %s", t.Name)
	return nil
}

// sameColumns reports whether a and b store records the same way.
func sameColumns(a, b *Table) bool {
	if len(a.Columns) != len(b.Columns) || a.RecordLength != b.RecordLength {
		return false
	}
	for i, c := range a.Columns {
		d := b.Columns[i]
		if normName(c.Name) != normName(d.Name) || c.Shape() != d.Shape() || c.Offset != d.Offset {
			return false
		}
	}
	return true
}

// relayout applies a column list change and moves index key ranges along
// with the columns they start on.
func relayout(t *Table, mutate func()) {
	type anchor struct {
		column string
		delta  int
	}
	anchors := map[*Index][]anchor{}
	for _, x := range t.Indexes {
		as := []anchor{}
		for _, k := range x.Keys {
			a := anchor{}
			for _, c := range t.Columns {
				if k.Offset >= c.Offset && k.Offset < c.Offset+c.Length {
					a.column = c.Name
					a.delta = k.Offset - c.Offset
					break
				}
			}
			as = append(as, a)
		}
		anchors[x] = as
	}
	mutate()
	t.Layout()
	for _, x := range t.Indexes {
		as := anchors[x]
		for i := range x.Keys {
			if i >= len(as) || as[i].column == "" {
				continue
			}
			if _, c := t.Column(as[i].column); c != nil {
				x.Keys[i].Offset = c.Offset + as[i].delta
			}
		}
	}
}

// AddColumn returns an alteration adding c at the given position: first,
// after the named column, or last when after is empty.
func AddColumn(c *Column, first bool, after string) func(*Table) error {
	return func(t *Table) error {
		if _, x := t.Column(c.Name); x != nil {
			return sqlerr.Semantic(sqlerr.ParseError, "duplicate column name", c.Name)
		}
		pos := len(t.Columns)
		if first {
			pos = 0
		} else if after != "" {
			i, x := t.Column(after)
			if x == nil {
				return sqlerr.Semantic(sqlerr.ParseColumnNotFound, "column not found", after)
			}
			pos = i + 1
		}
		c.Length = DefaultLength(c.Type, c.Length, c.Scale)
		relayout(t, func() {
			cols := append([]*Column{}, t.Columns[:pos]...)
			cols = append(cols, c)
			cols = append(cols, t.Columns[pos:]...)
			t.Columns = cols
		})
		return nil
	}
}

func DropColumn(name string) func(*Table) error {
	return func(t *Table) error {
		i, c := t.Column(name)
		if c == nil {
			return sqlerr.Semantic(sqlerr.ParseColumnNotFound, "column not found", name)
		}
		for _, x := range t.Indexes {
			for _, k := range x.Keys {
				if k.Offset < c.Offset+c.Length && c.Offset < k.Offset+k.Length {
					return sqlerr.Semantic(sqlerr.BadIndex, "column is part of index "+x.Name, name)
				}
			}
		}
		relayout(t, func() {
			t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
		})
		return nil
	}
}

func AddIndex(name string, typ IndexType, dup bool, cols []IndexColumn) func(*Table) error {
	return func(t *Table) error {
		if _, x := t.IndexByName(name); x != nil {
			return sqlerr.Semantic(sqlerr.BadIndex, "index already exists", name)
		}
		idx, err := BuildIndex(t, name, typ, dup, cols)
		if err != nil {
			return err
		}
		t.Indexes = append(t.Indexes, idx)
		return nil
	}
}

// RenameTable returns an alteration giving the table a new name. A data
// file named after the table is renamed along with it.
func RenameTable(name string) func(*Table) error {
	return func(t *Table) error {
		if t.TemplateOf != "" {
			return sqlerr.Semantic(sqlerr.ParseError, "cannot rename a template instance", t.Name)
		}
		if t.File == strings.ToLower(t.Name) {
			t.File = strings.ToLower(normName(name))
		}
		t.Name = normName(name)
		return nil
	}
}

func DropIndex(name string) func(*Table) error {
	return func(t *Table) error {
		i, x := t.IndexByName(name)
		if x == nil {
			return sqlerr.Semantic(sqlerr.BadIndex, "index not found", name)
		}
		t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
		return nil
	}
}

// Alter chains several alterations into one.
func Alter(fns ...func(*Table) error) func(*Table) error {
	return func(t *Table) error {
		for _, fn := range fns {
			if err := fn(t); err != nil {
				return err
			}
		}
		return nil
	}
}
