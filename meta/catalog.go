package meta

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
)

// TableID is a stable handle into the catalog arena. A dropped table's
// slot is reused with a bumped generation so stale ids never resolve.
type TableID struct {
	Slot uint32
	Gen  uint32
}

func (id TableID) Valid() bool { return id.Gen != 0 }

type slot struct {
	gen   uint32
	table *Table
}

// Reorganizer performs the physical side of a schema change.
type Reorganizer interface {
	Reorganize(old, new *Table) error
	Reindex(t *Table) error
	Drop(t *Table) error
}

type Catalog struct {
	mu      sync.RWMutex
	slots   []slot
	free    []uint32
	byName  map[string]TableID
	version uint64
	path    string
	reorg   Reorganizer
}

func NewCatalog() *Catalog {
	return &Catalog{
		byName:  make(map[string]TableID),
		version: 1,
	}
}

func (self *Catalog) SetReorganizer(r Reorganizer) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.reorg = r
}

// Version changes on every schema mutation; compiled programs are only
// valid for the version they were built against.
func (self *Catalog) Version() uint64 {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.version
}

func normName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func (self *Catalog) add(t *Table) TableID {
	var idx uint32
	if n := len(self.free); n > 0 {
		idx = self.free[n-1]
		self.free = self.free[:n-1]
	} else {
		self.slots = append(self.slots, slot{})
		idx = uint32(len(self.slots) - 1)
	}
	s := &self.slots[idx]
	s.gen++
	s.table = t
	id := TableID{Slot: idx, Gen: s.gen}
	self.byName[normName(t.Name)] = id
	return id
}

func (self *Catalog) remove(id TableID) {
	s := &self.slots[id.Slot]
	delete(self.byName, normName(s.table.Name))
	s.table = nil
	s.gen++
	self.free = append(self.free, id.Slot)
}

// Add registers a table loaded from a schema description.
func (self *Catalog) Add(t *Table) (TableID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.byName[normName(t.Name)]; ok {
		return TableID{}, sqlerr.Semantic(sqlerr.TableExists, "table already exists", t.Name)
	}
	if err := validateTable(t); err != nil {
		return TableID{}, err
	}
	t.Layout()
	id := self.add(t)
	self.version++
	return id, nil
}

func (self *Catalog) Get(id TableID) (*Table, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.get(id)
}

func (self *Catalog) get(id TableID) (*Table, error) {
	if int(id.Slot) >= len(self.slots) || self.slots[id.Slot].gen != id.Gen || self.slots[id.Slot].table == nil {
		return nil, sqlerr.Exec(sqlerr.ExecBadTable, "stale table reference %d/%d", id.Slot, id.Gen)
	}
	return self.slots[id.Slot].table, nil
}

// Lookup resolves a table name case-insensitively, instantiating a
// template table when no concrete table matches, and completes the table's
// index chains on first use.
func (self *Catalog) Lookup(name string) (TableID, *Table, error) {
	key := normName(name)

	self.mu.RLock()
	id, ok := self.byName[key]
	var t *Table
	ready := false
	if ok {
		t = self.slots[id.Slot].table
		ready = t.IsComplete() && !t.Template
	}
	self.mu.RUnlock()

	if ready {
		return id, t, nil
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	if id, ok := self.byName[key]; ok {
		t := self.slots[id.Slot].table
		if t.Template {
			return TableID{}, nil, sqlerr.Semantic(sqlerr.ParseTableNotFound, "table is a template", name)
		}
		if err := t.Complete(); err != nil {
			return TableID{}, nil, sqlerr.Semantic(sqlerr.BadIndex, "bad index definition", err.Error())
		}
		return id, t, nil
	}

	if tmpl := self.matchTemplate(key); tmpl != nil {
		inst := tmpl.Clone()
		inst.Name = key
		inst.Template = false
		inst.TemplateOf = tmpl.Name
		inst.File = instanceFile(tmpl, key)
		inst.Layout()
		if err := inst.Complete(); err != nil {
			return TableID{}, nil, sqlerr.Semantic(sqlerr.BadIndex, "bad index definition", err.Error())
		}
		id := self.add(inst)
		logger.Infof("catalog: table %s instantiated from template %s", key, tmpl.Name)
		return id, inst, nil
	}

	return TableID{}, nil, sqlerr.Semantic(sqlerr.ParseTableNotFound, "table not found", name)
}

func (self *Catalog) matchTemplate(key string) *Table {
	for _, s := range self.slots {
		if s.table == nil || !s.table.Template {
			continue
		}
		if ok, err := path.Match(normName(s.table.Name), key); err == nil && ok {
			return s.table
		}
	}
	return nil
}

// instanceFile substitutes the instance name for the wildcard part of the
// template's file name.
func instanceFile(tmpl *Table, name string) string {
	f := tmpl.File
	if f == "" || !strings.ContainsAny(f, "*?") {
		return strings.ToLower(name)
	}
	prefix := f[:strings.IndexAny(f, "*?")]
	return prefix + strings.ToLower(name)
}

// Tables lists the concrete tables sorted by name.
func (self *Catalog) Tables() []*Table {
	self.mu.RLock()
	defer self.mu.RUnlock()
	out := []*Table{}
	for _, s := range self.slots {
		if s.table != nil {
			out = append(out, s.table)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func validateTable(t *Table) error {
	if strings.TrimSpace(t.Name) == "" {
		return sqlerr.Semantic(sqlerr.ParseError, "missing table name", "")
	}
	if len(t.Columns) == 0 {
		return sqlerr.Semantic(sqlerr.ParseError, "table has no columns", t.Name)
	}
	seen := map[string]bool{}
	for _, c := range t.Columns {
		n := normName(c.Name)
		if seen[n] {
			return sqlerr.Semantic(sqlerr.ParseError, "duplicate column name", c.Name)
		}
		seen[n] = true
		c.Length = DefaultLength(c.Type, c.Length, c.Scale)
		if err := c.Validate(); err != nil {
			return sqlerr.Semantic(sqlerr.ParseError, "invalid column definition", err.Error())
		}
	}
	seen = map[string]bool{}
	for _, x := range t.Indexes {
		n := normName(x.Name)
		if seen[n] {
			return sqlerr.Semantic(sqlerr.BadIndex, "duplicate index name", x.Name)
		}
		seen[n] = true
		if len(x.Keys) == 0 {
			return sqlerr.Semantic(sqlerr.BadIndex, "index has no keys", x.Name)
		}
	}
	if t.Filter != nil {
		if _, c := t.Column(t.Filter.Column); c == nil {
			return sqlerr.Semantic(sqlerr.ColumnNotFound, "row filter column not found", t.Filter.Column)
		}
	}
	return nil
}
