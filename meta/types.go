package meta

import (
	"fmt"
	"strings"
)

type ColumnType int

const (
	TypeChar ColumnType = iota + 1
	TypeNum
	TypePosNum
	TypeDate
	TypeTime
	TypeTimestamp
)

var columnTypeName = map[ColumnType]string{
	TypeChar:      "CHAR",
	TypeNum:       "NUM",
	TypePosNum:    "POSNUM",
	TypeDate:      "DATE",
	TypeTime:      "TIME",
	TypeTimestamp: "TIMESTAMP",
}

func (t ColumnType) String() string {
	if n, ok := columnTypeName[t]; ok {
		return n
	}
	return fmt.Sprintf("TYPE(%d)", int(t))
}

func (t ColumnType) MarshalText() ([]byte, error) {
	if n, ok := columnTypeName[t]; ok {
		return []byte(n), nil
	}
	return nil, fmt.Errorf("unknown column type %d", int(t))
}

func (t *ColumnType) UnmarshalText(text []byte) error {
	if x, ok := ParseColumnType(string(text)); ok {
		*t = x
		return nil
	}
	return fmt.Errorf("unknown column type %q", string(text))
}

// ParseColumnType accepts the SQL type names used by CREATE TABLE as well
// as the canonical names written to the schema file.
func ParseColumnType(s string) (ColumnType, bool) {
	switch strings.ToUpper(s) {
	case "CHAR", "CHARACTER", "VARCHAR":
		return TypeChar, true
	case "NUM", "NUMERIC", "DEC", "DECIMAL":
		return TypeNum, true
	case "POSNUM":
		return TypePosNum, true
	case "DATE":
		return TypeDate, true
	case "TIME":
		return TypeTime, true
	case "TIMESTAMP":
		return TypeTimestamp, true
	default:
		return 0, false
	}
}

func (t ColumnType) IsNumeric() bool {
	return t == TypeNum || t == TypePosNum
}

func (t ColumnType) IsTemporal() bool {
	return t == TypeDate || t == TypeTime || t == TypeTimestamp
}

// MaxNumDigits bounds NUM precision, sign and decimal point excluded.
const MaxNumDigits = 31

// Shape is the storage description of a fixed width field, shared by table
// columns, workset columns, literals and temporaries.
type Shape struct {
	Type   ColumnType
	Length int
	Scale  int
	NoCase bool
}

func (s Shape) String() string {
	if s.Scale > 0 {
		return fmt.Sprintf("%s(%d,%d)", s.Type, s.Length, s.Scale)
	}
	return fmt.Sprintf("%s(%d)", s.Type, s.Length)
}

// DefaultLength returns the fixed length implied by a temporal type, or the
// given length for the other types.
func DefaultLength(t ColumnType, length, scale int) int {
	frac := 0
	if scale > 0 {
		frac = scale + 1
	}
	switch t {
	case TypeDate:
		return 10
	case TypeTime:
		return 8 + frac
	case TypeTimestamp:
		return 19 + frac
	default:
		return length
	}
}

type Column struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Length int        `json:"length"`
	Scale  int        `json:"scale,omitempty"`
	NoCase bool       `json:"nocase,omitempty"`
	Format string     `json:"format,omitempty"`
	Offset int        `json:"-"`
}

func (self *Column) Shape() Shape {
	return Shape{
		Type:   self.Type,
		Length: self.Length,
		Scale:  self.Scale,
		NoCase: self.NoCase,
	}
}

func (self *Column) Validate() error {
	if self.Length <= 0 {
		return fmt.Errorf("column %s: invalid length %d", self.Name, self.Length)
	}
	switch self.Type {
	case TypeNum, TypePosNum:
		digits := self.Length
		if self.Scale > 0 {
			digits -= 1
		}
		if self.Scale < 0 || self.Scale >= self.Length || digits > MaxNumDigits {
			return fmt.Errorf("column %s: invalid numeric precision %d,%d", self.Name, self.Length, self.Scale)
		}
		break
	case TypeDate, TypeTime, TypeTimestamp:
		if self.Length != DefaultLength(self.Type, self.Length, self.Scale) {
			return fmt.Errorf("column %s: invalid %s length %d", self.Name, self.Type, self.Length)
		}
		break
	case TypeChar:
		break
	default:
		return fmt.Errorf("column %s: invalid type", self.Name)
	}
	return nil
}

type IndexType int

const (
	IndexISAM IndexType = iota + 1
	IndexAIM
)

func (t IndexType) String() string {
	if t == IndexAIM {
		return "AIM"
	}
	return "ISAM"
}

func (t IndexType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *IndexType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "ISAM", "ISI":
		*t = IndexISAM
		return nil
	case "AIM":
		*t = IndexAIM
		return nil
	default:
		return fmt.Errorf("unknown index type %q", string(text))
	}
}

// ColumnKey maps one piece of an index key onto a table column. Column is
// -1 for filler bytes not covered by any column.
type ColumnKey struct {
	Column int
	Offset int // offset in the record
	Length int
	Full   bool // the key piece covers the whole column
	Text   bool // byte order equals the logical ascending order
}

type IndexKey struct {
	Offset  int         `json:"offset"`
	Length  int         `json:"length"`
	Columns []ColumnKey `json:"-"`
}

type Index struct {
	Name string     `json:"name"`
	Type IndexType  `json:"type"`
	Dup  bool       `json:"dup,omitempty"`
	Keys []IndexKey `json:"keys"`
}

func (self *Index) KeyLength() int {
	n := 0
	for _, k := range self.Keys {
		n += k.Length
	}
	return n
}

// Chain is the flattened column-key chain of a complete index.
func (self *Index) Chain() []ColumnKey {
	out := []ColumnKey{}
	for _, k := range self.Keys {
		out = append(out, k.Columns...)
	}
	return out
}

type RowFilter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type Table struct {
	Name       string     `json:"name"`
	File       string     `json:"file,omitempty"`
	Columns    []*Column  `json:"columns"`
	Indexes    []*Index   `json:"indexes,omitempty"`
	Filter     *RowFilter `json:"filter,omitempty"`
	ReadOnly   bool       `json:"readonly,omitempty"`
	NoUpdate   bool       `json:"noupdate,omitempty"`
	Template   bool       `json:"template,omitempty"`
	TemplateOf string     `json:"-"`

	RecordLength int  `json:"-"`
	complete     bool `json:"-"`
}

func (self *Table) IsComplete() bool { return self.complete }

// Layout assigns column offsets in declaration order.
func (self *Table) Layout() {
	off := 0
	for _, c := range self.Columns {
		c.Offset = off
		off += c.Length
	}
	self.RecordLength = off
	self.complete = false
}

func (self *Table) Column(name string) (int, *Column) {
	for i, c := range self.Columns {
		if strings.EqualFold(c.Name, name) {
			return i, c
		}
	}
	return -1, nil
}

func (self *Table) IndexByName(name string) (int, *Index) {
	for i, x := range self.Indexes {
		if strings.EqualFold(x.Name, name) {
			return i, x
		}
	}
	return -1, nil
}

// Complete rebuilds every index key's column-key chain from the key byte
// ranges. It is called lazily the first time a table is used by a plan.
func (self *Table) Complete() error {
	if self.complete {
		return nil
	}
	if self.RecordLength == 0 {
		self.Layout()
	}
	for _, idx := range self.Indexes {
		for k := range idx.Keys {
			key := &idx.Keys[k]
			if key.Offset < 0 || key.Length <= 0 || key.Offset+key.Length > self.RecordLength {
				return fmt.Errorf("table %s: index %s has key range %d:%d outside record", self.Name, idx.Name, key.Offset, key.Length)
			}
			key.Columns = self.columnKeys(key.Offset, key.Length)
		}
	}
	self.complete = true
	return nil
}

func (self *Table) columnKeys(start, length int) []ColumnKey {
	out := []ColumnKey{}
	pos := start
	end := start + length

	for pos < end {
		found := false
		for ci, c := range self.Columns {
			if pos >= c.Offset && pos < c.Offset+c.Length {
				stop := c.Offset + c.Length
				if stop > end {
					stop = end
				}
				full := pos == c.Offset && stop == c.Offset+c.Length
				out = append(out, ColumnKey{
					Column: ci,
					Offset: pos,
					Length: stop - pos,
					Full:   full,
					Text:   full && sortableAsText(c),
				})
				pos = stop
				found = true
				break
			}
		}
		if !found {
			out = append(out, ColumnKey{
				Column: -1,
				Offset: pos,
				Length: 1,
			})
			pos++
		}
	}
	return out
}

// NUM may hold negative values whose text form does not sort; everything
// else is stored so that byte order matches value order.
func sortableAsText(c *Column) bool {
	switch c.Type {
	case TypeNum:
		return false
	case TypeChar:
		return !c.NoCase
	default:
		return true
	}
}

// Clone returns a deep copy; used by DDL so a failed alteration never
// leaves a half-modified table behind.
func (self *Table) Clone() *Table {
	out := *self
	out.Columns = make([]*Column, len(self.Columns))
	for i, c := range self.Columns {
		cc := *c
		out.Columns[i] = &cc
	}
	out.Indexes = make([]*Index, len(self.Indexes))
	for i, x := range self.Indexes {
		xx := *x
		xx.Keys = append([]IndexKey(nil), x.Keys...)
		out.Indexes[i] = &xx
	}
	if self.Filter != nil {
		f := *self.Filter
		out.Filter = &f
	}
	out.complete = false
	return &out
}
