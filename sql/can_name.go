package sql

import (
	"strings"

	"github.com/dianpeng/fsql/sqlerr"
)

const (
	CanNameTable = iota
	CanNameAlias
)

// CanName is one entry of the correlation table: a name visible inside the
// statement and what it stands for.
type CanName struct {
	Name string
	Type int
	Ref  int // FROM position for CanNameTable
	Item int // select item for CanNameAlias
}

// Correlation resolves table labels and select aliases of one statement.
type Correlation struct {
	Names []CanName
}

func (self *Correlation) find(name string, ty int) int {
	for i, n := range self.Names {
		if n.Type == ty && strings.EqualFold(n.Name, name) {
			return i
		}
	}
	return -1
}

func (self *Correlation) AddTable(name string, ref int) error {
	if self.find(name, CanNameTable) >= 0 {
		return sqlerr.Semantic(sqlerr.ParseError, "duplicate table alias", name)
	}
	self.Names = append(self.Names, CanName{Name: name, Type: CanNameTable, Ref: ref, Item: -1})
	return nil
}

func (self *Correlation) AddAlias(name string, item int) error {
	if self.find(name, CanNameAlias) >= 0 {
		return sqlerr.Semantic(sqlerr.ParseError, "duplicate column alias", name)
	}
	self.Names = append(self.Names, CanName{Name: name, Type: CanNameAlias, Ref: -1, Item: item})
	return nil
}

// Table returns the FROM position labelled name, or -1.
func (self *Correlation) Table(name string) int {
	if i := self.find(name, CanNameTable); i >= 0 {
		return self.Names[i].Ref
	}
	return -1
}

// Alias returns the select item named name, or -1.
func (self *Correlation) Alias(name string) int {
	if i := self.find(name, CanNameAlias); i >= 0 {
		return self.Names[i].Item
	}
	return -1
}
