package sql

import (
	"strings"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

// parseColumnDef parses "name type".
func (self *Parser) parseColumnDef() (*meta.Column, error) {
	name, err := self.parseName()
	if err != nil {
		return nil, err
	}
	shape, err := self.parseType()
	if err != nil {
		return nil, err
	}
	return &meta.Column{
		Name:   name,
		Type:   shape.Type,
		Length: shape.Length,
		Scale:  shape.Scale,
		NoCase: shape.NoCase,
	}, nil
}

// index-cols := '(' col ['(' len ')'] {, col ['(' len ')']} ')'
func (self *Parser) parseIndexColumns() ([]meta.IndexColumn, error) {
	if err := self.expect(TkLPar); err != nil {
		return nil, err
	}
	out := []meta.IndexColumn{}
	for {
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		ic := meta.IndexColumn{Name: name}
		if self.L.Token == TkLPar {
			self.L.Next()
			if ic.Length, err = self.parseInt(); err != nil {
				return nil, err
			}
			if err := self.expect(TkRPar); err != nil {
				return nil, err
			}
		}
		out = append(out, ic)
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}
	return out, nil
}

// index-kind := [UNIQUE | ASSOCIATIVE] INDEX
func (self *Parser) parseIndexKind() (meta.IndexType, bool, error) {
	typ, dup := meta.IndexISAM, true
	switch self.L.Token {
	case TkUnique:
		dup = false
		self.L.Next()
		break
	case TkAssociative:
		typ = meta.IndexAIM
		self.L.Next()
		break
	}
	if err := self.expect(TkIndex); err != nil {
		return typ, dup, err
	}
	return typ, dup, nil
}

func (self *Parser) parseDDL() (*DDL, error) {
	switch self.L.Token {
	case TkCreate:
		self.L.Next()
		if self.L.Token == TkTable {
			return self.parseCreateTable()
		}
		return self.parseCreateIndex()
	case TkDrop:
		self.L.Next()
		return self.parseDrop()
	default:
		self.L.Next()
		return self.parseAlter()
	}
}

// CREATE TABLE name '(' coldef {, coldef} ')'
func (self *Parser) parseCreateTable() (*DDL, error) {
	self.L.Next()
	name, err := self.parseName()
	if err != nil {
		return nil, err
	}
	t := &meta.Table{Name: name}
	if err := self.expect(TkLPar); err != nil {
		return nil, err
	}
	for {
		c, err := self.parseColumnDef()
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}
	if err := self.parseEnd(); err != nil {
		return nil, err
	}
	if _, err := self.cat.CreateTable(t); err != nil {
		return nil, err
	}
	return &DDL{Action: "CREATE TABLE", Table: t.Name}, nil
}

// CREATE [UNIQUE|ASSOCIATIVE] INDEX name ON table index-cols
func (self *Parser) parseCreateIndex() (*DDL, error) {
	typ, dup, err := self.parseIndexKind()
	if err != nil {
		return nil, err
	}
	name, err := self.parseName()
	if err != nil {
		return nil, err
	}
	if err := self.expect(TkOn); err != nil {
		return nil, err
	}
	table, err := self.parseName()
	if err != nil {
		return nil, err
	}
	cols, err := self.parseIndexColumns()
	if err != nil {
		return nil, err
	}
	if err := self.parseEnd(); err != nil {
		return nil, err
	}
	if err := self.cat.AlterTable(table, meta.AddIndex(name, typ, dup, cols)); err != nil {
		return nil, err
	}
	return &DDL{Action: "CREATE INDEX", Table: strings.ToUpper(table)}, nil
}

// DROP TABLE [IF EXISTS] name | DROP INDEX name ON table
func (self *Parser) parseDrop() (*DDL, error) {
	switch self.L.Token {
	case TkTable:
		self.L.Next()
		ifExists := false
		if self.isWord("IF") {
			if ntk, lexeme := self.L.Peek(); ntk == TkId && lexeme.Text == "EXISTS" {
				ifExists = true
				self.L.Next()
				self.L.Next()
			}
		}
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		if err := self.parseEnd(); err != nil {
			return nil, err
		}
		if ifExists && !self.cat.Has(name) {
			self.warn(sqlerr.ParseTableNotFound, "table does not exist, nothing dropped", name)
			return &DDL{Action: "DROP TABLE", Table: name}, nil
		}
		if err := self.cat.DropTable(name); err != nil {
			return nil, err
		}
		return &DDL{Action: "DROP TABLE", Table: name}, nil

	case TkIndex:
		self.L.Next()
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkOn); err != nil {
			return nil, err
		}
		table, err := self.parseName()
		if err != nil {
			return nil, err
		}
		if err := self.parseEnd(); err != nil {
			return nil, err
		}
		if err := self.cat.AlterTable(table, meta.DropIndex(name)); err != nil {
			return nil, err
		}
		return &DDL{Action: "DROP INDEX", Table: table}, nil

	default:
		return nil, self.err("expect TABLE or INDEX after DROP")
	}
}

// ALTER TABLE name action {, action}
func (self *Parser) parseAlter() (*DDL, error) {
	if err := self.expect(TkTable); err != nil {
		return nil, err
	}
	table, err := self.parseName()
	if err != nil {
		return nil, err
	}

	actions := []func(*meta.Table) error{}
	for {
		if fn, err := self.parseAlterAction(); err != nil {
			return nil, err
		} else {
			actions = append(actions, fn)
		}
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}
	if err := self.parseEnd(); err != nil {
		return nil, err
	}
	if err := self.cat.AlterTable(table, meta.Alter(actions...)); err != nil {
		return nil, err
	}
	return &DDL{Action: "ALTER TABLE", Table: table}, nil
}

// action := ADD [COLUMN] coldef [FIRST | AFTER col]
//         | ADD [UNIQUE|ASSOCIATIVE] INDEX name index-cols
//         | DROP COLUMN col | DROP INDEX name
//         | RENAME [TO] name
func (self *Parser) parseAlterAction() (func(*meta.Table) error, error) {
	switch {
	case self.isWord("RENAME"):
		self.L.Next()
		if self.isWord("TO") {
			self.L.Next()
		}
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		return meta.RenameTable(name), nil

	case self.isWord("ADD"):
		// ADD COLUMN and ADD INDEX are told apart by the word after ADD; a
		// bare "ADD name type" is a column too.
		ntk, lexeme := self.L.Peek()
		self.L.Next()
		switch {
		case ntk == TkIndex || ntk == TkUnique || ntk == TkAssociative:
			typ, dup, err := self.parseIndexKind()
			if err != nil {
				return nil, err
			}
			name, err := self.parseName()
			if err != nil {
				return nil, err
			}
			cols, err := self.parseIndexColumns()
			if err != nil {
				return nil, err
			}
			return meta.AddIndex(name, typ, dup, cols), nil

		case ntk == TkId && lexeme.Text == "COLUMN":
			self.L.Next()
			break
		}

		c, err := self.parseColumnDef()
		if err != nil {
			return nil, err
		}
		first, after := false, ""
		if self.isWord("FIRST") {
			first = true
			self.L.Next()
		} else if self.isWord("AFTER") {
			self.L.Next()
			if after, err = self.parseName(); err != nil {
				return nil, err
			}
		}
		return meta.AddColumn(c, first, after), nil

	case self.L.Token == TkDrop:
		self.L.Next()
		if self.L.Token == TkIndex {
			self.L.Next()
			name, err := self.parseName()
			if err != nil {
				return nil, err
			}
			return meta.DropIndex(name), nil
		}
		if !self.isWord("COLUMN") {
			return nil, self.err("expect COLUMN or INDEX after DROP")
		}
		self.L.Next()
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		return meta.DropColumn(name), nil

	default:
		return nil, self.err("expect ADD, DROP or RENAME")
	}
}
