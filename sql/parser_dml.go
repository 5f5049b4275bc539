package sql

import (
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

func (self *Parser) writableTable(ref *TableRef, update bool) error {
	if ref.Table.ReadOnly {
		return sqlerr.WithLine(sqlerr.Semantic(sqlerr.ReadOnly, "table is read only", ref.Name), ref.Line)
	}
	if update && ref.Table.NoUpdate {
		return sqlerr.WithLine(sqlerr.Semantic(sqlerr.NoUpdate, "table does not allow update", ref.Name), ref.Line)
	}
	return nil
}

func (self *Parser) column(t *meta.Table, name string) (int, error) {
	idx, col := t.Column(name)
	if col == nil {
		return -1, self.semantic(sqlerr.ParseColumnNotFound, "column not found", name)
	}
	return idx, nil
}

// encodeValue formats a literal into the column's storage shape, turning
// truncation into a warning.
func (self *Parser) encodeValue(c *meta.Column, n *Node) ([]byte, error) {
	shape := c.Shape()
	data := make([]byte, shape.Length)
	if n.Null {
		meta.Blank(data)
		return data, nil
	}
	truncated, err := meta.Encode(data, shape, n.Text)
	if err != nil {
		return nil, sqlerr.WithLine(err, n.Line)
	}
	if truncated {
		self.warn(sqlerr.StringTruncated, "value truncated", c.Name)
	}
	return data, nil
}

// INSERT INTO name ['(' col {, col} ')'] VALUES '(' val {, val} ')'
func (self *Parser) parseInsert() (*Insert, error) {
	self.L.Next()
	if err := self.expect(TkInto); err != nil {
		return nil, err
	}
	ref, err := self.parseTableRef(JoinComma)
	if err != nil {
		return nil, err
	}
	if err := self.writableTable(&ref, false); err != nil {
		return nil, err
	}

	ins := &Insert{Table: ref}
	t := ref.Table
	tree := &Tree{}
	self.tree = tree

	cols := []int{}
	if self.L.Token == TkLPar {
		self.L.Next()
		for {
			name, err := self.parseName()
			if err != nil {
				return nil, err
			}
			idx, err := self.column(t, name)
			if err != nil {
				return nil, err
			}
			for _, c := range cols {
				if c == idx {
					return nil, self.semantic(sqlerr.ParseError, "column listed twice", name)
				}
			}
			cols = append(cols, idx)
			if self.L.Token != TkComma {
				break
			}
			self.L.Next()
		}
		if err := self.expect(TkRPar); err != nil {
			return nil, err
		}
	} else {
		for i := range t.Columns {
			cols = append(cols, i)
		}
	}

	if err := self.expect(TkValues); err != nil {
		return nil, err
	}
	if err := self.expect(TkLPar); err != nil {
		return nil, err
	}
	values := []int{}
	for {
		n, err := self.parseUnary()
		if err != nil {
			return nil, err
		}
		if tree.Nodes[n].Op != OpLiteral {
			return nil, self.semantic(sqlerr.ParseError, "VALUES accepts literals only", "")
		}
		values = append(values, n)
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}
	if err := self.expect(TkRPar); err != nil {
		return nil, err
	}
	if len(values) != len(cols) {
		return nil, self.semantic(sqlerr.ParseError, "number of values does not match number of columns", "")
	}

	for i, c := range cols {
		data, err := self.encodeValue(t.Columns[c], &tree.Nodes[values[i]])
		if err != nil {
			return nil, err
		}
		ins.Values = append(ins.Values, Assign{Column: c, Data: data})
	}
	return ins, nil
}

// UPDATE name SET col '=' aexp {, col '=' aexp} [WHERE lexp]
func (self *Parser) parseUpdate() (*Update, error) {
	self.L.Next()
	ref, err := self.parseTableRef(JoinComma)
	if err != nil {
		return nil, err
	}
	if err := self.writableTable(&ref, true); err != nil {
		return nil, err
	}

	upd := &Update{Table: ref, Where: -1}
	self.tree = &upd.Tree

	if err := self.expect(TkSet); err != nil {
		return nil, err
	}
	for {
		name, err := self.parseName()
		if err != nil {
			return nil, err
		}
		idx, err := self.column(ref.Table, name)
		if err != nil {
			return nil, err
		}
		for _, s := range upd.Sets {
			if s.Column == idx {
				return nil, self.semantic(sqlerr.ParseError, "column assigned twice", name)
			}
		}
		if err := self.expect(TkEq); err != nil {
			return nil, err
		}
		n, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Sets = append(upd.Sets, SetClause{Column: idx, Expr: n})
		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}

	if self.L.Token == TkWhere {
		self.L.Next()
		if n, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			upd.Where = n
		}
	}

	if err := self.validateUpdate(upd); err != nil {
		return nil, err
	}
	return upd, nil
}

// DELETE FROM name [WHERE lexp]
func (self *Parser) parseDelete() (*Delete, error) {
	self.L.Next()
	if err := self.expect(TkFrom); err != nil {
		return nil, err
	}
	ref, err := self.parseTableRef(JoinComma)
	if err != nil {
		return nil, err
	}
	if err := self.writableTable(&ref, false); err != nil {
		return nil, err
	}

	del := &Delete{Table: ref, Where: -1}
	self.tree = &del.Tree

	if self.L.Token == TkWhere {
		self.L.Next()
		if n, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			del.Where = n
		}
	}

	v := self.singleTable(&del.Tree, ref)
	if err := v.predicate(del.Where, "WHERE"); err != nil {
		return nil, err
	}
	return del, nil
}

// (LOCK|UNLOCK) TABLE name
func (self *Parser) parseLock() (*Lock, error) {
	unlock := self.L.Token == TkUnlock
	self.L.Next()
	if err := self.expect(TkTable); err != nil {
		return nil, err
	}
	ref, err := self.parseTableRef(JoinComma)
	if err != nil {
		return nil, err
	}
	return &Lock{Table: ref, Unlock: unlock}, nil
}
