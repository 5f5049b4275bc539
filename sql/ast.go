package sql

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dianpeng/fsql/meta"
)

// Expression operators of a postfix tree.
const (
	OpColumn = iota
	OpLiteral

	// arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpConcat
	OpCast
	OpSubstr
	OpTrim
	OpUpper
	OpLower
	OpAgg

	// predicates
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLike
	OpIsNull
	OpIsNotNull

	// logical
	OpAnd
	OpOr
	OpNot
)

var opName = []string{
	OpColumn:    "column",
	OpLiteral:   "literal",
	OpAdd:       "+",
	OpSub:       "-",
	OpMul:       "*",
	OpDiv:       "/",
	OpNeg:       "neg",
	OpConcat:    "||",
	OpCast:      "cast",
	OpSubstr:    "substring",
	OpTrim:      "trim",
	OpUpper:     "upper",
	OpLower:     "lower",
	OpAgg:       "agg",
	OpEq:        "=",
	OpNe:        "<>",
	OpLt:        "<",
	OpLe:        "<=",
	OpGt:        ">",
	OpGe:        ">=",
	OpLike:      "like",
	OpIsNull:    "is null",
	OpIsNotNull: "is not null",
	OpAnd:       "and",
	OpOr:        "or",
	OpNot:       "not",
}

func OpName(op int) string {
	if op >= 0 && op < len(opName) {
		return opName[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// IsCompare reports whether op is one of the six comparison operators.
func IsCompare(op int) bool {
	return op >= OpEq && op <= OpGe
}

// IsPredicate reports whether the node yields a truth value.
func IsPredicate(op int) bool {
	return op >= OpEq && op <= OpNot
}

// Swap mirrors a comparison so that "lit < col" reads as "col > lit".
func Swap(op int) int {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	default:
		return op
	}
}

const (
	TrimBoth = iota
	TrimLeading
	TrimTrailing
)

const (
	AggCountStar = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggName = []string{"COUNT(*)", "COUNT", "SUM", "AVG", "MIN", "MAX"}

func AggName(fn int) string { return aggName[fn] }

const (
	JoinComma = iota
	JoinInner
	JoinLeft
)

// ColumnRef is a column reference before and after resolution. Ref is the
// position of the table in the FROM list.
type ColumnRef struct {
	Qualifier string
	Name      string
	Ref       int
	Column    int
}

// Node is one entry of a postfix tree. Operands always sit at lower indices
// than the node using them; -1 marks an absent operand.
type Node struct {
	Op   int
	L    int
	R    int
	X    int // SUBSTRING length
	Col  ColumnRef
	Text string // literal text
	Num  bool   // numeric literal
	Null bool   // NULL literal
	Agg  int    // index into Select.Aggs
	Cast meta.Shape
	Trim int
	// Shape of the value the node produces, set during validation.
	Shape meta.Shape
	Line  int
}

// Tree holds all expressions of one statement.
type Tree struct {
	Nodes []Node
}

func (self *Tree) add(n Node) int {
	self.Nodes = append(self.Nodes, n)
	return len(self.Nodes) - 1
}

// Append adds a node built outside the parser, used by plan rewrites.
func (self *Tree) Append(n Node) int {
	return self.add(n)
}

func (self *Tree) Node(i int) *Node {
	return &self.Nodes[i]
}

// Conjuncts splits a predicate on its top level ANDs.
func (self *Tree) Conjuncts(root int) []int {
	if root < 0 {
		return nil
	}
	n := &self.Nodes[root]
	if n.Op == OpAnd {
		return append(self.Conjuncts(n.L), self.Conjuncts(n.R)...)
	}
	return []int{root}
}

// Walk visits the subtree rooted at root, operands before operators.
func (self *Tree) Walk(root int, fn func(int, *Node)) {
	if root < 0 {
		return
	}
	n := &self.Nodes[root]
	self.Walk(n.L, fn)
	self.Walk(n.R, fn)
	self.Walk(n.X, fn)
	fn(root, n)
}

// Refs returns the set of table references used by the subtree as a bit
// mask of FROM positions.
func (self *Tree) Refs(root int) uint64 {
	var mask uint64
	self.Walk(root, func(_ int, n *Node) {
		if n.Op == OpColumn {
			mask |= 1 << uint(n.Col.Ref)
		}
	})
	return mask
}

// HasAgg reports whether the subtree contains a set function.
func (self *Tree) HasAgg(root int) bool {
	found := false
	self.Walk(root, func(_ int, n *Node) {
		if n.Op == OpAgg {
			found = true
		}
	})
	return found
}

// Statement kinds
const (
	StmtSelect = iota
	StmtInsert
	StmtUpdate
	StmtDelete
	StmtLock
	StmtDDL
)

type Statement interface {
	Kind() int
}

type TableRef struct {
	Name  string
	Alias string
	ID    meta.TableID
	Table *meta.Table
	Join  int
	On    int
	Line  int
}

// Label is the name the table is known by inside the statement.
func (self *TableRef) Label() string {
	if self.Alias != "" {
		return self.Alias
	}
	return self.Name
}

type SelectItem struct {
	Expr  int
	Alias string
	Name  string // column heading
	Shape meta.Shape

	star      bool
	qualifier string
}

type OrderItem struct {
	Expr int
	Desc bool
	Item int // select item the key refers to, -1 when none
}

type AggFunc struct {
	Fn       int
	Distinct bool
	Arg      int
	Shape    meta.Shape
}

type Select struct {
	Tree      Tree
	Distinct  bool
	Items     []SelectItem
	Tables    []TableRef
	Where     int
	Having    int
	GroupBy   []int
	OrderBy   []OrderItem
	Aggs      []AggFunc
	ForUpdate bool
	// FOR READ: a read only cursor, no row is locked
	ForRead bool
	// lock conflicts fail at once instead of waiting
	NoWait bool
	Corr   Correlation
}

// Assign is a value bound to a column by INSERT, already encoded in the
// column's shape.
type Assign struct {
	Column int
	Data   []byte
}

type Insert struct {
	Table  TableRef
	Values []Assign
}

type SetClause struct {
	Column int
	Expr   int
}

type Update struct {
	Tree  Tree
	Table TableRef
	Sets  []SetClause
	Where int
}

type Delete struct {
	Tree  Tree
	Table TableRef
	Where int
}

type Lock struct {
	Table  TableRef
	Unlock bool
}

// DDL is a schema change that was applied while parsing.
type DDL struct {
	Action string
	Table  string
}

func (self *Select) Kind() int { return StmtSelect }
func (self *Insert) Kind() int { return StmtInsert }
func (self *Update) Kind() int { return StmtUpdate }
func (self *Delete) Kind() int { return StmtDelete }
func (self *Lock) Kind() int   { return StmtLock }
func (self *DDL) Kind() int    { return StmtDDL }

// HasAggregate reports set functions or grouping.
func (self *Select) HasAggregate() bool {
	return len(self.Aggs) > 0 || len(self.GroupBy) > 0 || self.Having >= 0
}

// Stringify the tree. We do not use method but use free function
func indent(sz int) string {
	return strings.Repeat("  ", sz)
}

func doPrintNode(t *Tree, tables []TableRef, idx int, buf *bytes.Buffer) {
	n := &t.Nodes[idx]
	switch n.Op {
	case OpColumn:
		if n.Col.Ref >= 0 && n.Col.Ref < len(tables) {
			buf.WriteString(tables[n.Col.Ref].Label())
			buf.WriteString(".")
		} else if n.Col.Qualifier != "" {
			buf.WriteString(n.Col.Qualifier)
			buf.WriteString(".")
		}
		buf.WriteString(n.Col.Name)
		break

	case OpLiteral:
		if n.Null {
			buf.WriteString("NULL")
		} else if n.Num {
			buf.WriteString(n.Text)
		} else {
			buf.WriteString("'")
			buf.WriteString(strings.ReplaceAll(n.Text, "'", "''"))
			buf.WriteString("'")
		}
		break

	case OpNeg, OpNot, OpUpper, OpLower, OpIsNull, OpIsNotNull, OpTrim:
		buf.WriteString(OpName(n.Op))
		buf.WriteString("(")
		doPrintNode(t, tables, n.L, buf)
		buf.WriteString(")")
		break

	case OpCast:
		buf.WriteString("cast(")
		doPrintNode(t, tables, n.L, buf)
		buf.WriteString(" as ")
		buf.WriteString(n.Cast.String())
		buf.WriteString(")")
		break

	case OpSubstr:
		buf.WriteString("substring(")
		doPrintNode(t, tables, n.L, buf)
		buf.WriteString(", ")
		doPrintNode(t, tables, n.R, buf)
		if n.X >= 0 {
			buf.WriteString(", ")
			doPrintNode(t, tables, n.X, buf)
		}
		buf.WriteString(")")
		break

	case OpAgg:
		buf.WriteString(fmt.Sprintf("agg#%d", n.Agg))
		break

	default:
		buf.WriteString("(")
		doPrintNode(t, tables, n.L, buf)
		buf.WriteString(" ")
		buf.WriteString(OpName(n.Op))
		buf.WriteString(" ")
		doPrintNode(t, tables, n.R, buf)
		buf.WriteString(")")
		break
	}
}

// Format renders the subtree as SQL-like text for explain output.
func (self *Tree) Format(root int, tables []TableRef) string {
	if root < 0 {
		return ""
	}
	buf := &bytes.Buffer{}
	doPrintNode(self, tables, root, buf)
	return buf.String()
}

func (self *Select) String() string {
	buf := &bytes.Buffer{}
	buf.WriteString("SELECT")
	if self.Distinct {
		buf.WriteString(" DISTINCT")
	}
	for i, item := range self.Items {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
		buf.WriteString(indent(1))
		buf.WriteString(self.Tree.Format(item.Expr, self.Tables))
		if item.Alias != "" {
			buf.WriteString(" AS ")
			buf.WriteString(item.Alias)
		}
	}
	buf.WriteString("\nFROM")
	for _, t := range self.Tables {
		buf.WriteString("\n")
		buf.WriteString(indent(1))
		switch t.Join {
		case JoinInner:
			buf.WriteString("JOIN ")
			break
		case JoinLeft:
			buf.WriteString("LEFT JOIN ")
			break
		}
		buf.WriteString(t.Name)
		if t.Alias != "" {
			buf.WriteString(" ")
			buf.WriteString(t.Alias)
		}
		if t.On >= 0 {
			buf.WriteString(" ON ")
			buf.WriteString(self.Tree.Format(t.On, self.Tables))
		}
	}
	if self.Where >= 0 {
		buf.WriteString("\nWHERE ")
		buf.WriteString(self.Tree.Format(self.Where, self.Tables))
	}
	return buf.String()
}
