package plan

import (
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
)

// Execution modes of a SELECT program.
type Mode int

const (
	// rows are produced one at a time by resuming the read loop
	ModeDynamic Mode = iota
	// the whole result is built into a workset at open time
	ModeMaterialized
	// materialized rows carry the file position and are re-read on fetch
	ModeKeyed
)

func (m Mode) String() string {
	switch m {
	case ModeDynamic:
		return "dynamic"
	case ModeMaterialized:
		return "materialized"
	default:
		return "keyed"
	}
}

// Workset numbers used by SELECT programs.
const (
	WsResult = iota
	WsAccum
	WsGroup
	WsSort
	WsOrSet
	NumWorksets
)

var worksetName = []string{"result", "accum", "group", "sort", "orset"}

func WorksetName(ws int) string { return worksetName[ws] }

type Field struct {
	Name   string
	Shape  meta.Shape
	Offset int
}

// Layout is the row shape of one workset.
type Layout struct {
	Fields []Field
	RowLen int
}

func (self *Layout) Add(name string, shape meta.Shape) int {
	self.Fields = append(self.Fields, Field{
		Name:   name,
		Shape:  shape,
		Offset: self.RowLen,
	})
	self.RowLen += shape.Length
	return len(self.Fields) - 1
}

func (self *Layout) Used() bool { return len(self.Fields) > 0 }

// IR operators.
const (
	NodeScan = iota
	NodeOrSet
	NodeJoin
	NodeFilter
	NodeAggregate
	NodeSort
	NodeProject
)

type Node interface {
	Kind() int
}

// Scan reads one table reference. Match conjuncts decide whether a row
// qualifies; for the inner side of a left join they decide whether the row
// matches, and Post conjuncts are checked after a non matching outer row
// has been extended with blanks.
type Scan struct {
	Ref    int
	Name   string
	Table  *meta.Table
	Left   bool
	Level  int
	Choice Choice
	Match  []int
	Post   []int
	Filter *meta.RowFilter
}

// OrSet drives a scan from a list of literal tuples. Each tuple becomes a
// row of the orset workset; Columns are the columns of the driven table
// the tuple fields are compared with.
type OrSet struct {
	Ref     int // pseudo table reference used by the rewritten conjuncts
	Table   int // table reference the tuples restrict
	Columns []int
	Rows    [][]int // literal node per column
	Conj    int     // the conjunct that was rewritten
}

// Join is a nested loop: for each row of Outer, read Inner.
type Join struct {
	Outer Node
	Inner Node
	Left  bool
}

// Filter holds conjuncts that reference no table; they are checked once
// before the loops start.
type Filter struct {
	Input Node
	Conds []int
}

type GroupColumn struct {
	Node  int // column node
	Key   int // field in the sort workset
	Saved int // field in the group workset
}

// AggSlot is the accumulator of one set function.
type AggSlot struct {
	Func   sql.AggFunc
	Result int // accum field
	Sum    int // accum field, AVG only
	Count  int // accum field, AVG only
	Arg    int // sort workset field, -1 for COUNT(*)
}

// Aggregate groups the input rows by sorting them into the sort workset
// and breaking on group key changes.
type Aggregate struct {
	Input    Node
	Groups   []GroupColumn
	Aggs     []AggSlot
	Distinct int // sort workset field of the DISTINCT argument, -1 if none
	Prev     int // group workset field holding the previous DISTINCT value
	Having   int
}

type SortKey struct {
	Field int
	Desc  bool
}

// Sort orders and optionally de-duplicates the result workset.
type Sort struct {
	Input  Node
	Keys   []SortKey
	Unique bool
}

// Hidden is an ORDER BY key that is not a select item.
type Hidden struct {
	Expr  int
	Field int
}

// Project moves the select items into the result workset.
type Project struct {
	Input  Node
	Items  []int
	Fields []int
	Hidden []Hidden
	Pos    int // result field carrying the file position, -1 if none
}

func (self *Scan) Kind() int      { return NodeScan }
func (self *OrSet) Kind() int     { return NodeOrSet }
func (self *Join) Kind() int      { return NodeJoin }
func (self *Filter) Kind() int    { return NodeFilter }
func (self *Aggregate) Kind() int { return NodeAggregate }
func (self *Sort) Kind() int      { return NodeSort }
func (self *Project) Kind() int   { return NodeProject }

// Plan is the planner output consumed by the code generator.
type Plan struct {
	Stmt      sql.Statement
	Tree      *sql.Tree
	Tables    []sql.TableRef
	Root      Node
	Mode      Mode
	ForUpdate bool
	Worksets  [NumWorksets]Layout

	// nested loop levels, outermost first
	Levels []*Scan
	OrSet  *OrSet
	Const  []int

	Project   *Project
	Aggregate *Aggregate
	Sort      *Sort

	OrderSatisfied bool
}

// Ordered is the table reference order of the nested loop.
func (self *Plan) Ordered() []int {
	out := []int{}
	for _, s := range self.Levels {
		out = append(out, s.Ref)
	}
	return out
}
