package vm

import (
	"fmt"

	"github.com/dianpeng/fsql/meta"
)

// Reserved variables. Numbering starts at 1; compilers allocate their own
// variables from VarFirstFree on.
const (
	VarStatus   = 1 + iota // status returned by FINISH
	VarInfo                // row count or affected count
	VarScratch             // short lived temporary
	VarFunc                // function code of the current call
	VarArg                 // argument of the current call
	VarTarget              // row number being sought
	VarCurrent             // row number of the current row, 0 if none
	VarCount               // rows in the result, -1 while unknown
	VarRecnum              // number of the row loaded by the running loop
	VarReport              // the call reports the row count
	VarCmp                 // comparison results
	VarCounting            // function waiting for the row count, 0 if none
	VarProbe               // the open call is probing for a first row
	VarFirstFree
)

var varName = map[int]string{
	VarStatus:   "STATUS",
	VarInfo:     "INFO",
	VarScratch:  "SCRATCH",
	VarFunc:     "FUNC",
	VarArg:      "ARG",
	VarTarget:   "TARGET",
	VarCurrent:  "CURRENT",
	VarCount:    "COUNT",
	VarRecnum:   "RECNUM",
	VarReport:   "REPORT",
	VarCmp:      "CMP",
	VarCounting: "COUNTING",
	VarProbe:    "PROBE",
}

func VarName(v int) string {
	if n, ok := varName[v]; ok {
		return n
	}
	return fmt.Sprintf("v%d", v)
}

// Function codes passed to Run.
const (
	FnInit = iota
	FnNext
	FnPrev
	FnFirst
	FnLast
	FnAbsolute
	FnRelative
	FnRowCount
	FnUpdate
	FnDelete
)

// Status codes.
const (
	StatusExecuted  = 0 // executed, nothing to report
	StatusCount     = 1 // executed, INFO holds the affected row count
	StatusNoColumns = 2 // described, the statement has no result columns
	StatusColumns   = 3 // described, the statement has result columns
	StatusEmpty     = 4 // empty result set, the cursor is gone
	StatusEnd       = 5 // nothing at this position, the cursor stays
	StatusResult    = 6 // result complete, INFO holds the row count
	StatusRow       = 7 // a row is available, call again for more
)

type OrdKind uint8

const (
	OrdLiteral OrdKind = iota
	OrdVariable
	OrdTable
	OrdWorkset
	OrdTemp
)

var ordKindName = []string{"lit", "var", "tab", "ws", "tmp"}

// Ordinal names where a value lives. Table is the table reference or
// workset number; Column is the column or field, or the literal, temp or
// variable number for the other kinds.
type Ordinal struct {
	Kind   OrdKind
	Table  uint16
	Column uint32
}

func (o Ordinal) String() string {
	switch o.Kind {
	case OrdTable, OrdWorkset:
		return fmt.Sprintf("%s%d.%d", ordKindName[o.Kind], o.Table, o.Column)
	default:
		return fmt.Sprintf("%s%d", ordKindName[o.Kind], o.Column)
	}
}

// ColRef is a typed value location. Offset is the byte offset inside the
// record or workset row; literals and temps always start at 0.
type ColRef struct {
	Ord    Ordinal
	Shape  meta.Shape
	Offset int
}

// TableRef is one table the program reads or writes.
type TableRef struct {
	Name  string
	Table *meta.Table
	ID    meta.TableID
	// record locks are taken on every row read
	Lock bool
}

type WorksetDef struct {
	Name   string
	RowLen int
}

// ResultColumn is a column of the result row, read from Ref after a row
// became current.
type ResultColumn struct {
	Name string
	Ref  int
}

type Label struct {
	PC   int
	Name string
}

// Program is the output of compilation. A program is never modified by
// the machine running it, so one program can back many machines.
type Program struct {
	Kind     int // statement kind
	Mode     string
	Code     []Instr
	Lits     [][]byte
	Temps    []meta.Shape
	Tables   []TableRef
	Worksets []WorksetDef
	Refs     []ColRef
	NumVars  int
	Result   []ResultColumn

	ForUpdate bool
	Updatable byte // 'R' or 'W'
	// lock conflicts fail at once instead of waiting for Env.LockWait
	NoWait bool

	// RETURN instruction replaced by positioned update code, -1 if none
	UpdateHook int

	Labels []Label
}

// Clone copies the parts of p that positioned update extends.
func (self *Program) Clone() *Program {
	out := *self
	out.Code = append([]Instr(nil), self.Code...)
	out.Lits = append([][]byte(nil), self.Lits...)
	out.Temps = append([]meta.Shape(nil), self.Temps...)
	out.Refs = append([]ColRef(nil), self.Refs...)
	out.Labels = append([]Label(nil), self.Labels...)
	return &out
}

// Count returns how many instructions of the program use op.
func (self *Program) Count(op int) int {
	n := 0
	for _, in := range self.Code {
		if in.Op == op {
			n++
		}
	}
	return n
}
