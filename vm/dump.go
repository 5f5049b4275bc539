package vm

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cznic/strutil"
	"github.com/dianpeng/fsql/meta"
)

// Dump disassembles a program for explain output and debugging.
func Dump(p *Program) string {
	buf := &bytes.Buffer{}
	w := strutil.IndentFormatter(buf, "  ")
	p.dump(w)
	return buf.String()
}

func (self *Program) labelAt() map[int][]string {
	out := map[int][]string{}
	for _, l := range self.Labels {
		out[l.PC] = append(out[l.PC], l.Name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func (self *Program) refString(r int) string {
	if r < 0 || r >= len(self.Refs) {
		return fmt.Sprintf("ref?%d", r)
	}
	ref := &self.Refs[r]
	if ref.Ord.Kind == OrdLiteral {
		return fmt.Sprintf("%q", meta.Decode(self.Lits[ref.Ord.Column], ref.Shape))
	}
	return fmt.Sprintf("%s:%s", ref.Ord, ref.Shape)
}

func (self *Program) dump(w strutil.Formatter) {
	w.Format("program mode=%s vars=%d for_update=%v nowait=%v\n", self.Mode, self.NumVars, self.ForUpdate, self.NoWait)
	if len(self.Tables) > 0 {
		w.Format("tables%i\n")
		for i, t := range self.Tables {
			lock := ""
			if t.Lock {
				lock = " lock"
			}
			w.Format("t%d %s%s\n", i, t.Name, lock)
		}
		w.Format("%u")
	}
	if len(self.Worksets) > 0 {
		w.Format("worksets%i\n")
		for i, ws := range self.Worksets {
			if ws.RowLen > 0 {
				w.Format("ws%d %s rowlen=%d\n", i, ws.Name, ws.RowLen)
			}
		}
		w.Format("%u")
	}
	if len(self.Result) > 0 {
		w.Format("result%i\n")
		for _, c := range self.Result {
			w.Format("%s <- %s\n", c.Name, self.refString(c.Ref))
		}
		w.Format("%u")
	}

	labels := self.labelAt()
	w.Format("code%i\n")
	for pc, in := range self.Code {
		for _, name := range labels[pc] {
			w.Format("%u%s:%i\n", name)
		}
		w.Format("%04d %-14s %s\n", pc, OpName(in.Op), self.operands(&in))
	}
	w.Format("%u")
}

func (self *Program) operands(in *Instr) string {
	label := func(pc int) string {
		for _, l := range self.Labels {
			if l.PC == pc {
				return l.Name
			}
		}
		return fmt.Sprintf("@%d", pc)
	}
	v := VarName
	r := self.refString

	switch in.Op {
	case OpSetFirst, OpSetLast, OpKeyInit:
		return fmt.Sprintf("t%d index=%d", in.A, in.B)
	case OpReadNext, OpReadPrev, OpReadByKey, OpReadByKeyRev:
		return fmt.Sprintf("t%d %s", in.A, label(in.B))
	case OpKeyAppend, OpKeyLike:
		return fmt.Sprintf("t%d %s col=%d", in.A, r(in.B), in.C)
	case OpReadPos:
		return fmt.Sprintf("t%d %s %s", in.A, r(in.B), label(in.C))
	case OpKeyIncr, OpUnlock, OpClear, OpWrite, OpUpdate, OpDelete:
		return fmt.Sprintf("t%d", in.A)
	case OpTableLock, OpTableUnlock:
		return fmt.Sprintf("t%d scoped=%d", in.A, in.B)
	case OpFPosToCol:
		return fmt.Sprintf("%s t%d", r(in.A), in.B)
	case OpWorkInit:
		return fmt.Sprintf("ws%d hint=%d", in.A, in.B)
	case OpWorkNewRow, OpWorkFree, OpWorkSort:
		return fmt.Sprintf("ws%d", in.A)
	case OpWorkUnique:
		return fmt.Sprintf("ws%d spec=%d", in.A, in.B)
	case OpWorkSetRowID:
		return fmt.Sprintf("ws%d %s", in.A, v(in.B))
	case OpWorkGetRowID, OpWorkGetRowCount:
		return fmt.Sprintf("%s ws%d", v(in.A), in.B)
	case OpSortSpec:
		return fmt.Sprintf("%s desc=%d reset=%d", r(in.A), in.B, in.C)
	case OpColAdd, OpColSub, OpColMult, OpColDiv, OpColConcat:
		return fmt.Sprintf("%s %s %s", r(in.A), r(in.B), r(in.C))
	case OpColMove, OpColCast, OpColNegate, OpColUpper, OpColLower,
		OpColTrimL, OpColTrimT, OpColTrimB, OpColSubstr:
		return fmt.Sprintf("%s %s", r(in.A), r(in.B))
	case OpColSubPos, OpColSubLen, OpColNull, OpColBinIncr:
		return r(in.A)
	case OpColCompare, OpColLike:
		return fmt.Sprintf("%s %s %s", v(in.A), r(in.B), r(in.C))
	case OpColIsNull:
		return fmt.Sprintf("%s %s", v(in.A), r(in.B))
	case OpMoveToCol:
		return fmt.Sprintf("%s %s", r(in.A), v(in.B))
	case OpSet, OpIncr:
		return fmt.Sprintf("%s %d", v(in.A), in.B)
	case OpMove:
		return fmt.Sprintf("%s %s", v(in.A), v(in.B))
	case OpAdd, OpSub:
		return fmt.Sprintf("%s %s %s", v(in.A), v(in.B), v(in.C))
	case OpGoto, OpCall:
		return label(in.A)
	case OpGotoIfZero, OpGotoIfNotZero, OpGotoIfPos, OpGotoIfNeg:
		return fmt.Sprintf("%s %s", v(in.A), label(in.B))
	case OpTerminate:
		return fmt.Sprint(in.A)
	case OpFail:
		return fmt.Sprint(in.A)
	default:
		return ""
	}
}
