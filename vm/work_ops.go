package vm

import (
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/workset"
)

func (self *Machine) workset(n int) (*worksetState, error) {
	if n < 0 || n >= len(self.worksets) || self.worksets[n] == nil {
		return nil, sqlerr.Exec(sqlerr.ExecBadWorkset, "workset %d is not initialized", n)
	}
	return self.worksets[n], nil
}

// Workset exposes an initialized workset, nil if it is not.
func (self *Machine) Workset(n int) *workset.Workset {
	if w, err := self.workset(n); err != nil {
		return nil
	} else {
		return w.ws
	}
}

func (self *Machine) execWorkset(in *Instr) error {
	switch in.Op {
	case OpWorkInit:
		if in.A < 0 || in.A >= len(self.prog.Worksets) {
			return sqlerr.Exec(sqlerr.ExecBadWorkset, "bad workset %d", in.A)
		}
		if w := self.worksets[in.A]; w != nil {
			return w.ws.Truncate()
		}
		h := self.env.Worksets.Alloc(self.prog.Worksets[in.A].RowLen, in.B)
		ws, err := self.env.Worksets.Get(h)
		if err != nil {
			return err
		}
		self.worksets[in.A] = &worksetState{handle: h, ws: ws}
		return nil

	case OpWorkFree:
		if in.A < 0 || in.A >= len(self.worksets) {
			return sqlerr.Exec(sqlerr.ExecBadWorkset, "bad workset %d", in.A)
		}
		if w := self.worksets[in.A]; w != nil {
			self.worksets[in.A] = nil
			return self.env.Worksets.Release(w.handle)
		}
		return nil

	case OpSortSpec:
		if in.C != 0 {
			self.spec = self.spec[:0]
		}
		if r := in.A; r >= 0 && r < len(self.prog.Refs) && self.prog.Refs[r].Ord.Kind == OrdWorkset {
			ref := &self.prog.Refs[r]
			self.spec = append(self.spec, workset.KeySpec{
				Offset: ref.Offset,
				Shape:  ref.Shape,
				Desc:   in.B != 0,
			})
			return nil
		}
		return sqlerr.Exec(sqlerr.ExecBadCol, "sort key %d is not a workset field", in.A)
	}

	// the rest address an initialized workset
	n := in.A
	if in.Op == OpWorkGetRowID || in.Op == OpWorkGetRowCount {
		n = in.B
	}
	w, err := self.workset(n)
	if err != nil {
		return err
	}

	switch in.Op {
	case OpWorkNewRow:
		_, err := w.ws.NewRow()
		return err
	case OpWorkSetRowID:
		return w.ws.SetRowID(self.vars[in.B])
	case OpWorkGetRowID:
		self.vars[in.A] = w.ws.RowID()
		return nil
	case OpWorkGetRowCount:
		self.vars[in.A] = w.ws.RowCount()
		return nil
	case OpWorkSort:
		return w.ws.Sort(self.spec)
	case OpWorkUnique:
		if in.B != 0 {
			return w.ws.Unique(self.spec)
		}
		return w.ws.Unique(nil)
	}
	return sqlerr.Exec(sqlerr.ExecBadPgm, "unknown workset opcode %d", in.Op)
}
