package vm

import (
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/store"
)

func (self *Machine) table(t int) (*tableState, error) {
	if t < 0 || t >= len(self.tables) {
		return nil, sqlerr.Exec(sqlerr.ExecBadTable, "bad table reference %d", t)
	}
	return &self.tables[t], nil
}

// lockRead moves the read lock of table t to recno. Only tables read for
// update take read locks.
func (self *Machine) lockRead(t int, ts *tableState, recno uint32) error {
	if !self.prog.Tables[t].Lock || ts.locked == recno {
		return nil
	}
	if ts.locked != 0 {
		ts.file.UnlockRecord(ts.locked, self.env.Owner)
		ts.locked = 0
	}
	if err := ts.file.LockRecordWait(recno, self.env.Owner, self.lockWait()); err != nil {
		return err
	}
	ts.locked = recno
	return nil
}

// loaded copies a record just read into the buffer of t.
func (self *Machine) loaded(t int, ts *tableState, rec []byte, recno uint32) error {
	copy(ts.rec, rec)
	ts.pos = recno
	return self.lockRead(t, ts, recno)
}

func (self *Machine) indexDef(ts *tableState) (*meta.Index, error) {
	idx := ts.index
	indexes := ts.file.Table().Indexes
	if idx < 0 || idx >= len(indexes) {
		return nil, sqlerr.Exec(sqlerr.BadIndex, "no index %d on %s", idx, ts.file.Table().Name)
	}
	return indexes[idx], nil
}

// keyRange finds the key range of an associative index that starts at
// column col, -1 if none.
func keyRange(t *meta.Table, idx *meta.Index, col int) (int, int) {
	for k, key := range idx.Keys {
		if len(key.Columns) > 0 && key.Columns[0].Column == col && key.Offset == t.Columns[col].Offset {
			return k, key.Length
		}
	}
	return -1, 0
}

func (self *Machine) keyAppend(ts *tableState, value []byte, col int, prefix bool) error {
	idx, err := self.indexDef(ts)
	if err != nil {
		return err
	}
	if idx.Type == meta.IndexISAM {
		ts.key = append(ts.key, value...)
		return nil
	}
	t := ts.file.Table()
	k, width := keyRange(t, idx, col)
	if k < 0 {
		return sqlerr.Exec(sqlerr.BadIndex, "column %d is not a key of %s", col, idx.Name)
	}
	ts.crit = append(ts.crit, store.Criterion{
		Key:    k,
		Value:  append([]byte(nil), value...),
		Prefix: prefix || len(value) < width,
	})
	return nil
}

func (self *Machine) positionRef(r int) (uint32, error) {
	b, s, err := self.field(r)
	if err != nil {
		return 0, err
	}
	n, err := getInt(b, s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, sqlerr.Exec(sqlerr.ExecBadRowID, "bad file position %d", n)
	}
	return uint32(n), nil
}

func (self *Machine) execFile(in *Instr, pc int) (int, error) {
	ts, err := self.table(in.A)
	if in.Op == OpFPosToCol {
		ts, err = self.table(in.B)
	}
	if err != nil {
		return pc, err
	}
	owner := self.env.Owner

	switch in.Op {
	case OpSetFirst:
		return pc, ts.cursor.SetFirst(in.B)

	case OpSetLast:
		return pc, ts.cursor.SetLast(in.B)

	case OpReadNext, OpReadPrev:
		var rec []byte
		var ok bool
		if in.Op == OpReadNext {
			rec, ok = ts.cursor.Next()
		} else {
			rec, ok = ts.cursor.Prev()
		}
		if !ok {
			return in.B, nil
		}
		return pc, self.loaded(in.A, ts, rec, ts.cursor.Recno())

	case OpKeyInit:
		ts.index = in.B
		ts.key = ts.key[:0]
		ts.crit = nil
		ts.keyMiss = false
		_, err := self.indexDef(ts)
		return pc, err

	case OpKeyAppend:
		src, ss, err := self.field(in.B)
		if err != nil {
			return pc, err
		}
		cols := ts.file.Table().Columns
		if in.C < 0 || in.C >= len(cols) {
			return pc, sqlerr.Exec(sqlerr.ExecBadCol, "bad key column %d", in.C)
		}
		shape := cols[in.C].Shape()
		buf := make([]byte, shape.Length)
		if _, err := meta.Convert(buf, shape, src, ss); err != nil {
			// the column cannot hold the value, so no record carries it
			logger.Debugf("vm: key value of %s.%s does not fit: %s", ts.file.Table().Name, cols[in.C].Name, err)
			ts.keyMiss = true
		}
		return pc, self.keyAppend(ts, buf, in.C, false)

	case OpKeyLike:
		src, _, err := self.field(in.B)
		if err != nil {
			return pc, err
		}
		return pc, self.keyAppend(ts, src, in.C, true)

	case OpKeyIncr:
		if !binIncr(ts.key) {
			// every byte was 0xff, nothing sorts after the key
			ts.key = append(ts.key, 0xff)
		}
		return pc, nil

	case OpReadByKey, OpReadByKeyRev:
		idx, err := self.indexDef(ts)
		if err != nil {
			return pc, err
		}
		if ts.keyMiss {
			return in.B, nil
		}
		var rec []byte
		var ok bool
		if idx.Type == meta.IndexAIM {
			if in.Op == OpReadByKeyRev {
				return pc, sqlerr.Exec(sqlerr.BadIndex, "associative index %s has no order", idx.Name)
			}
			if err := ts.cursor.SeekAIM(ts.index, ts.crit); err != nil {
				return pc, err
			}
			rec, ok = ts.cursor.Next()
		} else {
			if err := ts.cursor.SeekKey(ts.index, ts.key, in.Op == OpReadByKeyRev); err != nil {
				return pc, err
			}
			if in.Op == OpReadByKey {
				rec, ok = ts.cursor.Next()
			} else {
				rec, ok = ts.cursor.Prev()
			}
		}
		if !ok {
			return in.B, nil
		}
		return pc, self.loaded(in.A, ts, rec, ts.cursor.Recno())

	case OpReadPos:
		recno, err := self.positionRef(in.B)
		if err != nil {
			return pc, err
		}
		rec, ok := ts.file.ReadPos(recno)
		if !ok {
			return in.C, nil
		}
		return pc, self.loaded(in.A, ts, rec, recno)

	case OpUnlock:
		if ts.locked != 0 {
			ts.file.UnlockRecord(ts.locked, owner)
			ts.locked = 0
		}
		return pc, nil

	case OpClear:
		meta.Blank(ts.rec)
		ts.pos = 0
		return pc, nil

	case OpFPosToCol:
		dst, ds, err := self.field(in.A)
		if err != nil {
			return pc, err
		}
		return pc, putInt(dst, ds, int(ts.pos))

	case OpWrite:
		recno, err := ts.file.Write(ts.rec, owner)
		if err != nil {
			return pc, err
		}
		ts.pos = recno
		return pc, nil

	case OpUpdate, OpDelete:
		recno := ts.pos
		if recno == 0 {
			return pc, sqlerr.Exec(sqlerr.ExecBadRowID, "no current record of %s", ts.file.Table().Name)
		}
		held := ts.locked == recno
		if !held {
			if err := ts.file.LockRecordWait(recno, owner, self.lockWait()); err != nil {
				return pc, err
			}
		}
		if in.Op == OpUpdate {
			err = ts.file.Update(recno, ts.rec, owner)
			if !held {
				ts.file.UnlockRecord(recno, owner)
			}
		} else {
			err = ts.file.Delete(recno, owner)
			if held {
				ts.locked = 0
			}
		}
		return pc, err

	case OpTableLock:
		if in.B != 0 {
			// a LOCK TABLE of this connection already covers the statement
			if ts.fileLock || ts.file.FileOwner() == owner {
				return pc, nil
			}
			if err := ts.file.LockFileWait(owner, self.lockWait()); err != nil {
				return pc, err
			}
			ts.fileLock = true
			return pc, nil
		}
		return pc, ts.file.LockFileWait(owner, self.lockWait())

	case OpTableUnlock:
		if in.B != 0 {
			if ts.fileLock {
				ts.file.UnlockFile(owner)
				ts.fileLock = false
			}
			return pc, nil
		}
		ts.file.UnlockFile(owner)
		return pc, nil
	}
	return pc, badProgram(pc-1, "unknown opcode %d", in.Op)
}
