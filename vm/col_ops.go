package vm

import (
	"strconv"
	"strings"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/shopspring/decimal"
)

func itoa(n int) string { return strconv.Itoa(n) }

// putInt stores an integer into a field of any shape.
func putInt(dst []byte, s meta.Shape, n int) error {
	if s.Type.IsNumeric() {
		return meta.PutNumber(dst, s, decimal.NewFromInt(int64(n)))
	}
	_, err := meta.Encode(dst, s, strconv.Itoa(n))
	return err
}

// getInt reads the integral part of a field; NULL reads as 0.
func getInt(b []byte, s meta.Shape) (int, error) {
	d, null, err := meta.ParseNumber(b)
	if err != nil {
		return 0, err
	}
	if null {
		return 0, nil
	}
	return int(d.IntPart()), nil
}

// binIncr adds one to b as a big endian binary number. It reports false
// when the carry ran off the front, leaving b all zero.
func binIncr(b []byte) bool {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return true
		}
	}
	return false
}

// text is the display form of a field used by string functions.
func text(b []byte, s meta.Shape) string {
	if s.Type == meta.TypeChar {
		return string(b)
	}
	return meta.Decode(b, s)
}

func putString(dst []byte, ds meta.Shape, v string) error {
	if strings.TrimSpace(v) == "" {
		meta.Blank(dst)
		return nil
	}
	_, err := meta.Encode(dst, ds, v)
	return err
}

func arith(op int, x, y decimal.Decimal) (decimal.Decimal, bool) {
	switch op {
	case OpColAdd:
		return x.Add(y), true
	case OpColSub:
		return x.Sub(y), true
	case OpColMult:
		return x.Mul(y), true
	default:
		if y.IsZero() {
			return decimal.Zero, false
		}
		return x.Div(y), true
	}
}

func (self *Machine) execColumn(in *Instr) error {
	switch in.Op {
	case OpColSubPos, OpColSubLen:
		b, s, err := self.field(in.A)
		if err != nil {
			return err
		}
		n, err := getInt(b, s)
		if err != nil {
			return err
		}
		if meta.IsNull(b) {
			self.subNull = true
		} else if n < 0 && in.Op == OpColSubLen {
			n = 0
		}
		if in.Op == OpColSubPos {
			self.subPos = n
		} else {
			self.subLen = n
		}
		return nil

	case OpColCompare:
		x, xs, err := self.field(in.B)
		if err != nil {
			return err
		}
		y, ys, err := self.field(in.C)
		if err != nil {
			return err
		}
		c := meta.Compare(x, xs, y, ys)
		switch {
		case c < 0:
			self.vars[in.A] = -1
			break
		case c > 0:
			self.vars[in.A] = 1
			break
		default:
			self.vars[in.A] = 0
			break
		}
		return nil

	case OpColLike:
		v, vs, err := self.field(in.B)
		if err != nil {
			return err
		}
		p, ps, err := self.field(in.C)
		if err != nil {
			return err
		}
		self.vars[in.A] = 0
		if !meta.IsNull(v) && self.env.Match.Like(text(v, vs), text(p, ps)) {
			self.vars[in.A] = 1
		}
		return nil

	case OpColIsNull:
		v, _, err := self.field(in.B)
		if err != nil {
			return err
		}
		self.vars[in.A] = 0
		if meta.IsNull(v) {
			self.vars[in.A] = 1
		}
		return nil
	}

	dst, ds, err := self.field(in.A)
	if err != nil {
		return err
	}
	if self.prog.Refs[in.A].Ord.Kind == OrdLiteral || self.prog.Refs[in.A].Ord.Kind == OrdVariable {
		return sqlerr.Exec(sqlerr.ExecBadCol, "%s writes to a read only location", OpName(in.Op))
	}

	switch in.Op {
	case OpColNull:
		meta.Blank(dst)
		return nil
	case OpColBinIncr:
		binIncr(dst)
		return nil
	case OpMoveToCol:
		return putInt(dst, ds, self.vars[in.B])
	}

	x, xs, err := self.field(in.B)
	if err != nil {
		return err
	}

	switch in.Op {
	case OpColMove, OpColCast:
		_, err := meta.Convert(dst, ds, x, xs)
		return err

	case OpColAdd, OpColSub, OpColMult, OpColDiv:
		y, _, err := self.field(in.C)
		if err != nil {
			return err
		}
		a, an, err := meta.ParseNumber(x)
		if err != nil {
			return err
		}
		b, bn, err := meta.ParseNumber(y)
		if err != nil {
			return err
		}
		if an || bn {
			meta.Blank(dst)
			return nil
		}
		r, ok := arith(in.Op, a, b)
		if !ok {
			// division by zero yields NULL
			meta.Blank(dst)
			return nil
		}
		return meta.PutNumber(dst, ds, r.Round(int32(ds.Scale)))

	case OpColNegate:
		a, null, err := meta.ParseNumber(x)
		if err != nil {
			return err
		}
		if null {
			meta.Blank(dst)
			return nil
		}
		return meta.PutNumber(dst, ds, a.Neg().Round(int32(ds.Scale)))

	case OpColConcat:
		y, ys, err := self.field(in.C)
		if err != nil {
			return err
		}
		v := strings.TrimRight(text(x, xs), " ") + text(y, ys)
		return putString(dst, ds, v)

	case OpColUpper:
		return putString(dst, ds, strings.ToUpper(text(x, xs)))

	case OpColLower:
		return putString(dst, ds, strings.ToLower(text(x, xs)))

	case OpColTrimL:
		return putString(dst, ds, strings.TrimLeft(text(x, xs), " "))

	case OpColTrimT:
		return putString(dst, ds, strings.TrimRight(text(x, xs), " "))

	case OpColTrimB:
		return putString(dst, ds, strings.TrimSpace(text(x, xs)))

	case OpColSubstr:
		pos, n, null := self.subPos, self.subLen, self.subNull
		self.subPos, self.subLen, self.subNull = 1, -1, false
		if null || meta.IsNull(x) {
			meta.Blank(dst)
			return nil
		}
		v := text(x, xs)
		start := pos - 1
		end := len(v)
		if n >= 0 {
			end = start + n
		}
		if start < 0 {
			start = 0
		}
		if end > len(v) {
			end = len(v)
		}
		if end <= start {
			meta.Blank(dst)
			return nil
		}
		return putString(dst, ds, v[start:end])
	}
	return sqlerr.Exec(sqlerr.ExecBadPgm, "unknown column opcode %d", in.Op)
}
