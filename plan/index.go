package plan

import (
	"strings"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
)

// Read strategies, numbered so that a larger value is a better access path.
const (
	FullScan = iota
	Assoc
	Range
	ExactDup
	Exact
)

var strategyName = []string{"full-scan", "assoc", "range", "exact-dup", "exact"}

func StrategyName(s int) string { return strategyName[s] }

// Comparison kinds found for a key column.
const (
	KeyEQ   = 0x01
	KeyGE   = 0x02
	KeyGT   = 0x04
	KeyLE   = 0x08
	KeyLT   = 0x10
	KeyLike = 0x20

	keyRange = KeyGE | KeyGT | KeyLE | KeyLT | KeyLike
)

// TableSet is a set of FROM positions.
type TableSet uint64

func (s TableSet) Has(ref int) bool { return s&(1<<uint(ref)) != 0 }
func (s TableSet) With(ref int) TableSet { return s | 1<<uint(ref) }
func (s TableSet) Covers(o TableSet) bool { return o&^s == 0 }
func (s TableSet) Without(ref int) TableSet { return s &^ (1 << uint(ref)) }

// OrderColumn is one key of a desired output order.
type OrderColumn struct {
	Ref    int
	Column int
	Desc   bool
}

// Bound is a usable comparison between a column of the scanned table and a
// value known before the table is read. Value is a node of the predicate
// tree; when it is -1 the bound is the literal text Text, used for LIKE
// prefixes.
type Bound struct {
	Op    int
	Value int
	Text  string
	Conj  int
}

// KeyPiece is one position of an index chain together with the
// comparisons found for its column.
type KeyPiece struct {
	Key    int // key range of the index, for associative indexes
	Column int
	Mask   int
	Eq     *Bound
	Lo     *Bound
	Hi     *Bound
}

// Choice is the result of index selection for one table.
type Choice struct {
	Index          int // -1 for record order
	Strategy       int
	Trace          []KeyPiece
	OrderSatisfied bool
	EqColumns      int
}

func (self *Choice) IndexName(t *meta.Table) string {
	if self.Index < 0 {
		return "-"
	}
	return t.Indexes[self.Index].Name
}

type columnInfo struct {
	mask int
	eq   *Bound
	lo   *Bound
	hi   *Bound
}

func (self *columnInfo) add(b *Bound, kind int) {
	self.mask |= kind
	switch kind {
	case KeyEQ:
		if self.eq == nil {
			self.eq = b
		}
		break
	case KeyGE, KeyGT, KeyLike:
		if self.lo == nil {
			self.lo = b
		}
		break
	case KeyLE, KeyLT:
		if self.hi == nil {
			self.hi = b
		}
		break
	}
}

func opKind(op int) int {
	switch op {
	case sql.OpEq:
		return KeyEQ
	case sql.OpGe:
		return KeyGE
	case sql.OpGt:
		return KeyGT
	case sql.OpLe:
		return KeyLE
	case sql.OpLt:
		return KeyLT
	default:
		return 0
	}
}

// known reports whether node n is a value available before table ref is
// read: a non NULL literal or a column of a bound table.
func known(tree *sql.Tree, n int, ref int, bound TableSet) bool {
	node := tree.Node(n)
	switch node.Op {
	case sql.OpLiteral:
		return !node.Null
	case sql.OpColumn:
		return node.Col.Ref != ref && bound.Has(node.Col.Ref)
	default:
		return false
	}
}

func isColumnOf(tree *sql.Tree, n int, ref int) bool {
	node := tree.Node(n)
	return node.Op == sql.OpColumn && node.Col.Ref == ref
}

// collect tags every column of ref with the comparison kinds of the top
// level conjuncts.
func collect(tree *sql.Tree, conj []int, ref int, bound TableSet) map[int]*columnInfo {
	out := map[int]*columnInfo{}
	get := func(col int) *columnInfo {
		if x, ok := out[col]; ok {
			return x
		}
		x := &columnInfo{}
		out[col] = x
		return x
	}

	for _, c := range conj {
		n := tree.Node(c)
		switch {
		case sql.IsCompare(n.Op) && n.Op != sql.OpNe:
			if isColumnOf(tree, n.L, ref) && known(tree, n.R, ref, bound) {
				col := tree.Node(n.L).Col.Column
				get(col).add(&Bound{Op: n.Op, Value: n.R, Conj: c}, opKind(n.Op))
			} else if isColumnOf(tree, n.R, ref) && known(tree, n.L, ref, bound) {
				op := sql.Swap(n.Op)
				col := tree.Node(n.R).Col.Column
				get(col).add(&Bound{Op: op, Value: n.L, Conj: c}, opKind(op))
			}
			break

		case n.Op == sql.OpLike:
			if !isColumnOf(tree, n.L, ref) {
				break
			}
			pat := tree.Node(n.R)
			if pat.Op != sql.OpLiteral || pat.Null {
				break
			}
			prefix, anchored, exact := sql.LikePrefix(pat.Text)
			col := tree.Node(n.L).Col.Column
			if exact {
				get(col).add(&Bound{Op: sql.OpEq, Value: -1, Text: prefix, Conj: c}, KeyEQ)
			} else if anchored && prefix != "" {
				get(col).add(&Bound{Op: sql.OpLike, Value: -1, Text: prefix, Conj: c}, KeyLike)
			}
			break
		}
	}
	return out
}

type candidate struct {
	choice Choice
	suffix int
}

func (self *candidate) better(o *candidate) bool {
	a, b := &self.choice, &o.choice
	if a.Strategy != b.Strategy {
		return a.Strategy > b.Strategy
	}
	if a.EqColumns != b.EqColumns {
		return a.EqColumns > b.EqColumns
	}
	if self.suffix != o.suffix {
		return self.suffix > o.suffix
	}
	return a.OrderSatisfied && !b.OrderSatisfied
}

// ChooseIndex scores every index of t against the top level conjuncts of a
// predicate and picks a read strategy for table reference ref. bound holds
// the tables whose rows are known when ref is read. order, if not empty,
// is the desired output order; an index whose leading columns produce it
// is marked order satisfying.
func ChooseIndex(tree *sql.Tree, conj []int, t *meta.Table, ref int, bound TableSet, order []OrderColumn) Choice {
	cols := collect(tree, conj, ref, bound)

	var best *candidate
	var ordered *candidate

	for i, idx := range t.Indexes {
		var c *candidate
		if idx.Type == meta.IndexAIM {
			c = scoreAIM(t, idx, cols)
		} else {
			c = scoreISAM(t, idx, cols)
			c.choice.OrderSatisfied = satisfies(t, idx, ref, order)
		}
		c.choice.Index = i

		if c.choice.Strategy == FullScan {
			if c.choice.OrderSatisfied && ordered == nil {
				ordered = c
			}
			continue
		}
		if best == nil || c.better(best) {
			best = c
		}
	}

	if best != nil {
		return best.choice
	}
	if ordered != nil {
		return Choice{
			Index:          ordered.choice.Index,
			Strategy:       FullScan,
			OrderSatisfied: true,
		}
	}
	return Choice{Index: -1, Strategy: FullScan}
}

// usable reports whether a chain position can take part in a key: it must
// cover a whole column compared byte for byte.
func usable(t *meta.Table, p meta.ColumnKey) bool {
	return p.Column >= 0 && p.Full && !t.Columns[p.Column].NoCase
}

func scoreISAM(t *meta.Table, idx *meta.Index, cols map[int]*columnInfo) *candidate {
	chain := idx.Chain()
	c := &candidate{choice: Choice{Strategy: FullScan}}

	eq := 0
	for _, p := range chain {
		if !usable(t, p) {
			break
		}
		info := cols[p.Column]
		if info == nil || info.eq == nil {
			break
		}
		c.choice.Trace = append(c.choice.Trace, KeyPiece{
			Key:    -1,
			Column: p.Column,
			Mask:   info.mask,
			Eq:     info.eq,
		})
		eq++
	}
	c.choice.EqColumns = eq

	if eq == len(chain) && eq > 0 {
		if idx.Dup {
			c.choice.Strategy = ExactDup
		} else {
			c.choice.Strategy = Exact
		}
		return c
	}

	if eq < len(chain) {
		p := chain[eq]
		if usable(t, p) && p.Text {
			if info := cols[p.Column]; info != nil && info.mask&keyRange != 0 && (info.lo != nil || info.hi != nil) {
				c.choice.Trace = append(c.choice.Trace, KeyPiece{
					Key:    -1,
					Column: p.Column,
					Mask:   info.mask,
					Lo:     info.lo,
					Hi:     info.hi,
				})
				c.suffix = 1
				for _, q := range chain[eq+1:] {
					if !usable(t, q) || !q.Text {
						break
					}
					if x := cols[q.Column]; x == nil || x.mask&keyRange == 0 {
						break
					}
					c.suffix++
				}
			}
		}
	}

	if eq > 0 || c.suffix > 0 {
		c.choice.Strategy = Range
	}
	return c
}

func scoreAIM(t *meta.Table, idx *meta.Index, cols map[int]*columnInfo) *candidate {
	c := &candidate{choice: Choice{Strategy: FullScan}}
	for k, key := range idx.Keys {
		if len(key.Columns) == 0 {
			continue
		}
		p := key.Columns[0]
		if p.Column < 0 || t.Columns[p.Column].NoCase || p.Offset != t.Columns[p.Column].Offset {
			continue
		}
		info := cols[p.Column]
		if info == nil {
			continue
		}
		piece := KeyPiece{Key: k, Column: p.Column, Mask: info.mask}
		if info.eq != nil {
			piece.Eq = info.eq
		} else if info.lo != nil && info.lo.Op == sql.OpLike {
			piece.Lo = info.lo
		} else {
			continue
		}
		c.choice.Trace = append(c.choice.Trace, piece)
	}
	if len(c.choice.Trace) > 0 {
		c.choice.Strategy = Assoc
		c.suffix = len(c.choice.Trace)
	}
	return c
}

// satisfies reports whether reading idx in key order yields order.
func satisfies(t *meta.Table, idx *meta.Index, ref int, order []OrderColumn) bool {
	if len(order) == 0 || idx.Type != meta.IndexISAM {
		return false
	}
	chain := idx.Chain()
	if len(chain) < len(order) {
		return false
	}
	for i, o := range order {
		p := chain[i]
		if o.Ref != ref || o.Desc || p.Column != o.Column || !p.Full || !p.Text {
			return false
		}
	}
	return true
}

// Describe renders the key trace for explain output.
func (self *Choice) Describe(t *meta.Table) string {
	parts := []string{}
	for _, p := range self.Trace {
		name := t.Columns[p.Column].Name
		switch {
		case p.Eq != nil:
			parts = append(parts, name+"=")
			break
		case p.Lo != nil && p.Hi != nil:
			parts = append(parts, name+"<>")
			break
		case p.Lo != nil:
			parts = append(parts, name+">")
			break
		case p.Hi != nil:
			parts = append(parts, name+"<")
			break
		}
	}
	return strings.Join(parts, ",")
}
