package sql

// parser of the sql. We briefly describe the grammar of sql as following
// EBNF
//
// ### statement -------------------------------------------------------------
//
// statement := select | insert | update | delete | create | drop | alter |
//              lock
//
// select :=
//     SELECT (ALL | DISTINCT)? items
//     FROM from
//     where?
//     group-by?
//     having?
//     order-by?
//     (FOR (UPDATE | READ) NOWAIT?)?
//
// items := '*' | item (',' item)*
// item := ID '.' '*' | expr as?
// as := [AS] ID
//
// from := table-ref ( ',' table-ref |
//                     INNER? JOIN table-ref ON expr |
//                     LEFT OUTER? JOIN table-ref ON expr )*
// table-ref := ID as?
//
// where := WHERE expr
// group-by := GROUPBY col-name (',' col-name)*
// having := HAVING expr
// order-by := ORDERBY order-key (',' order-key)*
// order-key := (INT | col-name) (ASC | DESC)?
//
// col-name := ID ('.' ID)?
//
// ### expression -------------------------------------------------------------
//
// expr := binary
// binary := NOT binary | binary binary-op binary
// binary-op := OR | AND | '=' | '<>' | '<' | '<=' | '>' | '>=' | '+' | '-' |
//              '||' | '*' | '/'
// suffix-predicate := IS NOT? NULL | NOT? LIKE binary (ESCAPE STR)? |
//                     NOT? BETWEEN binary AND binary |
//                     NOT? IN '(' binary (',' binary)* ')'
// unary := ('-' | '+')* primary
// primary := '(' expr ')' | const | col-name | call
// call := CAST '(' expr AS type ')' |
//         SUBSTRING '(' expr (FROM expr (FOR expr)? | ',' expr (',' expr)?) ')' |
//         TRIM '(' (LEADING | TRAILING | BOTH)? FROM? expr ')' |
//         UPPER '(' expr ')' | LOWER '(' expr ')' |
//         COUNT '(' '*' ')' | agg '(' DISTINCT? expr ')'
//
// const := NUMBER | STR | NULL
//
// ----------------------------------------------------------------------------

import (
	"strconv"
	"strings"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

type Parser struct {
	L        *Lexer
	cat      *meta.Catalog
	tree     *Tree
	warnings []*sqlerr.Error

	// set functions are only legal inside of projection and having
	aggs     *[]AggFunc
	allowAgg bool
	inAgg    bool
}

func newParser(xx string, cat *meta.Catalog) *Parser {
	return &Parser{
		L:   newLexer(xx),
		cat: cat,
	}
}

func NewParser(xx string, cat *meta.Catalog) *Parser {
	return newParser(xx, cat)
}

// Parse parses one statement. DDL statements are applied to the catalog
// before Parse returns. Warnings are returned along with a successful
// statement.
func Parse(text string, cat *meta.Catalog) (Statement, []*sqlerr.Error, error) {
	p := newParser(text, cat)
	stmt, err := p.Parse()
	if err != nil {
		return nil, nil, err
	}
	return stmt, p.warnings, nil
}

func (self *Parser) line() int {
	return self.L.Line()
}

func (self *Parser) err(msg string) error {
	if self.L.Token == TkError {
		return sqlerr.Syntax(self.line(), self.L.Lexeme.Text, "")
	} else {
		return sqlerr.Syntax(self.line(), msg, self.tokenText())
	}
}

func (self *Parser) tokenText() string {
	if self.L.Token == TkEof {
		return "end of statement"
	}
	return strings.TrimSpace(self.L.Source[self.L.Start:self.L.Cursor])
}

func (self *Parser) semantic(code int, msg, detail string) error {
	e := sqlerr.Semantic(code, msg, detail)
	e.Line = self.line()
	return e
}

func (self *Parser) warn(code int, msg, detail string) {
	self.warnings = append(self.warnings, sqlerr.Warning(code, msg, detail))
}

func (self *Parser) expect(tk int) error {
	if self.L.Token == tk {
		self.L.Next()
		return nil
	} else {
		return self.err("unexpected token during grammar parsing")
	}
}

// expectWord accepts a contextual keyword that lexes as an identifier.
func (self *Parser) isWord(w string) bool {
	return self.L.Token == TkId && self.L.Lexeme.Text == w
}

func (self *Parser) parseName() (string, error) {
	if self.L.Token != TkId {
		return "", self.err("expect an identifier")
	}
	name := self.L.Lexeme.Text
	self.L.Next()
	return name, nil
}

func (self *Parser) parseInt() (int, error) {
	if self.L.Token != TkNumber || strings.Contains(self.L.Lexeme.Text, ".") {
		return 0, self.err("expect an integer")
	}
	v := int(self.L.Lexeme.Int)
	self.L.Next()
	return v, nil
}

func (self *Parser) Parse() (Statement, error) {
	var stmt Statement

	self.L.Next()
	switch self.L.Token {
	case TkSelect:
		if n, err := self.parseSelect(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		break
	case TkInsert:
		if n, err := self.parseInsert(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		break
	case TkUpdate:
		if n, err := self.parseUpdate(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		break
	case TkDelete:
		if n, err := self.parseDelete(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		break
	case TkLock, TkUnlock:
		if n, err := self.parseLock(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		break
	case TkCreate, TkDrop, TkAlter:
		// the schema change has already happened when this returns, so the
		// rest of the statement is checked first
		if n, err := self.parseDDL(); err != nil {
			return nil, err
		} else {
			stmt = n
		}
		return stmt, nil
	default:
		return nil, self.err("unknown statement")
	}

	if err := self.parseEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (self *Parser) parseEnd() error {
	if self.L.Token == TkSemicolon {
		self.L.Next()
	}
	if self.L.Token != TkEof {
		return self.err("dangling code after parser thinks the statement is finished")
	}
	return nil
}

func (self *Parser) resolveTable(name string, line int) (TableRef, error) {
	id, t, err := self.cat.Lookup(name)
	if err != nil {
		return TableRef{}, sqlerr.WithLine(err, line)
	}
	return TableRef{
		Name:  t.Name,
		ID:    id,
		Table: t,
		On:    -1,
		Line:  line,
	}, nil
}

func (self *Parser) parseSelect() (*Select, error) {
	self.L.Next() // skip the *select* keyword

	s := &Select{
		Where:  -1,
		Having: -1,
	}
	self.tree = &s.Tree
	self.aggs = &s.Aggs

	if self.L.Token == TkDistinct {
		s.Distinct = true
		self.L.Next()
	} else if self.isSetQuantifier() {
		self.L.Next()
	}

	// projection
	if err := self.parseItems(s); err != nil {
		return nil, err
	}

	if err := self.expect(TkFrom); err != nil {
		return nil, err
	}
	if err := self.parseFrom(s); err != nil {
		return nil, err
	}

	if self.L.Token == TkWhere {
		self.L.Next()
		if n, err := self.parseExpr(); err != nil {
			return nil, err
		} else {
			s.Where = n
		}
	}

	if self.L.Token == TkGroupBy {
		self.L.Next()
		for {
			if n, err := self.parseColName(); err != nil {
				return nil, err
			} else {
				s.GroupBy = append(s.GroupBy, n)
			}
			if self.L.Token != TkComma {
				break
			}
			self.L.Next()
		}
	}

	if self.L.Token == TkHaving {
		self.L.Next()
		self.allowAgg = true
		n, err := self.parseExpr()
		self.allowAgg = false
		if err != nil {
			return nil, err
		}
		s.Having = n
	}

	if self.L.Token == TkOrderBy {
		self.L.Next()
		for {
			if o, err := self.parseOrderKey(); err != nil {
				return nil, err
			} else {
				s.OrderBy = append(s.OrderBy, o)
			}
			if self.L.Token != TkComma {
				break
			}
			self.L.Next()
		}
	}

	if self.L.Token == TkFor {
		self.L.Next()
		switch {
		case self.L.Token == TkUpdate:
			s.ForUpdate = true
			break
		case self.isWord("READ"):
			s.ForRead = true
			break
		default:
			return nil, self.err("expect UPDATE or READ after FOR")
		}
		self.L.Next()
		if self.isWord("NOWAIT") {
			s.NoWait = true
			self.L.Next()
		}
	}

	if err := self.validateSelect(s); err != nil {
		return nil, err
	}
	return s, nil
}

// isSetQuantifier tells the ALL of "SELECT ALL ..." from a column that
// happens to be named ALL.
func (self *Parser) isSetQuantifier() bool {
	if !self.isWord("ALL") {
		return false
	}
	switch ntk, _ := self.L.Peek(); ntk {
	case TkFrom, TkComma, TkDot, TkAs, TkEof:
		return false
	default:
		return true
	}
}

// isQualifiedStar looks ahead for "ID . *" without consuming anything.
func (self *Parser) isQualifiedStar() bool {
	if self.L.Token != TkId {
		return false
	}
	saved := *self.L
	defer func() { *self.L = saved }()
	return self.L.Next() == TkDot && self.L.Next() == TkMul
}

func (self *Parser) parseAlias() (string, error) {
	if self.L.Token == TkAs {
		self.L.Next()
		return self.parseName()
	}
	if self.L.Token == TkId {
		return self.parseName()
	}
	return "", nil
}

func (self *Parser) parseItems(s *Select) error {
	if self.L.Token == TkMul {
		self.L.Next()
		s.Items = append(s.Items, SelectItem{Expr: -1, star: true})
		return nil
	}

	for {
		if self.isQualifiedStar() {
			q := self.L.Lexeme.Text
			self.L.Next()
			self.L.Next()
			self.L.Next()
			s.Items = append(s.Items, SelectItem{Expr: -1, star: true, qualifier: q})
		} else {
			self.allowAgg = true
			n, err := self.parseExpr()
			self.allowAgg = false
			if err != nil {
				return err
			}
			alias, err := self.parseAlias()
			if err != nil {
				return err
			}
			s.Items = append(s.Items, SelectItem{Expr: n, Alias: alias})
		}

		if self.L.Token != TkComma {
			break
		}
		self.L.Next()
	}
	return nil
}

func (self *Parser) parseTableRef(join int) (TableRef, error) {
	line := self.line()
	name, err := self.parseName()
	if err != nil {
		return TableRef{}, err
	}
	ref, err := self.resolveTable(name, line)
	if err != nil {
		return TableRef{}, err
	}
	if alias, err := self.parseAlias(); err != nil {
		return TableRef{}, err
	} else {
		ref.Alias = alias
	}
	ref.Join = join
	return ref, nil
}

func (self *Parser) parseFrom(s *Select) error {
	add := func(ref TableRef) error {
		if err := s.Corr.AddTable(ref.Label(), len(s.Tables)); err != nil {
			return sqlerr.WithLine(err, ref.Line)
		}
		s.Tables = append(s.Tables, ref)
		return nil
	}

	if ref, err := self.parseTableRef(JoinComma); err != nil {
		return err
	} else if err := add(ref); err != nil {
		return err
	}

	for {
		join := -1
		switch self.L.Token {
		case TkComma:
			join = JoinComma
			self.L.Next()
			break
		case TkJoin:
			join = JoinInner
			self.L.Next()
			break
		case TkInner:
			join = JoinInner
			self.L.Next()
			if err := self.expect(TkJoin); err != nil {
				return err
			}
			break
		case TkLeft:
			join = JoinLeft
			self.L.Next()
			if self.L.Token == TkOuter {
				self.L.Next()
			}
			if err := self.expect(TkJoin); err != nil {
				return err
			}
			break
		}
		if join < 0 {
			break
		}

		ref, err := self.parseTableRef(join)
		if err != nil {
			return err
		}
		if join != JoinComma {
			if err := self.expect(TkOn); err != nil {
				return err
			}
			if n, err := self.parseExpr(); err != nil {
				return err
			} else {
				ref.On = n
			}
		}
		if err := add(ref); err != nil {
			return err
		}
	}

	if len(s.Tables) > 64 {
		return self.semantic(sqlerr.ParseError, "too many tables in FROM", strconv.Itoa(len(s.Tables)))
	}
	return nil
}

func (self *Parser) parseColName() (int, error) {
	line := self.line()
	name, err := self.parseName()
	if err != nil {
		return -1, err
	}
	col := ColumnRef{Name: name, Ref: -1, Column: -1}
	if self.L.Token == TkDot {
		self.L.Next()
		if n, err := self.parseName(); err != nil {
			return -1, err
		} else {
			col.Qualifier = name
			col.Name = n
		}
	}
	return self.tree.add(Node{Op: OpColumn, L: -1, R: -1, X: -1, Col: col, Line: line}), nil
}

func (self *Parser) parseOrderKey() (OrderItem, error) {
	o := OrderItem{Expr: -1, Item: -1}
	if self.L.Token == TkNumber {
		pos, err := self.parseInt()
		if err != nil {
			return o, err
		}
		// resolved against the item list during validation
		o.Item = pos - 1
		if pos <= 0 {
			return o, self.semantic(sqlerr.ParseError, "ORDER BY position out of range", strconv.Itoa(pos))
		}
	} else {
		if n, err := self.parseColName(); err != nil {
			return o, err
		} else {
			o.Expr = n
		}
	}
	switch self.L.Token {
	case TkAsc:
		self.L.Next()
		break
	case TkDesc:
		o.Desc = true
		self.L.Next()
		break
	}
	return o, nil
}

// ----------------------------------------------------------------------------
// expression
// ----------------------------------------------------------------------------

func (self *Parser) parseExpr() (int, error) {
	return self.doParseBin(0)
}

const (
	precOr      = 0
	precAnd     = 1
	precNot     = 2
	precCompare = 3
	precAdd     = 4
	precMul     = 5
	maxOpPrec   = 6
)

const invalidOpPrec = -1

func (self *Parser) binPrec(tk int) int {
	switch tk {
	case TkOr:
		return precOr
	case TkAnd:
		return precAnd
	case TkEq, TkNe, TkLt, TkLe, TkGt, TkGe, TkIs, TkLike, TkBetween, TkIn, TkNot:
		return precCompare
	case TkAdd, TkSub, TkConcat:
		return precAdd
	case TkMul, TkDiv:
		return precMul
	default:
		return invalidOpPrec
	}
}

var binOp = map[int]int{
	TkOr:     OpOr,
	TkAnd:    OpAnd,
	TkEq:     OpEq,
	TkNe:     OpNe,
	TkLt:     OpLt,
	TkLe:     OpLe,
	TkGt:     OpGt,
	TkGe:     OpGe,
	TkAdd:    OpAdd,
	TkSub:    OpSub,
	TkConcat: OpConcat,
	TkMul:    OpMul,
	TkDiv:    OpDiv,
}

func (self *Parser) node(op, l, r int, line int) int {
	return self.tree.add(Node{Op: op, L: l, R: r, X: -1, Line: line})
}

// Binary parsing, precedence climbing
func (self *Parser) doParseBin(prec int) (int, error) {
	if prec == maxOpPrec {
		return self.parseUnary()
	}

	if prec <= precNot && self.L.Token == TkNot {
		line := self.line()
		self.L.Next()
		operand, err := self.doParseBin(precNot)
		if err != nil {
			return -1, err
		}
		return self.doParseBinRest(self.node(OpNot, operand, -1, line), prec)
	}

	l, err := self.parseUnary()
	if err != nil {
		return -1, err
	}

	return self.doParseBinRest(l, prec)
}

func (self *Parser) doParseBinBetweenRHS() (int, int, error) {
	lowerBound, err := self.doParseBin(precAdd)
	if err != nil {
		return -1, -1, err
	}

	if self.L.Token != TkAnd {
		return -1, -1, self.err("expect AND for BETWEEN operator")
	}
	self.L.Next()

	upperBound, err := self.doParseBin(precAdd)
	if err != nil {
		return -1, -1, err
	}

	return lowerBound, upperBound, nil
}

func (self *Parser) doParseBinInRHS() ([]int, error) {
	if self.L.Token != TkLPar {
		return nil, self.err("expect '(' for IN operator's lhs")
	}
	self.L.Next()

	out := []int{}

	for self.L.Token != TkRPar {
		if v, err := self.doParseBin(precAdd); err != nil {
			return nil, err
		} else {
			out = append(out, v)
		}
		if self.L.Token == TkComma {
			self.L.Next()
		} else if self.L.Token != TkRPar {
			return nil, self.err("expect a ',' or ')' after element in IN's lhs")
		}
	}

	self.L.Next()
	if len(out) == 0 {
		return nil, self.err("IN operator's RHS is an empty set, which is not allowed")
	}
	return out, nil
}

func (self *Parser) doParseLikeRHS(lhs int, line int) (int, error) {
	pattern, err := self.doParseBin(precAdd)
	if err != nil {
		return -1, err
	}
	if self.L.Token == TkEscape {
		self.L.Next()
		if self.L.Token != TkStr {
			return -1, self.err("expect a string literal for ESCAPE")
		}
		esc := []rune(self.L.Lexeme.Text)
		if len(esc) != 1 {
			return -1, self.err("ESCAPE must be a single character")
		}
		self.L.Next()
		p := self.tree.Node(pattern)
		if p.Op != OpLiteral || p.Num || p.Null {
			return -1, self.semantic(sqlerr.ParseError, "ESCAPE requires a literal pattern", "")
		}
		p.Text = CanonicalLike(p.Text, esc[0])
	}
	return self.node(OpLike, lhs, pattern, line), nil
}

func (self *Parser) doParseBinRest(lhs int, prec int) (int, error) {
	for {
		tk := self.L.Token
		nextPrec := self.binPrec(tk)

		if nextPrec == invalidOpPrec {
			break
		} else if nextPrec < prec {
			break
		}

		line := self.line()
		negate := false

		if tk == TkNot {
			switch ntk, _ := self.L.Peek(); ntk {
			case TkIn, TkBetween, TkLike:
				negate = true
				self.L.Next()
				tk = ntk
				break
			default:
				return -1, self.err(
					"NOT operator shows up, but expect a suffix operator, " +
						"example like NOT IN, NOT BETWEEN etc ... ",
				)
			}
		}

		self.L.Next() // eat the operator token

		var newNode int
		switch tk {
		case TkBetween:
			if lower, upper, err := self.doParseBinBetweenRHS(); err != nil {
				return -1, err
			} else {
				ge := self.node(OpGe, lhs, lower, line)
				le := self.node(OpLe, lhs, upper, line)
				newNode = self.node(OpAnd, ge, le, line)
			}
			break

		case TkIn:
			if v, err := self.doParseBinInRHS(); err != nil {
				return -1, err
			} else {
				out := -1
				for _, vv := range v {
					eq := self.node(OpEq, lhs, vv, line)
					if out < 0 {
						out = eq
					} else {
						out = self.node(OpOr, out, eq, line)
					}
				}
				newNode = out
			}
			break

		case TkLike:
			if v, err := self.doParseLikeRHS(lhs, line); err != nil {
				return -1, err
			} else {
				newNode = v
			}
			break

		case TkIs:
			op := OpIsNull
			if self.L.Token == TkNot {
				op = OpIsNotNull
				self.L.Next()
			}
			if err := self.expect(TkNull); err != nil {
				return -1, err
			}
			newNode = self.node(op, lhs, -1, line)
			break

		default:
			if v, err := self.doParseBin(nextPrec + 1); err != nil {
				return -1, err
			} else {
				newNode = self.node(binOp[tk], lhs, v, line)
			}
			break
		}

		if negate {
			newNode = self.node(OpNot, newNode, -1, line)
		}
		lhs = newNode
	}

	return lhs, nil
}

func (self *Parser) parseUnary() (int, error) {
	line := self.line()
	neg := false

loop:
	for {
		switch self.L.Token {
		case TkSub:
			neg = !neg
			self.L.Next()
			break
		case TkAdd:
			self.L.Next()
			break
		default:
			break loop
		}
	}

	// fold the sign into numeric literals so they stay usable as index keys
	if neg && self.L.Token == TkNumber {
		n := self.literal(self.L.Lexeme.Text, true, line)
		self.tree.Node(n).Text = "-" + self.L.Lexeme.Text
		self.L.Next()
		return n, nil
	}

	operand, err := self.parsePrimary()
	if err != nil {
		return -1, err
	}
	if neg {
		return self.node(OpNeg, operand, -1, line), nil
	}
	return operand, nil
}

func (self *Parser) literal(text string, num bool, line int) int {
	return self.tree.add(Node{Op: OpLiteral, L: -1, R: -1, X: -1, Text: text, Num: num, Line: line})
}

func (self *Parser) parsePrimary() (int, error) {
	line := self.line()

	switch self.L.Token {
	case TkLPar:
		self.L.Next()
		n, err := self.parseExpr()
		if err != nil {
			return -1, err
		}
		if err := self.expect(TkRPar); err != nil {
			return -1, err
		}
		return n, nil

	case TkNumber:
		n := self.literal(self.L.Lexeme.Text, true, line)
		self.L.Next()
		return n, nil

	case TkStr:
		n := self.literal(self.L.Lexeme.Text, false, line)
		self.L.Next()
		return n, nil

	case TkNull:
		self.L.Next()
		return self.tree.add(Node{Op: OpLiteral, L: -1, R: -1, X: -1, Null: true, Line: line}), nil

	case TkCast:
		return self.parseCast()

	case TkId:
		if ntk, _ := self.L.Peek(); ntk == TkLPar {
			name := self.L.Lexeme.Text
			if IsAggFunc(name) {
				return self.parseAgg()
			}
			if isScalarFunc(name) {
				return self.parseCall()
			}
			return -1, self.semantic(sqlerr.ParseError, "unknown function", name)
		}
		return self.parseColName()

	default:
		return -1, self.err("unexpected token in expression")
	}
}

func (self *Parser) parseType() (meta.Shape, error) {
	name, err := self.parseName()
	if err != nil {
		return meta.Shape{}, err
	}
	typ, ok := meta.ParseColumnType(name)
	if !ok {
		return meta.Shape{}, self.semantic(sqlerr.ParseError, "unknown data type", name)
	}
	s := meta.Shape{Type: typ}
	switch typ {
	case meta.TypeChar:
		s.Length = 1
		break
	case meta.TypeNum, meta.TypePosNum:
		s.Length = 15
		break
	}

	if self.L.Token == TkLPar {
		self.L.Next()
		first, err := self.parseInt()
		if err != nil {
			return s, err
		}
		if typ.IsTemporal() {
			s.Scale = first
		} else {
			s.Length = first
			if self.L.Token == TkComma {
				self.L.Next()
				if s.Scale, err = self.parseInt(); err != nil {
					return s, err
				}
			}
		}
		if err := self.expect(TkRPar); err != nil {
			return s, err
		}
	}
	if self.isWord("NOCASE") {
		s.NoCase = true
		self.L.Next()
	}
	s.Length = meta.DefaultLength(typ, s.Length, s.Scale)
	if s.Length <= 0 || (typ.IsNumeric() && (s.Length > meta.MaxNumDigits+2 || s.Scale >= s.Length)) {
		return s, self.semantic(sqlerr.ParseError, "invalid length for data type", s.String())
	}
	return s, nil
}

func (self *Parser) parseCast() (int, error) {
	line := self.line()
	self.L.Next()
	if err := self.expect(TkLPar); err != nil {
		return -1, err
	}
	operand, err := self.parseExpr()
	if err != nil {
		return -1, err
	}
	if err := self.expect(TkAs); err != nil {
		return -1, err
	}
	shape, err := self.parseType()
	if err != nil {
		return -1, err
	}
	if err := self.expect(TkRPar); err != nil {
		return -1, err
	}
	return self.tree.add(Node{Op: OpCast, L: operand, R: -1, X: -1, Cast: shape, Line: line}), nil
}

func (self *Parser) parseCall() (int, error) {
	line := self.line()
	op := scalarFuncs[self.L.Lexeme.Text]
	self.L.Next()
	if err := self.expect(TkLPar); err != nil {
		return -1, err
	}

	n := Node{Op: op, L: -1, R: -1, X: -1, Line: line}

	switch op {
	case OpSubstr:
		src, err := self.parseExpr()
		if err != nil {
			return -1, err
		}
		n.L = src
		sep := TkComma
		if self.L.Token == TkFrom {
			sep = TkFor
		} else if self.L.Token != TkComma {
			return -1, self.err("expect FROM or ',' in SUBSTRING")
		}
		self.L.Next()
		if n.R, err = self.doParseBin(precAdd); err != nil {
			return -1, err
		}
		if self.L.Token == sep {
			self.L.Next()
			if n.X, err = self.doParseBin(precAdd); err != nil {
				return -1, err
			}
		}
		break

	case OpTrim:
		n.Trim = TrimBoth
		explicit := false
		switch {
		case self.isWord("LEADING"):
			n.Trim = TrimLeading
			explicit = true
			break
		case self.isWord("TRAILING"):
			n.Trim = TrimTrailing
			explicit = true
			break
		case self.isWord("BOTH"):
			explicit = true
			break
		}
		if explicit {
			self.L.Next()
			if err := self.expect(TkFrom); err != nil {
				return -1, err
			}
		} else if self.L.Token == TkFrom {
			self.L.Next()
		}
		src, err := self.parseExpr()
		if err != nil {
			return -1, err
		}
		n.L = src
		break

	default:
		src, err := self.parseExpr()
		if err != nil {
			return -1, err
		}
		n.L = src
		break
	}

	if err := self.expect(TkRPar); err != nil {
		return -1, err
	}
	return self.tree.add(n), nil
}

func (self *Parser) parseAgg() (int, error) {
	line := self.line()
	name := self.L.Lexeme.Text
	if !self.allowAgg {
		return -1, self.semantic(sqlerr.ParseError, "set function is not allowed here", name)
	}
	if self.inAgg {
		return -1, self.semantic(sqlerr.ParseError, "set functions cannot be nested", name)
	}
	self.L.Next()
	if err := self.expect(TkLPar); err != nil {
		return -1, err
	}

	agg := AggFunc{Fn: aggFuncs[name], Arg: -1}

	if agg.Fn == AggCount && self.L.Token == TkMul {
		agg.Fn = AggCountStar
		self.L.Next()
	} else {
		if self.L.Token == TkDistinct {
			agg.Distinct = true
			self.L.Next()
		}
		self.inAgg = true
		arg, err := self.parseExpr()
		self.inAgg = false
		if err != nil {
			return -1, err
		}
		agg.Arg = arg
	}
	if err := self.expect(TkRPar); err != nil {
		return -1, err
	}

	*self.aggs = append(*self.aggs, agg)
	return self.tree.add(Node{Op: OpAgg, L: -1, R: -1, X: -1, Agg: len(*self.aggs) - 1, Line: line}), nil
}
