package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// Literal
	TkNumber = iota
	TkStr
	TkId
	TkNull

	// Keywords
	TkSelect
	TkFrom
	TkAs
	TkCast
	TkWhere
	TkGroupBy
	TkOrderBy
	TkHaving
	TkDistinct
	TkIn
	TkBetween
	TkLike
	TkEscape
	TkIs
	TkInsert
	TkInto
	TkValues
	TkUpdate
	TkSet
	TkDelete
	TkCreate
	TkDrop
	TkAlter
	TkTable
	TkIndex
	TkOn
	TkJoin
	TkInner
	TkLeft
	TkOuter
	TkFor
	TkAsc
	TkDesc
	TkLock
	TkUnlock
	TkUnique
	TkAssociative

	// Punctuation
	TkComma
	TkSemicolon
	TkLPar
	TkRPar
	TkDot

	TkAdd
	TkSub
	TkMul
	TkDiv
	TkConcat

	TkLt
	TkLe
	TkGt
	TkGe
	TkEq
	TkNe

	TkAnd
	TkOr
	TkNot

	TkError
	TkEof

	// Special hidden tokens that will never showsup during lexing, used inside
	// of parser for preprocessing/desugar purpose
	tkNotBetween
	tkNotIn
	tkNotLike
)

// MaxNameLength bounds identifiers and delimited identifiers.
const MaxNameLength = 64

var keywords = map[string]int{
	"SELECT":      TkSelect,
	"FROM":        TkFrom,
	"AS":          TkAs,
	"CAST":        TkCast,
	"WHERE":       TkWhere,
	"HAVING":      TkHaving,
	"DISTINCT":    TkDistinct,
	"IN":          TkIn,
	"BETWEEN":     TkBetween,
	"LIKE":        TkLike,
	"ESCAPE":      TkEscape,
	"IS":          TkIs,
	"NULL":        TkNull,
	"INSERT":      TkInsert,
	"INTO":        TkInto,
	"VALUES":      TkValues,
	"UPDATE":      TkUpdate,
	"SET":         TkSet,
	"DELETE":      TkDelete,
	"CREATE":      TkCreate,
	"DROP":        TkDrop,
	"ALTER":       TkAlter,
	"TABLE":       TkTable,
	"INDEX":       TkIndex,
	"ON":          TkOn,
	"JOIN":        TkJoin,
	"INNER":       TkInner,
	"LEFT":        TkLeft,
	"OUTER":       TkOuter,
	"FOR":         TkFor,
	"ASC":         TkAsc,
	"DESC":        TkDesc,
	"LOCK":        TkLock,
	"UNLOCK":      TkUnlock,
	"UNIQUE":      TkUnique,
	"ASSOCIATIVE": TkAssociative,
	"AND":         TkAnd,
	"OR":          TkOr,
	"NOT":         TkNot,
}

type Lexeme struct {
	Text string
	Int  int64
}

type Lexer struct {
	Source string
	Cursor int
	Token  int
	Lexeme Lexeme
	Start  int // byte offset of the current token
}

func (self *Lexer) nextRune() (rune, int) {
	if self.Cursor >= len(self.Source) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(self.Source[self.Cursor:])
}

func (self *Lexer) nextRune2() rune {
	if self.Cursor+1 >= len(self.Source) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(self.Source[self.Cursor+1:])
	return r
}

func (self *Lexer) yield(tk int, sz int) int {
	self.Token = tk
	self.Cursor += sz
	return tk
}

func (self *Lexer) eof() int {
	self.Token = TkEof
	return TkEof
}

// Line is the 1 based line number of the current token.
func (self *Lexer) Line() int {
	return lineOf(self.Source, self.Start)
}

func lineOf(source string, where int) int {
	if where > len(source) {
		where = len(source)
	}
	return strings.Count(source[:where], "\n") + 1
}

func (self *Lexer) err(msg string) int {
	self.Lexeme.Text = msg
	self.Token = TkError
	return TkError
}

func (self *Lexer) errUtf8() int {
	return self.err("invalid utf8 character")
}

func (self *Lexer) lexLineComment() bool {
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				return true // last line break, ie reaching end of the file
			} else {
				self.errUtf8()
				return false
			}
		}

		self.Cursor += sz

		if r == '\n' {
			break
		}
	}

	return true
}

func (self *Lexer) lexBlockComment() bool {
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				self.err("block comment is not closed properly")
			} else {
				self.errUtf8()
			}
			return false
		}

		if r == '*' && self.nextRune2() == '/' {
			// end of the comment
			self.Cursor += 2
			break
		}

		self.Cursor += sz
	}

	return true
}

// Numbers are kept as text so decimal literals never pass through a
// float; Lexeme.Int is set for plain integers.
func (self *Lexer) lexNum() int {
	hasDot := false
	buf := &bytes.Buffer{}

loop:
	for {
		r, _ := self.nextRune()
		switch r {
		case '.':
			if hasDot {
				break loop
			}
			buf.WriteRune('.')
			hasDot = true
			break

		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			buf.WriteRune(r)
			break

		default:
			break loop
		}

		self.Cursor++
	}

	text := buf.String()
	if text == "." {
		return self.err("invalid numeric literal")
	}
	if strings.HasPrefix(text, ".") {
		text = "0" + text
	}
	self.Lexeme.Text = text
	self.Lexeme.Int = 0
	if !hasDot {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			self.Lexeme.Int = i
		}
	}
	self.Token = TkNumber
	return TkNumber
}

// lexQuoted reads a '...' string literal or a "..." delimited identifier.
// A doubled quote stands for the quote character itself.
func (self *Lexer) lexQuoted(quote rune, tk int) int {
	buf := &bytes.Buffer{}
	self.Cursor++

	for {
		c, sz := self.nextRune()

		if c == utf8.RuneError {
			if sz == 0 {
				if tk == TkStr {
					return self.err("string literal is not closed by quote properly")
				}
				return self.err("delimited identifier is not closed by quote properly")
			} else {
				return self.errUtf8()
			}
		}

		if c == quote {
			if self.nextRune2() == quote {
				buf.WriteRune(quote)
				self.Cursor += 2
				continue
			}
			self.Cursor += sz
			break
		}

		buf.WriteRune(c)
		self.Cursor += sz
	}

	self.Lexeme.Text = buf.String()
	if tk == TkId {
		if len(self.Lexeme.Text) == 0 {
			return self.err("empty delimited identifier")
		}
		if len(self.Lexeme.Text) > MaxNameLength {
			return self.err(fmt.Sprintf("identifier longer than %d characters", MaxNameLength))
		}
	}
	self.Token = tk
	return tk
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func (self *Lexer) isWS(r rune) bool {
	switch r {
	case ' ', '\r', '\t', '\n', '\b', '\v', '\f':
		return true
	default:
		return false
	}
}

func (self *Lexer) isIdChar(r rune) bool {
	return isLetter(r) || isDigit(r) || r == '_' || r == '@' || r == '#'
}

func (self *Lexer) isIdLeadingChar(r rune) bool {
	return isLetter(r)
}

// matchKeyword2 recognizes two word keywords such as GROUP BY where the
// second word follows after any amount of whitespace.
func (self *Lexer) matchKeyword2(w2 string) (bool, int) {
	off := self.Cursor
	for off < len(self.Source) && self.isWS(rune(self.Source[off])) {
		off++
	}
	if off == self.Cursor || off+len(w2) > len(self.Source) {
		return false, -1
	}
	if !strings.EqualFold(self.Source[off:off+len(w2)], w2) {
		return false, -1
	}
	end := off + len(w2)
	if end < len(self.Source) && self.isIdChar(rune(self.Source[end])) {
		return false, -1
	}
	return true, end - self.Cursor
}

func (self *Lexer) lexKeywordOrId() int {
	start := self.Cursor
	for {
		c, sz := self.nextRune()
		if c == utf8.RuneError || !self.isIdChar(c) {
			break
		}
		self.Cursor += sz
	}

	word := strings.ToUpper(self.Source[start:self.Cursor])

	switch word {
	case "GROUP":
		if yes, length := self.matchKeyword2("BY"); yes {
			self.Lexeme.Text = "GROUP BY"
			return self.yield(TkGroupBy, length)
		}
		break
	case "ORDER":
		if yes, length := self.matchKeyword2("BY"); yes {
			self.Lexeme.Text = "ORDER BY"
			return self.yield(TkOrderBy, length)
		}
		break
	}

	self.Lexeme.Text = word
	if tk, ok := keywords[word]; ok {
		self.Token = tk
		return tk
	}
	if len(word) > MaxNameLength {
		return self.err(fmt.Sprintf("identifier longer than %d characters", MaxNameLength))
	}
	self.Token = TkId
	return TkId
}

func (self *Lexer) Next() int {
	if self.Token == TkEof || self.Token == TkError {
		return self.Token
	}
	return self.next()
}

func (self *Lexer) next() int {
	for {
		self.Start = self.Cursor
		c, sz := self.nextRune()
		if c == utf8.RuneError {
			if sz == 0 {
				return self.eof()
			} else {
				return self.errUtf8()
			}
		}

		switch c {
		case ',':
			return self.yield(TkComma, 1)

		case ';':
			return self.yield(TkSemicolon, 1)

		case '.':
			if isDigit(self.nextRune2()) {
				return self.lexNum()
			}
			return self.yield(TkDot, 1)

		case '(':
			return self.yield(TkLPar, 1)
		case ')':
			return self.yield(TkRPar, 1)

		case '+':
			return self.yield(TkAdd, 1)
		case '-':
			if self.nextRune2() == '-' {
				self.Cursor += 2
				if !self.lexLineComment() {
					return self.Token
				}
				break
			}
			return self.yield(TkSub, 1)
		case '*':
			return self.yield(TkMul, 1)
		case '/':
			if self.nextRune2() == '*' {
				self.Cursor += 2
				if !self.lexBlockComment() {
					return self.Token
				}
				break
			}
			return self.yield(TkDiv, 1)

		case '|':
			if self.nextRune2() == '|' {
				return self.yield(TkConcat, 2)
			}
			return self.err("are you missing '|' for concatenation operator?")

		case '=':
			return self.yield(TkEq, 1)

		case '>':
			if self.nextRune2() == '=' {
				return self.yield(TkGe, 2)
			} else {
				return self.yield(TkGt, 1)
			}

		case '<':
			if self.nextRune2() == '=' {
				return self.yield(TkLe, 2)
			} else if self.nextRune2() == '>' {
				return self.yield(TkNe, 2)
			} else {
				return self.yield(TkLt, 1)
			}

		case '!':
			if self.nextRune2() == '=' {
				return self.yield(TkNe, 2)
			}
			return self.err("unexpected character '!'")

		case ' ', '\r', '\t', '\n', '\b', '\v', '\f':
			self.Cursor++
			break

		case '\'':
			return self.lexQuoted(c, TkStr)

		case '"':
			return self.lexQuoted(c, TkId)

		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			return self.lexNum()

		default:
			if self.isIdLeadingChar(c) {
				return self.lexKeywordOrId()
			}
			return self.err(fmt.Sprintf("unexpected character %q", c))
		}
	}
}

// Peek returns the token after the current one without consuming it.
func (self *Lexer) Peek() (int, Lexeme) {
	saved := *self
	tk := self.Next()
	lexeme := self.Lexeme
	*self = saved
	return tk, lexeme
}

func (self *Lexer) upperText() string {
	return strings.ToUpper(self.Lexeme.Text)
}

func newLexer(source string) *Lexer {
	return &Lexer{
		Source: source,
		Cursor: 0,
		Token:  TkSemicolon,
	}
}

// FirstKeyword returns the leading keyword token of a statement, used to
// classify statements before parsing them.
func FirstKeyword(source string) int {
	return newLexer(source).Next()
}
