package sqlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by who caused it and whether the statement can
// still be considered successful.
type Kind int

const (
	KindSyntax Kind = iota + 1
	KindSemantic
	KindResource
	KindExecution
	KindInternal
	KindWarning
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindSemantic:
		return "semantic"
	case KindResource:
		return "resource"
	case KindExecution:
		return "execution"
	case KindInternal:
		return "internal"
	case KindWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Numeric codes, kept compatible with the codes existing clients switch on.
const (
	BadConnectID = -401

	TableNotFound  = -508
	ColumnNotFound = -509
	BadRSID        = -510
	BadRowID       = -511
	BadCmd         = -512
	BadIndex       = -513
	Internal       = -514
	NoMem          = -515

	ParseNoMem          = -601
	ParseTableNotFound  = -602
	ParseColumnNotFound = -603
	BadNumeric          = -604
	StringTruncated     = -605
	ReadOnly            = -606
	NoUpdate            = -607
	NoForUpdate         = -608
	TableExists         = -609
	ParseError          = -699

	ExecTooBig       = -701
	ExecBadTable     = -702
	ExecBadWorkset   = -703
	ExecBadPgm       = -704
	ExecBadCol       = -705
	ExecBadDataFile  = -706
	ExecBadWorkFile  = -707
	ExecBadRowID     = -708
	ExecBadParm      = -709
	ExecDupKey       = -710
	ExecNoWrite      = -711
	ExecRecordLocked = -712

	Other = -801
)

type Error struct {
	Kind   Kind
	Code   int
	Line   int // 1 based, 0 when not tied to statement text
	Msg    string
	Detail string
}

func (self *Error) Error() string {
	msg := fmt.Sprintf("%s(%d): %s", self.Kind, self.Code, self.Msg)
	if self.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, self.Detail)
	}
	if self.Line > 0 {
		msg = fmt.Sprintf("%s at line %d", msg, self.Line)
	}
	return msg
}

func (self *Error) IsWarning() bool {
	return self.Kind == KindWarning
}

func New(kind Kind, code int, msg string) *Error {
	return &Error{
		Kind: kind,
		Code: code,
		Msg:  msg,
	}
}

func Syntax(line int, msg string, detail string) *Error {
	return &Error{
		Kind:   KindSyntax,
		Code:   ParseError,
		Line:   line,
		Msg:    msg,
		Detail: detail,
	}
}

func Semantic(code int, msg string, detail string) *Error {
	return &Error{
		Kind:   KindSemantic,
		Code:   code,
		Msg:    msg,
		Detail: detail,
	}
}

func Warning(code int, msg string, detail string) *Error {
	return &Error{
		Kind:   KindWarning,
		Code:   code,
		Msg:    msg,
		Detail: detail,
	}
}

func Exec(code int, format string, args ...interface{}) *Error {
	return &Error{
		Kind: KindExecution,
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Internalf marks a compiler or VM bug; these must never be silently
// recovered by callers.
func Internalf(format string, args ...interface{}) *Error {
	return &Error{
		Kind: KindInternal,
		Code: Internal,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func Is(err error, code int) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if err == nil {
		return 0
	}
	return KindExecution
}

// WithLine stamps a line number on errors that do not carry one yet.
func WithLine(err error, line int) error {
	if e, ok := As(err); ok && e.Line == 0 {
		e.Line = line
	}
	return err
}
