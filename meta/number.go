package meta

import (
	"strings"

	"github.com/dianpeng/fsql/sqlerr"
	"github.com/shopspring/decimal"
)

// numericText reports whether s is a plain decimal literal: optional sign,
// digits, at most one decimal point.
func numericText(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	digits := 0
	dot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
			break
		case c == '.' && !dot:
			dot = true
			break
		default:
			return false
		}
	}
	return digits > 0
}

func badNumeric(s string) error {
	return sqlerr.Semantic(sqlerr.BadNumeric, "invalid numeric value", s)
}

// ParseNumber decodes a stored NUM/POSNUM field. A blank field is NULL and
// is reported through the second return value.
func ParseNumber(b []byte) (decimal.Decimal, bool, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return decimal.Zero, true, nil
	}
	if !numericText(s) {
		return decimal.Zero, false, badNumeric(s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, badNumeric(s)
	}
	return d, false, nil
}

// ParseLiteral parses numeric literal text for assignment to a field of the
// given shape. Extra fraction digits are dropped and reported as truncation.
func ParseLiteral(text string, s Shape) (decimal.Decimal, bool, error) {
	text = strings.TrimSpace(text)
	if !numericText(text) {
		return decimal.Zero, false, badNumeric(text)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false, badNumeric(text)
	}
	truncated := false
	if -d.Exponent() > int32(s.Scale) {
		t := d.Truncate(int32(s.Scale))
		truncated = !t.Equal(d)
		d = t
	}
	return d, truncated, nil
}

// PutNumber formats d right justified into dst, rounded to the shape's
// scale.
func PutNumber(dst []byte, s Shape, d decimal.Decimal) error {
	if s.Type == TypePosNum && d.Sign() < 0 {
		return sqlerr.Semantic(sqlerr.BadNumeric, "negative value for POSNUM", d.String())
	}
	text := d.StringFixed(int32(s.Scale))
	if len(text) > len(dst) {
		return sqlerr.Semantic(sqlerr.BadNumeric, "numeric overflow", text)
	}
	pad := len(dst) - len(text)
	for i := 0; i < pad; i++ {
		dst[i] = ' '
	}
	copy(dst[pad:], text)
	return nil
}

// NumberShape derives the shape of a numeric literal from its text.
func NumberShape(text string) Shape {
	text = strings.TrimSpace(text)
	scale := 0
	if i := strings.IndexByte(text, '.'); i >= 0 {
		scale = len(text) - i - 1
	}
	length := len(text)
	if length < 1 {
		length = 1
	}
	return Shape{
		Type:   TypeNum,
		Length: length,
		Scale:  scale,
	}
}

// ResultShape is the shape used for the result of an arithmetic operator
// between two numeric shapes.
func ResultShape(op byte, a, b Shape) Shape {
	scale := a.Scale
	if b.Scale > scale {
		scale = b.Scale
	}
	switch op {
	case '*':
		scale = a.Scale + b.Scale
		break
	case '/':
		scale += 4
		break
	}
	if scale > 10 {
		scale = 10
	}
	length := MaxNumDigits + 2
	return Shape{
		Type:   TypeNum,
		Length: length,
		Scale:  scale,
	}
}
