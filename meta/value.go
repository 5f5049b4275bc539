package meta

import (
	"bytes"
	"strings"
	"time"

	"github.com/dianpeng/fsql/sqlerr"
)

// Field encodings are fixed width text:
//   CHAR       left justified, space padded
//   NUM/POSNUM right justified, '.' and scale digits, leading '-' if negative
//   DATE       YYYY-MM-DD
//   TIME       HH:MM:SS[.f...]
//   TIMESTAMP  YYYY-MM-DD HH:MM:SS[.f...]
// A field made only of blanks is NULL.

func Blank(dst []byte) {
	for i := range dst {
		dst[i] = ' '
	}
}

func IsNull(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != 0 {
			return false
		}
	}
	return true
}

// putText copies text left justified, reporting whether non blank
// characters were cut off.
func putText(dst []byte, text string) bool {
	n := copy(dst, text)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
	if n < len(text) {
		return strings.TrimRight(text[n:], " ") != ""
	}
	return false
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

func badTemporal(t ColumnType, text string) error {
	return sqlerr.Semantic(sqlerr.BadNumeric, "invalid "+strings.ToLower(t.String())+" value", text)
}

// fraction normalizes the fractional seconds to exactly scale digits.
func fraction(frac string, scale int) (string, bool, bool) {
	for i := 0; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return "", false, false
		}
	}
	truncated := false
	if len(frac) > scale {
		truncated = strings.TrimRight(frac[scale:], "0") != ""
		frac = frac[:scale]
	}
	for len(frac) < scale {
		frac += "0"
	}
	return frac, truncated, true
}

// canonicalTemporal validates text and renders the stored form.
func canonicalTemporal(s Shape, text string) (string, bool, error) {
	text = strings.TrimSpace(text)
	base := text
	frac := ""
	hasFrac := false

	if s.Type != TypeDate {
		if i := strings.LastIndexByte(text, '.'); i >= 0 {
			base = text[:i]
			frac = text[i+1:]
			hasFrac = true
		}
	}

	var out string
	switch s.Type {
	case TypeDate:
		if d, err := time.Parse(dateLayout, base); err == nil {
			out = d.Format(dateLayout)
		} else if d, err := time.Parse("20060102", base); err == nil {
			out = d.Format(dateLayout)
		} else {
			return "", false, badTemporal(s.Type, text)
		}
		return out, false, nil
	case TypeTime:
		if d, err := time.Parse(timeLayout, base); err == nil {
			out = d.Format(timeLayout)
		} else {
			return "", false, badTemporal(s.Type, text)
		}
		break
	case TypeTimestamp:
		base = strings.Replace(base, "T", " ", 1)
		if d, err := time.Parse(dateLayout+" "+timeLayout, base); err == nil {
			out = d.Format(dateLayout + " " + timeLayout)
		} else if d, err := time.Parse(dateLayout, base); err == nil {
			out = d.Format(dateLayout + " " + timeLayout)
		} else {
			return "", false, badTemporal(s.Type, text)
		}
		break
	default:
		return "", false, badTemporal(s.Type, text)
	}

	if !hasFrac && s.Scale == 0 {
		return out, false, nil
	}
	f, truncated, ok := fraction(frac, s.Scale)
	if !ok {
		return "", false, badTemporal(s.Type, text)
	}
	if s.Scale > 0 {
		out = out + "." + f
	}
	return out, truncated, nil
}

// Encode stores literal text into a field of the given shape. The boolean
// result reports a truncation that callers surface as a warning.
func Encode(dst []byte, s Shape, text string) (bool, error) {
	switch s.Type {
	case TypeChar:
		return putText(dst, text), nil
	case TypeNum, TypePosNum:
		if strings.TrimSpace(text) == "" {
			Blank(dst)
			return false, nil
		}
		d, truncated, err := ParseLiteral(text, s)
		if err != nil {
			return false, err
		}
		return truncated, PutNumber(dst, s, d)
	case TypeDate, TypeTime, TypeTimestamp:
		if strings.TrimSpace(text) == "" {
			Blank(dst)
			return false, nil
		}
		v, truncated, err := canonicalTemporal(s, text)
		if err != nil {
			return false, err
		}
		putText(dst, v)
		return truncated, nil
	default:
		return false, sqlerr.Internalf("encode: bad field type %d", int(s.Type))
	}
}

// Decode renders a stored field as display text.
func Decode(b []byte, s Shape) string {
	if s.Type == TypeChar {
		return strings.TrimRight(string(b), " ")
	}
	return strings.TrimSpace(string(b))
}

// Convert moves a field of shape ss into a field of shape ds, converting
// the representation as needed.
func Convert(dst []byte, ds Shape, src []byte, ss Shape) (bool, error) {
	if IsNull(src) {
		Blank(dst)
		return false, nil
	}
	switch {
	case ds.Type.IsNumeric():
		if ss.Type.IsNumeric() {
			d, _, err := ParseNumber(src)
			if err != nil {
				return false, err
			}
			return false, PutNumber(dst, ds, d.Round(int32(ds.Scale)))
		}
		return Encode(dst, ds, strings.TrimSpace(string(src)))

	case ds.Type == TypeChar:
		text := string(src)
		if ss.Type != TypeChar {
			text = strings.TrimSpace(text)
		}
		return putText(dst, text), nil

	default:
		if ss.Type == ds.Type && ss.Scale == ds.Scale {
			putText(dst, string(src))
			return false, nil
		}
		text := strings.TrimSpace(string(src))
		if ds.Type == TypeDate && ss.Type == TypeTimestamp && len(text) >= 10 {
			text = text[:10]
		}
		if ds.Type == TypeTime && ss.Type == TypeTimestamp && len(text) >= 19 {
			text = text[11:]
		}
		return Encode(dst, ds, text)
	}
}

// Compare orders two fields. NULL sorts before every value; numerics
// compare by value; everything else compares as blank padded text.
func Compare(a []byte, as Shape, b []byte, bs Shape) int {
	an, bn := IsNull(a), IsNull(b)
	if an || bn {
		switch {
		case an && bn:
			return 0
		case an:
			return -1
		default:
			return 1
		}
	}

	if as.Type.IsNumeric() || bs.Type.IsNumeric() {
		x, _, xerr := ParseNumber(a)
		y, _, yerr := ParseNumber(b)
		if xerr == nil && yerr == nil {
			return x.Cmp(y)
		}
	}

	x := bytes.TrimRight(a, " ")
	y := bytes.TrimRight(b, " ")
	if as.Type.IsNumeric() {
		x = bytes.TrimLeft(x, " ")
	}
	if bs.Type.IsNumeric() {
		y = bytes.TrimLeft(y, " ")
	}
	if as.NoCase || bs.NoCase {
		return bytes.Compare(bytes.ToUpper(x), bytes.ToUpper(y))
	}
	return bytes.Compare(x, y)
}

// Equal reports value equality under Compare.
func Equal(a []byte, as Shape, b []byte, bs Shape) bool {
	return Compare(a, as, b, bs) == 0
}
