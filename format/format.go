// Package format renders result sets as aligned text tables for the
// command line. A Format says how the title bar, the border and each kind
// of value are styled; styles map to terminal attributes of fatih/color.
package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const (
	ColorNone = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
)

// Style is the rendering of one kind of text.
type Style struct {
	Ignore    bool
	Color     int
	Bold      bool
	Italic    bool
	Underline bool
}

// ParseStyle reads a ';' separated list such as "red;bold". Unknown words
// are skipped.
func ParseStyle(s string) *Style {
	f := &Style{}
	for _, w := range strings.Split(s, ";") {
		switch strings.ToLower(strings.TrimSpace(w)) {
		case "bold":
			f.Bold = true
			break
		case "italic":
			f.Italic = true
			break
		case "underline":
			f.Underline = true
			break
		case "black":
			f.Color = ColorBlack
			break
		case "red":
			f.Color = ColorRed
			break
		case "green":
			f.Color = ColorGreen
			break
		case "yellow":
			f.Color = ColorYellow
			break
		case "blue":
			f.Color = ColorBlue
			break
		case "magenta":
			f.Color = ColorMagenta
			break
		case "cyan":
			f.Color = ColorCyan
			break
		case "white":
			f.Color = ColorWhite
			break
		case "ignore":
			f.Ignore = true
			break
		default:
			break
		}
	}
	return f
}

func mapcolor(c int) color.Attribute {
	switch c {
	default:
		return color.Reset
	case ColorBlack:
		return color.FgBlack
	case ColorRed:
		return color.FgRed
	case ColorGreen:
		return color.FgGreen
	case ColorYellow:
		return color.FgYellow
	case ColorBlue:
		return color.FgBlue
	case ColorMagenta:
		return color.FgMagenta
	case ColorCyan:
		return color.FgCyan
	case ColorWhite:
		return color.FgWhite
	}
}

func (self *Style) paint(s string) string {
	if self == nil {
		return s
	}
	c := color.New(mapcolor(self.Color))
	if self.Bold {
		c.Add(color.Bold)
	}
	if self.Underline {
		c.Add(color.Underline)
	}
	if self.Italic {
		c.Add(color.Italic)
	}
	return c.Sprint(s)
}

// Format is a complete table layout. Padding is the minimum column width;
// columns grow to fit their widest value.
type Format struct {
	Title   *Style
	Border  string
	Padding int

	Number *Style
	String *Style
	Null   *Style
}

// Plain prints the title and the values without attributes.
func Plain() *Format {
	return &Format{
		Title:   &Style{},
		Border:  " ",
		Padding: 8,
	}
}

// Colored is the styled layout of an interactive terminal.
func Colored() *Format {
	return &Format{
		Title:   &Style{Color: ColorBlue, Bold: true},
		Border:  "|",
		Padding: 8,
		Number:  &Style{Color: ColorGreen, Bold: true},
		String:  &Style{Color: ColorRed, Italic: true},
		Null:    &Style{Color: ColorBlack, Bold: true},
	}
}

// ByName returns the layout called name, "plain" or "color".
func ByName(name string) (*Format, error) {
	switch name {
	case "", "plain":
		return Plain(), nil
	case "color":
		return Colored(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", name)
	}
}

// Value is one cell. Numeric cells are right aligned.
type Value struct {
	Text    string
	Null    bool
	Numeric bool
}

const nullText = "NULL"

func (self *Format) widths(columns []string, rows [][]Value) []int {
	w := make([]int, len(columns))
	for i, c := range columns {
		w[i] = self.Padding
		if len(c) > w[i] {
			w[i] = len(c)
		}
	}
	for _, r := range rows {
		for i, v := range r {
			if i >= len(w) {
				break
			}
			n := len(v.Text)
			if v.Null {
				n = len(nullText)
			}
			if n > w[i] {
				w[i] = n
			}
		}
	}
	return w
}

func (self *Format) cell(v Value, width int) string {
	switch {
	case v.Null:
		return self.Null.paint(fmt.Sprintf("%-*s", width, nullText))
	case v.Numeric:
		return self.Number.paint(fmt.Sprintf("%*s", width, v.Text))
	default:
		return self.String.paint(fmt.Sprintf("%-*s", width, v.Text))
	}
}

// Write prints the title bar, every row and the closing delimiter.
func (self *Format) Write(w io.Writer, columns []string, rows [][]Value) error {
	widths := self.widths(columns, rows)
	sep := self.Border

	title := self.Title == nil || !self.Title.Ignore
	bar := strings.Builder{}
	for i, c := range columns {
		bar.WriteString(sep)
		bar.WriteString(fmt.Sprintf("%-*s", widths[i], c))
	}
	del := strings.Repeat("-", bar.Len()+len(sep))

	if title {
		if _, err := fmt.Fprintf(w, "%s\n%s%s\n%s\n", del, self.Title.paint(bar.String()), sep, del); err != nil {
			return err
		}
	}
	for _, r := range rows {
		line := strings.Builder{}
		for i, v := range r {
			if i >= len(widths) {
				break
			}
			line.WriteString(sep)
			line.WriteString(self.cell(v, widths[i]))
		}
		line.WriteString(sep)
		if _, err := fmt.Fprintln(w, line.String()); err != nil {
			return err
		}
	}
	if title {
		if _, err := fmt.Fprintln(w, del); err != nil {
			return err
		}
	}
	return nil
}
