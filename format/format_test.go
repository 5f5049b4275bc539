package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestParseStyle(t *testing.T) {
	assert := assert.New(t)
	s := ParseStyle("red;bold; underline;whatever")
	assert.Equal(ColorRed, s.Color)
	assert.True(s.Bold)
	assert.True(s.Underline)
	assert.False(s.Italic)
	assert.False(s.Ignore)

	assert.True(ParseStyle("ignore").Ignore)
}

func TestPlainTable(t *testing.T) {
	assert := assert.New(t)
	color.NoColor = true

	f := Plain()
	f.Padding = 4
	buf := &bytes.Buffer{}
	assert.Nil(f.Write(buf, []string{"ID", "NAME"}, [][]Value{
		{{Text: "1", Numeric: true}, {Text: "ann"}},
		{{Text: "12", Numeric: true}, {Null: true}},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(6, len(lines))
	assert.Equal(" ID   NAME ", lines[1])
	assert.Equal("    1 ann  ", lines[3])
	assert.Equal("   12 NULL ", lines[4])
	assert.Equal(lines[0], lines[5])
}

func TestIgnoredTitle(t *testing.T) {
	assert := assert.New(t)
	color.NoColor = true

	f := Plain()
	f.Title = &Style{Ignore: true}
	f.Padding = 0
	buf := &bytes.Buffer{}
	assert.Nil(f.Write(buf, []string{"X"}, [][]Value{{{Text: "a"}}}))
	assert.Equal(" a \n", buf.String())
}

func TestByName(t *testing.T) {
	assert := assert.New(t)
	f, err := ByName("color")
	assert.Nil(err)
	assert.Equal("|", f.Border)
	_, err = ByName("fancy")
	assert.NotNil(err)
}
