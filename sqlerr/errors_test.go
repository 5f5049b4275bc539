package sqlerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRender(t *testing.T) {
	assert := assert.New(t)
	{
		e := Syntax(3, "unexpected token", "FORM")
		assert.Equal("syntax(-699): unexpected token: FORM at line 3", e.Error())
		assert.Equal(KindSyntax, KindOf(e))
	}
	{
		e := Semantic(ParseTableNotFound, "table not found", "T1")
		assert.Equal("semantic(-602): table not found: T1", e.Error())
		assert.False(e.IsWarning())
	}
	{
		e := Warning(StringTruncated, "string truncated", "")
		assert.True(e.IsWarning())
	}
}

func TestErrorWrap(t *testing.T) {
	assert := assert.New(t)
	e := Exec(ExecDupKey, "duplicate key in %s", "T")
	wrapped := fmt.Errorf("write: %w", e)
	assert.True(Is(wrapped, ExecDupKey))
	assert.False(Is(wrapped, BadRSID))
	assert.Equal(KindExecution, KindOf(wrapped))
	assert.Equal(Kind(0), KindOf(nil))

	err := WithLine(Semantic(ParseColumnNotFound, "column not found", "X"), 7)
	x, ok := As(err)
	assert.True(ok)
	assert.Equal(7, x.Line)
}
