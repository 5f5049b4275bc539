package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	assert := assert.New(t)
	defer SetLogLevel(LogLevelErrOnly)

	assert.Equal(LogLevelDebug, ParseLevel("debug"))
	assert.Equal(LogLevelNone, ParseLevel("none"))
	assert.Equal(LogLevelErrOnly, ParseLevel("whatever"))

	SetLogLevel(LogLevelDebug)
	assert.Equal(LogLevelDebug, Level())

	buf := &bytes.Buffer{}
	SetOutput(buf)
	InfoLog("hello", 1)
	Debugf("plan %s", "cached")
	assert.Contains(buf.String(), "hello 1")
	assert.Contains(buf.String(), "plan cached")
}
