package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"select a from t", "delete from t"},
		splitStatements("select a from t;\n delete from t ;"))
	assert.Equal([]string{"insert into t (s) values ('a;b')"},
		splitStatements("insert into t (s) values ('a;b');"))
	assert.Equal([]string{}, splitStatements(" ; ;\n"))
}
