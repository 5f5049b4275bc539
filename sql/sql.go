package sql

import (
	"strings"
)

// Function names are not reserved; they are recognised when an identifier
// is followed by '('.
var aggFuncs = map[string]int{
	"COUNT": AggCount,
	"SUM":   AggSum,
	"AVG":   AggAvg,
	"MIN":   AggMin,
	"MAX":   AggMax,
}

var scalarFuncs = map[string]int{
	"SUBSTRING": OpSubstr,
	"SUBSTR":    OpSubstr,
	"TRIM":      OpTrim,
	"UPPER":     OpUpper,
	"UCASE":     OpUpper,
	"LOWER":     OpLower,
	"LCASE":     OpLower,
}

func IsAggFunc(n string) bool {
	_, ok := aggFuncs[strings.ToUpper(n)]
	return ok
}

func isScalarFunc(n string) bool {
	_, ok := scalarFuncs[strings.ToUpper(n)]
	return ok
}
