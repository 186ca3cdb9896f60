package query

import (
	"fmt"
	"strings"
)

// Cardinality describes the shape of a query's result.
type Cardinality int

const (
	// At most one row. Zero rows is an absent result, not an error.
	One Cardinality = iota + 1
	// A lazily produced sequence of rows.
	Many
	// Success or failure only. Rows, if any, are discarded.
	Exec
	// Rows affected, plus the returned rows if the statement has RETURNING.
	ExecResult
	// Rows affected only.
	ExecRows
	// The driver's last inserted id.
	ExecLastID
	// A bulk load of many parameter rows into one table.
	CopyFrom
	// The statement run once per parameter row, in one round trip where the
	// transport supports it. Each item reports success or failure.
	BatchExec
	// Like BatchExec, with each item producing every row it returns.
	BatchMany
	// Like BatchExec, with each item producing at most one row.
	BatchOne
)

var cardinalityNames = map[Cardinality]string{
	One:        "one",
	Many:       "many",
	Exec:       "exec",
	ExecResult: "execresult",
	ExecRows:   "execrows",
	ExecLastID: "execlastid",
	CopyFrom:   "copyfrom",
	BatchExec:  "batchexec",
	BatchMany:  "batchmany",
	BatchOne:   "batchone",
}

func (c Cardinality) String() string {
	if name, ok := cardinalityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Cardinality(%d)", int(c))
}

func (c Cardinality) Valid() bool {
	_, ok := cardinalityNames[c]
	return ok
}

// Whether executing a query of this cardinality produces mapped rows.
func (c Cardinality) ReturnsRows() bool {
	return c == One || c == Many || c == ExecResult || c == BatchMany || c == BatchOne
}

func (c Cardinality) IsBatch() bool {
	return c == BatchExec || c == BatchMany || c == BatchOne
}

// Parses "one", ":one" and friends, case-insensitively.
func ParseCardinality(s string) (Cardinality, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ":"))
	for c, name := range cardinalityNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown cardinality %q", s)
}
