// Package sql provides safety screening for generated SQL.
package sql

import (
	"errors"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrNotSelect indicates the statement is not a read-only SELECT.
	ErrNotSelect = errors.New("only SELECT statements are permitted")
	// ErrEmptyQuery indicates an empty query text.
	ErrEmptyQuery = errors.New("query text is empty")
)

// ScreenResult contains the normalized SQL and any screening error.
type ScreenResult struct {
	NormalizedSQL string
	Error         error
}

// Screen validates a generated query before it is released for execution:
// normalizes the trailing semicolon, rejects multiple statements, and
// requires a single SELECT (optionally prefixed by WITH).
func Screen(sqlQuery string) ScreenResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ScreenResult{Error: ErrEmptyQuery}
	}

	normalized := strings.TrimSpace(strings.TrimSuffix(sqlQuery, ";"))

	if hasSemicolonOutsideStrings(normalized) {
		return ScreenResult{Error: ErrMultipleStatements}
	}

	upper := strings.ToUpper(normalized)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ScreenResult{Error: ErrNotSelect}
	}

	return ScreenResult{NormalizedSQL: normalized}
}

// InjectionCheckResult describes a filter value that failed the injection check.
type InjectionCheckResult struct {
	IsSQLi      bool   // true if a SQL injection pattern was detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // the value that was checked
}

// CheckValueForInjection runs libinjection over a user-supplied filter value
// before it is quoted into generated SQL. Returns nil when the value is clean.
func CheckValueForInjection(value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals. Handles SQL-standard ('') and backslash escapes.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	var prev rune
	skipNext := false

	runes := []rune(sqlQuery)
	for i, char := range runes {
		if skipNext {
			skipNext = false
			prev = char
			continue
		}
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prev != '\\' {
				// '' is an escaped quote, not a terminator
				if i+1 < len(runes) && runes[i+1] == '\'' {
					skipNext = true
				} else {
					state = stateNormal
				}
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = char
	}
	return false
}
