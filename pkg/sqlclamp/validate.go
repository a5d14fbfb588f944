package sqlclamp

import (
	"fmt"
	"strings"
)

// ValidationError explains why a query was rejected before execution.
type ValidationError struct {
	Reason string
	SQL    string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + e.Reason
}

var readOnlyLeads = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "VALUES": {}, "TABLE": {},
}

var writeKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
	"TRUNCATE": {}, "GRANT": {}, "REVOKE": {}, "COPY": {},
}

// Validate accepts exactly one read-only query.
func Validate(sql string) error {
	reject := func(format string, args ...any) error {
		return &ValidationError{Reason: fmt.Sprintf(format, args...), SQL: sql}
	}

	if strings.TrimSpace(sql) == "" {
		return reject("empty query")
	}
	toks, err := tokenize(sql)
	if err != nil {
		return reject("%v", err)
	}

	statements := 0
	inStatement := false
	open := 0
	for _, t := range toks {
		switch {
		case t.kind == tokSemicolon && t.depth == 0:
			inStatement = false
			continue
		case t.kind == tokLParen:
			open++
		case t.kind == tokRParen:
			open--
			if open < 0 {
				return reject("unbalanced parentheses")
			}
		}
		if !t.trivia() && !inStatement {
			statements++
			inStatement = true
		}
	}
	if open != 0 {
		return reject("unbalanced parentheses")
	}
	switch {
	case statements == 0:
		return reject("empty query")
	case statements > 1:
		return reject("multiple statements are not allowed")
	}

	lead := nextSignificant(toks, 0)
	for lead < len(toks) && toks[lead].kind == tokLParen {
		lead = nextSignificant(toks, lead+1)
	}
	if lead >= len(toks) || toks[lead].kind != tokWord {
		return reject("only read-only queries are allowed")
	}
	if _, ok := readOnlyLeads[strings.ToUpper(toks[lead].text(sql))]; !ok {
		return reject("only read-only queries are allowed, got %s", strings.ToUpper(toks[lead].text(sql)))
	}

	for i, t := range toks {
		if t.kind != tokWord {
			continue
		}
		word := strings.ToUpper(t.text(sql))
		if _, ok := writeKeywords[word]; ok {
			prev := prevSignificant(toks, i)
			if t.depth == 0 || (prev >= 0 && toks[prev].kind == tokLParen) {
				return reject("statement contains %s", word)
			}
		}
		if t.depth == 0 && word == "INTO" {
			return reject("SELECT INTO is not allowed")
		}
	}

	if at, ok := topLevelLimitValue(sql, toks); ok {
		if at >= len(toks) {
			return reject("LIMIT without a value")
		}
		v := toks[at]
		if !v.isKeyword(sql, "ALL") && (v.kind != tokNumber || strings.ContainsAny(v.text(sql), ".eE")) {
			return reject("LIMIT must be an integer literal")
		}
	}

	return nil
}

func topLevelLimitValue(sql string, toks []token) (int, bool) {
	at, found := -1, false
	for i, t := range toks {
		if t.depth == 0 && t.isKeyword(sql, "LIMIT") {
			at, found = nextSignificant(toks, i+1), true
		}
	}
	return at, found
}
