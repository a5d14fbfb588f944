// Package sqlclamp bounds generated SQL before it reaches the database.
//
// Clamp rewrites the outermost select list to at most MaxResultColumns items
// and the outermost LIMIT to at most MaxResultRows, appending one when absent.
// Validate rejects anything that is not a single read-only query. Both work on
// a token stream, so literals, comments and subqueries are left alone.
package sqlclamp

import (
	"sort"
	"strconv"
	"strings"
)

const (
	MaxResultRows    = 300
	MaxResultColumns = 20
)

type edit struct {
	start, end int
	repl       string
}

var selectListTerminators = map[string]struct{}{
	"FROM": {}, "WHERE": {}, "GROUP": {}, "HAVING": {}, "ORDER": {}, "LIMIT": {}, "OFFSET": {},
	"UNION": {}, "INTERSECT": {}, "EXCEPT": {}, "WINDOW": {}, "INTO": {}, "FETCH": {}, "FOR": {},
	"QUALIFY": {},
}

// Clamp is pure and idempotent. Input the tokenizer cannot read is returned
// unchanged; Validate rejects such input before execution.
func Clamp(sql string) string {
	toks, err := tokenize(sql)
	if err != nil {
		return sql
	}

	var edits []edit
	for i, t := range toks {
		if t.depth == 0 && t.isKeyword(sql, "SELECT") {
			if e, ok := clampSelectList(sql, toks, i); ok {
				edits = append(edits, e)
			}
		}
	}

	e, found := clampLimit(sql, toks)
	if found && e != nil {
		edits = append(edits, *e)
	}

	out := applyEdits(sql, edits)
	if found {
		return out
	}

	// No row limit: drop trailing semicolons and trivia, then append one.
	last := -1
	for i, t := range toks {
		if !t.trivia() && t.kind != tokSemicolon {
			last = i
		}
	}
	if last == -1 {
		return out
	}
	removed := 0
	for _, e := range edits {
		removed += (e.end - e.start) - len(e.repl)
	}
	body := out[:toks[last].end-removed]
	return body + " LIMIT " + strconv.Itoa(MaxResultRows) + ";"
}

// clampSelectList trims the select list that follows toks[sel] to
// MaxResultColumns items.
func clampSelectList(sql string, toks []token, sel int) (edit, bool) {
	i := nextSignificant(toks, sel+1)
	if i < len(toks) && toks[i].isKeyword(sql, "DISTINCT") {
		i = nextSignificant(toks, i+1)
		if i < len(toks) && toks[i].isKeyword(sql, "ON") {
			j := nextSignificant(toks, i+1)
			if j < len(toks) && toks[j].kind == tokLParen {
				i = nextSignificant(toks, matchingParen(toks, j)+1)
			}
		}
	} else if i < len(toks) && toks[i].isKeyword(sql, "ALL") {
		i = nextSignificant(toks, i+1)
	}

	var commas []int
	end := i
	for ; end < len(toks); end++ {
		t := toks[end]
		if t.depth != 0 {
			continue
		}
		if t.kind == tokSemicolon {
			break
		}
		if t.kind == tokWord {
			if _, ok := selectListTerminators[strings.ToUpper(t.text(sql))]; ok {
				break
			}
		}
		if t.kind == tokComma {
			commas = append(commas, end)
		}
	}

	if len(commas)+1 <= MaxResultColumns {
		return edit{}, false
	}
	cut := commas[MaxResultColumns-1]
	lastItem := prevSignificant(toks, end)
	return edit{start: toks[cut].start, end: toks[lastItem].end}, true
}

// clampLimit looks at the last top-level LIMIT (or FETCH FIRST) clause. found
// reports whether one exists; the edit is nil when its count is already
// within bounds or is not a literal.
func clampLimit(sql string, toks []token) (e *edit, found bool) {
	at := -1
	for i, t := range toks {
		if t.depth != 0 {
			continue
		}
		if t.isKeyword(sql, "LIMIT") {
			at = nextSignificant(toks, i+1)
		} else if t.isKeyword(sql, "FETCH") {
			j := nextSignificant(toks, i+1)
			if j < len(toks) && (toks[j].isKeyword(sql, "FIRST") || toks[j].isKeyword(sql, "NEXT")) {
				at = nextSignificant(toks, j+1)
			}
		}
	}
	if at == -1 {
		return nil, false
	}
	if at >= len(toks) {
		return nil, true
	}

	t := toks[at]
	switch {
	case t.isKeyword(sql, "ALL"):
		return &edit{start: t.start, end: t.end, repl: strconv.Itoa(MaxResultRows)}, true
	case t.kind == tokNumber:
		n, ok := parseCount(t.text(sql))
		if ok && n <= MaxResultRows {
			return nil, true
		}
		if !ok && strings.ContainsAny(t.text(sql), ".eE") {
			return nil, true
		}
		return &edit{start: t.start, end: t.end, repl: strconv.Itoa(MaxResultRows)}, true
	}
	return nil, true
}

// parseCount parses an integer literal. Values too large for int64 report
// ok=false with no fractional part, which callers treat as over the cap.
func parseCount(s string) (int64, bool) {
	s = strings.ReplaceAll(s, "_", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func matchingParen(toks []token, open int) int {
	d := toks[open].depth
	for i := open + 1; i < len(toks); i++ {
		if toks[i].kind == tokRParen && toks[i].depth == d {
			return i
		}
	}
	return len(toks) - 1
}

func applyEdits(sql string, edits []edit) string {
	if len(edits) == 0 {
		return sql
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for _, e := range edits {
		sql = sql[:e.start] + e.repl + sql[e.end:]
	}
	return sql
}
