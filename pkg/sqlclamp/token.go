package sqlclamp

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokQuotedIdent
	tokParam
	tokLineComment
	tokBlockComment
	tokSpace
	tokLParen
	tokRParen
	tokComma
	tokSemicolon
	tokOther
)

type token struct {
	kind  tokenKind
	start int
	end   int
	depth int // paren depth at the token; a closing paren carries the outer depth
}

func (t token) text(src string) string {
	return src[t.start:t.end]
}

func (t token) trivia() bool {
	return t.kind == tokSpace || t.kind == tokLineComment || t.kind == tokBlockComment
}

func (t token) isKeyword(src string, kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text(src), kw)
}

// tokenize splits src into tokens covering every byte. It understands
// single-quoted strings (with '' and E'' escapes), double-quoted and backtick
// identifiers, dollar-quoted bodies, positional parameters and both comment
// styles.
func tokenize(src string) ([]token, error) {
	var toks []token
	depth := 0
	i := 0
	for i < len(src) {
		c := src[i]
		start := i
		kind := tokOther
		d := depth

		switch {
		case isSpace(c):
			for i < len(src) && isSpace(src[i]) {
				i++
			}
			kind = tokSpace
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			kind = tokLineComment
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end == -1 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", start)
			}
			i += 2 + end + 2
			kind = tokBlockComment
		case c == '\'':
			backslash := len(toks) > 0 && toks[len(toks)-1].end == start &&
				toks[len(toks)-1].kind == tokWord && strings.EqualFold(toks[len(toks)-1].text(src), "e")
			end, err := scanQuoted(src, i, '\'', backslash)
			if err != nil {
				return nil, err
			}
			i = end
			kind = tokString
		case c == '"' || c == '`':
			end, err := scanQuoted(src, i, c, false)
			if err != nil {
				return nil, err
			}
			i = end
			kind = tokQuotedIdent
		case c == '$':
			end, k, err := scanDollar(src, i)
			if err != nil {
				return nil, err
			}
			i = end
			kind = k
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == '_') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			kind = tokNumber
		case isWordStart(c):
			for i < len(src) && isWordPart(src[i]) {
				i++
			}
			kind = tokWord
		case c == '(':
			i++
			kind = tokLParen
			depth++
		case c == ')':
			i++
			kind = tokRParen
			if depth > 0 {
				depth--
			}
			d = depth
		case c == ',':
			i++
			kind = tokComma
		case c == ';':
			i++
			kind = tokSemicolon
		default:
			i++
		}

		toks = append(toks, token{kind: kind, start: start, end: i, depth: d})
	}
	return toks, nil
}

func scanQuoted(src string, i int, quote byte, backslash bool) (int, error) {
	start := i
	i++
	for i < len(src) {
		switch {
		case backslash && src[i] == '\\':
			i += 2
			continue
		case src[i] == quote:
			if i+1 < len(src) && src[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	if quote == '\'' {
		return 0, fmt.Errorf("unterminated string literal at offset %d", start)
	}
	return 0, fmt.Errorf("unterminated quoted identifier at offset %d", start)
}

// scanDollar handles $1 parameters and $tag$ ... $tag$ bodies.
func scanDollar(src string, i int) (int, tokenKind, error) {
	start := i
	j := i + 1
	if j < len(src) && isDigit(src[j]) {
		for j < len(src) && isDigit(src[j]) {
			j++
		}
		return j, tokParam, nil
	}
	for j < len(src) && isWordPart(src[j]) && src[j] != '$' {
		j++
	}
	if j >= len(src) || src[j] != '$' {
		return i + 1, tokOther, nil
	}
	tag := src[start : j+1]
	end := strings.Index(src[j+1:], tag)
	if end == -1 {
		return 0, tokOther, fmt.Errorf("unterminated dollar-quoted string at offset %d", start)
	}
	return j + 1 + end + len(tag), tokString, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}

// nextSignificant returns the index of the first non-trivia token at or after
// i, or len(toks).
func nextSignificant(toks []token, i int) int {
	for i < len(toks) && toks[i].trivia() {
		i++
	}
	return i
}

// prevSignificant returns the index of the last non-trivia token before i, or
// -1.
func prevSignificant(toks []token, i int) int {
	i--
	for i >= 0 && toks[i].trivia() {
		i--
	}
	return i
}
