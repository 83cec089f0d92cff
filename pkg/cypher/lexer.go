package cypher

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenKind classifies a lexed token.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokInteger
	tokFloat
	tokParam
	tokSymbol
)

// token is one lexeme. For keywords text is upper-cased; for strings it is
// the unescaped content; for identifiers and parameters it is the name.
type token struct {
	kind   tokenKind
	text   string
	offset int
	end    int
}

var keywords = map[string]bool{
	"MATCH": true, "OPTIONAL": true, "WHERE": true, "CREATE": true,
	"MERGE": true, "ON": true, "SET": true, "REMOVE": true, "DELETE": true,
	"DETACH": true, "RETURN": true, "DISTINCT": true, "ORDER": true,
	"BY": true, "ASC": true, "ASCENDING": true, "DESC": true,
	"DESCENDING": true, "SKIP": true, "LIMIT": true, "AS": true,
	"AND": true, "OR": true, "XOR": true, "NOT": true, "IS": true,
	"NULL": true, "TRUE": true, "FALSE": true, "IN": true,
	"STARTS": true, "ENDS": true, "WITH": true, "CONTAINS": true,
}

// two-character symbols, checked before single characters
var doubleSymbols = []string{"<>", "<=", ">=", "+=", "->", "<-", "!="}

// tokenize splits a query into tokens. Comments (// and /* */) and
// whitespace are dropped. Backquoted identifiers keep their exact text and
// never become keywords.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue

		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, syntaxErrorAt(src, i, "unterminated comment")
			}
			i += end + 4
			continue

		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: text, offset: i, end: next})
			i = next
			continue

		case c == '`':
			end := strings.IndexByte(src[i+1:], '`')
			if end < 0 {
				return nil, syntaxErrorAt(src, i, "unterminated quoted identifier")
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[i+1 : i+1+end], offset: i, end: i + end + 2})
			i += end + 2
			continue

		case c == '$':
			start := i
			i++
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			if i == start+1 {
				return nil, syntaxErrorAt(src, start, "parameter name expected after $")
			}
			tokens = append(tokens, token{kind: tokParam, text: src[start+1 : i], offset: start, end: i})
			continue

		case c >= '0' && c <= '9':
			tok, next := lexNumber(src, i)
			tokens = append(tokens, tok)
			i = next
			continue

		case isIdentStart(src, i):
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			word := src[start:i]
			upper := strings.ToUpper(word)
			if keywords[upper] {
				tokens = append(tokens, token{kind: tokKeyword, text: upper, offset: start, end: i})
			} else {
				tokens = append(tokens, token{kind: tokIdent, text: word, offset: start, end: i})
			}
			continue
		}

		matched := false
		for _, sym := range doubleSymbols {
			if strings.HasPrefix(src[i:], sym) {
				tokens = append(tokens, token{kind: tokSymbol, text: sym, offset: i, end: i + 2})
				i += 2
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		switch c {
		case '(', ')', '[', ']', '{', '}', ':', ',', '.', '=', '<', '>', '-', '+', '*', '/', '%', '|':
			tokens = append(tokens, token{kind: tokSymbol, text: string(c), offset: i, end: i + 1})
			i++
		default:
			return nil, syntaxErrorAt(src, i, "unexpected character")
		}
	}
	tokens = append(tokens, token{kind: tokEOF, offset: len(src), end: len(src)})
	return tokens, nil
}

// canonicalText rebuilds the source of tokens with comments dropped and each
// gap between two tokens written as a single space. Lexing the result yields
// the same tokens, so equal canonical texts always parse to the same query.
func canonicalText(src string, tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		if t.kind == tokEOF {
			break
		}
		if i > 0 && tokens[i-1].end < t.offset {
			b.WriteByte(' ')
		}
		b.WriteString(src[t.offset:t.end])
	}
	return b.String()
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(src) {
			switch src[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(src[i+1])
			default:
				b.WriteByte('\\')
				b.WriteByte(src[i+1])
			}
			i += 2
			continue
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, syntaxErrorAt(src, start, "unterminated string literal")
}

func lexNumber(src string, start int) (token, int) {
	i := start
	for i < len(src) && src[i] >= '0' && src[i] <= '9' {
		i++
	}
	kind := tokInteger
	// A dot only continues the number when a digit follows; "1..2" and
	// "n.1" style input stay separate tokens.
	if i+1 < len(src) && src[i] == '.' && src[i+1] >= '0' && src[i+1] <= '9' {
		kind = tokFloat
		i++
		for i < len(src) && src[i] >= '0' && src[i] <= '9' {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			kind = tokFloat
			i = j
			for i < len(src) && src[i] >= '0' && src[i] <= '9' {
				i++
			}
		}
	}
	return token{kind: kind, text: src[start:i], offset: start, end: i}, i
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdentStart(src string, i int) bool {
	r, _ := utf8.DecodeRuneInString(src[i:])
	return r == '_' || unicode.IsLetter(r)
}

// syntaxErrorAt builds a SyntaxError whose fragment is the source text at
// offset, cut at a readable length.
func syntaxErrorAt(src string, offset int, msg string) *SyntaxError {
	const maxFragment = 24
	fragment := ""
	if offset < len(src) {
		fragment = src[offset:]
		if len(fragment) > maxFragment {
			fragment = fragment[:maxFragment]
		}
	}
	return &SyntaxError{Message: msg, Fragment: fragment, Offset: offset}
}
