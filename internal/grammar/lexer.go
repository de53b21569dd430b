package grammar

import (
	"fmt"
	"strings"

	"github.com/roach88/sensornet/internal/ir"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTag
	tokLParen
	tokRParen
	tokNumber
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokTag:
		return "tag"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokNumber:
		return "number"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%q", t.text)
}

// tags is every single-character tag the grammar knows.
const tags = "SFPAMCR=<+-*/!@byilfn"

// lex splits s into tokens. Whitespace separates tokens and is otherwise
// ignored. A '-' directly followed by a digit or '.' starts a number;
// anywhere else it is the Subtract tag.
func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isDigit(c) || c == '.' || (c == '-' && i+1 < len(s) && (isDigit(s[i+1]) || s[i+1] == '.')):
			start := i
			i++
			for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: s[start:i], pos: start})
		case isTag(c):
			toks = append(toks, token{kind: tokTag, text: s[i : i+1], pos: i})
			i++
		default:
			return nil, syntaxError(i, "unexpected character %q", c)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(s)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isTag(c byte) bool { return strings.IndexByte(tags, c) >= 0 }

func syntaxError(pos int, format string, args ...any) *ir.Error {
	return ir.DecodeError("parse", "offset %d: %s", pos, fmt.Sprintf(format, args...))
}
