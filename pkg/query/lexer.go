package query

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenKind classifies a lexical token.
type TokenKind int

// Token kinds.
const (
	TokIdent TokenKind = iota
	TokString
	TokNumber
	TokParam
	TokPunct
	TokOp
)

// Token is one lexical unit of a statement. Start and End are byte offsets
// into the statement so rewriters can keep the original spacing.
type Token struct {
	Kind   TokenKind
	Text   string // Identifiers are unquoted; strings are unescaped.
	Quoted bool   // Identifier was written with backticks or double quotes.
	Start  int
	End    int
}

// Is reports whether t is the keyword or punctuation s, ignoring case.
func (t Token) Is(s string) bool {
	switch t.Kind {
	case TokIdent:
		return !t.Quoted && strings.EqualFold(t.Text, s)
	case TokPunct, TokOp:
		return t.Text == s
	default:
		return false
	}
}

// Lex splits a statement into tokens. Comments are not part of the dialect
// and are rejected along with any other unexpected character.
func Lex(stmt string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(stmt) {
		c := stmt[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '?':
			toks = append(toks, Token{Kind: TokParam, Text: "?", Start: i, End: i + 1})
			i++
		case c == '\'':
			text, end, err := lexQuoted(stmt, i, '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokString, Text: text, Start: i, End: end})
			i = end
		case c == '`' || c == '"':
			text, end, err := lexQuoted(stmt, i, c)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokIdent, Text: text, Quoted: true, Start: i, End: end})
			i = end
		case c >= '0' && c <= '9':
			j := i
			for j < len(stmt) && (stmt[j] >= '0' && stmt[j] <= '9' || stmt[j] == '.') {
				j++
			}
			toks = append(toks, Token{Kind: TokNumber, Text: stmt[i:j], Start: i, End: j})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(stmt) && isIdentPart(rune(stmt[j])) {
				j++
			}
			toks = append(toks, Token{Kind: TokIdent, Text: stmt[i:j], Start: i, End: j})
			i = j
		case strings.ContainsRune("(),.*;", rune(c)):
			toks = append(toks, Token{Kind: TokPunct, Text: string(c), Start: i, End: i + 1})
			i++
		case strings.ContainsRune("=<>!+-", rune(c)):
			j := i + 1
			if j < len(stmt) {
				two := stmt[i : j+1]
				if two == "!=" || two == "<>" || two == "<=" || two == ">=" {
					j++
				}
			}
			if stmt[i:j] == "!" {
				return nil, fmt.Errorf("unexpected '!' at offset %d", i)
			}
			if c == '-' && j < len(stmt) && stmt[j] == '-' {
				return nil, fmt.Errorf("comment at offset %d", i)
			}
			toks = append(toks, Token{Kind: TokOp, Text: stmt[i:j], Start: i, End: j})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

// lexQuoted reads a quoted run starting at stmt[start] == q. A doubled
// quote character escapes itself.
func lexQuoted(stmt string, start int, q byte) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(stmt) {
		if stmt[i] == q {
			if i+1 < len(stmt) && stmt[i+1] == q {
				b.WriteByte(q)
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(stmt[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated quote starting at offset %d", start)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
