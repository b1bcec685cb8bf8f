package sqlscan

import (
	"fmt"
	"strings"
)

type Token struct {
	// Type categorizes the token.
	Type TokenType
	// Raw is the original bytes for this token, quotes included.
	Raw []byte
	// Line is the 1-indexed line on which this token starts.
	Line int
	// Pos is the 1-indexed position on its line where this token starts.
	Pos int
}

func (t *Token) String() string {
	if t.Type == EOF {
		return "EOF"
	}
	return string(t.Raw)
}

// Name returns the identifier the token denotes, with any quoting removed.
// For non-identifiers it returns the raw text.
func (t *Token) Name() string {
	raw := string(t.Raw)
	if t.Type != IDENT || len(raw) < 2 {
		return raw
	}
	switch open, end := raw[0], raw[len(raw)-1]; {
	case open == '"' && end == '"':
		return strings.ReplaceAll(raw[1:len(raw)-1], `""`, `"`)
	case open == '`' && end == '`':
		return strings.ReplaceAll(raw[1:len(raw)-1], "``", "`")
	case open == '[' && end == ']':
		return raw[1 : len(raw)-1]
	}
	return raw
}

// TokenType is the lexical class of a token.
type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF
	COMMENT
	WS

	// Symbols
	COMMA     // ,
	DOT       // .
	LPAREN    // (
	RPAREN    // )
	SEMICOLON // ;
	OPERATOR  // + - * / || <= ...

	// Keywords that shape table references
	SELECT
	FROM
	JOIN
	WITH
	RECURSIVE
	AS
	ON
	WHERE
	GROUP
	ORDER
	HAVING
	LIMIT
	WINDOW
	UNION
	EXCEPT
	INTERSECT
	VALUES
	RETURNING

	// Literals
	STRING  // 'foo'
	NUMERIC // 123.456, 0x1F, 1e3
	PARAM   // ?, ?1, :name, @name, $name

	// Identifiers
	IDENT // notes, "my table", [x], `x`
)

var tokenNames = [...]string{
	ILLEGAL:   "ILLEGAL",
	EOF:       "EOF",
	COMMENT:   "COMMENT",
	WS:        "WS",
	COMMA:     ",",
	DOT:       ".",
	LPAREN:    "(",
	RPAREN:    ")",
	SEMICOLON: ";",
	OPERATOR:  "OPERATOR",
	SELECT:    "SELECT",
	FROM:      "FROM",
	JOIN:      "JOIN",
	WITH:      "WITH",
	RECURSIVE: "RECURSIVE",
	AS:        "AS",
	ON:        "ON",
	WHERE:     "WHERE",
	GROUP:     "GROUP",
	ORDER:     "ORDER",
	HAVING:    "HAVING",
	LIMIT:     "LIMIT",
	WINDOW:    "WINDOW",
	UNION:     "UNION",
	EXCEPT:    "EXCEPT",
	INTERSECT: "INTERSECT",
	VALUES:    "VALUES",
	RETURNING: "RETURNING",
	STRING:    "STRING",
	NUMERIC:   "NUMERIC",
	PARAM:     "PARAM",
	IDENT:     "IDENT",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// IsKeyword reports whether t is one of the recognised keywords.
func (t TokenType) IsKeyword() bool {
	return t >= SELECT && t <= RETURNING
}

var keywords = map[string]TokenType{}

func init() {
	for t := SELECT; t <= RETURNING; t++ {
		keywords[tokenNames[t]] = t
	}
}

// symbols are matched in order, so longer operators come first.
var symbols = []struct {
	str string
	typ TokenType
}{
	{"->>", OPERATOR},
	{"||", OPERATOR},
	{"<=", OPERATOR},
	{">=", OPERATOR},
	{"!=", OPERATOR},
	{"<>", OPERATOR},
	{"==", OPERATOR},
	{"<<", OPERATOR},
	{">>", OPERATOR},
	{"->", OPERATOR},
	{",", COMMA},
	{".", DOT},
	{"(", LPAREN},
	{")", RPAREN},
	{";", SEMICOLON},
	{"*", OPERATOR},
	{"+", OPERATOR},
	{"-", OPERATOR},
	{"/", OPERATOR},
	{"%", OPERATOR},
	{"<", OPERATOR},
	{">", OPERATOR},
	{"=", OPERATOR},
	{"&", OPERATOR},
	{"|", OPERATOR},
	{"~", OPERATOR},
}

func isWS(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isIdent(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
