// Package sqlscan tokenizes SQLite-flavoured SQL far enough to find the
// tables a query reads and to count its statements.
package sqlscan

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// eof represents a marker byte for the end of the reader.
const eof = byte(0)

// SyntaxError reports a lexing failure such as an unterminated string.
type SyntaxError struct {
	Line int
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, pos %d: %s", e.Line, e.Pos, e.Msg)
}

// Lexer represents a lexical scanner.
type Lexer struct {
	r   *bufio.Reader
	eof bool

	line, pos         int
	prevLine, prevPos int

	// start of the token being scanned
	startLine, startPos int
}

// NewLexer returns a new instance of Lexer.
func NewLexer(r io.Reader) *Lexer {
	return &Lexer{
		r:    bufio.NewReader(r),
		line: 1,
		pos:  1,
	}
}

// Scan returns the next token. At the end of input it returns a token of
// type EOF on every call.
func (l *Lexer) Scan() (*Token, error) {
	l.startLine, l.startPos = l.line, l.pos
	for _, scan := range []func() (*Token, error){
		l.scanEOF,
		l.scanComment,
		l.scanWS,
		l.scanString,
		l.scanNumeric,
		l.scanParam,
		l.scanQuotedIdent,
		l.scanSymbol,
		l.scanIdent,
	} {
		tok, err := scan()
		if err != nil {
			return nil, err
		}
		if tok != nil {
			return tok, nil
		}
	}
	return l.scanIllegal()
}

// Tokens scans s to the end and returns every token except whitespace,
// comments and the final EOF.
func Tokens(s string) ([]*Token, error) {
	l := NewLexer(strings.NewReader(s))
	var toks []*Token
	for {
		tok, err := l.Scan()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case EOF:
			return toks, nil
		case WS, COMMENT:
			continue
		}
		toks = append(toks, tok)
	}
}

func (l *Lexer) newToken(typ TokenType, raw []byte) (*Token, error) {
	return &Token{Type: typ, Raw: raw, Line: l.startLine, Pos: l.startPos}, nil
}

func (l *Lexer) errorf(format string, args ...any) error {
	return &SyntaxError{Line: l.startLine, Pos: l.startPos, Msg: fmt.Sprintf(format, args...)}
}

func (l *Lexer) scanEOF() (*Token, error) {
	ch, err := l.peek()
	if err != nil {
		return nil, err
	}
	if ch != eof {
		return nil, nil
	}
	return l.newToken(EOF, nil)
}

func (l *Lexer) scanComment() (*Token, error) {
	peek, err := l.peekN(2)
	if err != nil {
		return nil, err
	}
	switch string(peek) {
	case "--":
		var raw []byte
		for {
			ch, err := l.read()
			if err != nil {
				return nil, err
			}
			if ch == eof {
				return l.newToken(COMMENT, raw)
			}
			if ch == '\n' {
				if err := l.unread(); err != nil {
					return nil, err
				}
				return l.newToken(COMMENT, raw)
			}
			raw = append(raw, ch)
		}
	case "/*":
		raw, err := l.readN(2)
		if err != nil {
			return nil, err
		}
		for {
			ch, err := l.read()
			if err != nil {
				return nil, err
			}
			if ch == eof {
				// SQLite accepts an unterminated block comment at the end
				// of input.
				return l.newToken(COMMENT, raw)
			}
			raw = append(raw, ch)
			if ch == '/' && len(raw) >= 4 && raw[len(raw)-2] == '*' {
				return l.newToken(COMMENT, raw)
			}
		}
	default:
		return nil, nil
	}
}

func (l *Lexer) scanWS() (*Token, error) {
	var raw []byte
	for {
		ch, err := l.peek()
		if err != nil {
			return nil, err
		}
		if !isWS(ch) {
			break
		}
		if _, err := l.read(); err != nil {
			return nil, err
		}
		raw = append(raw, ch)
	}
	if raw == nil {
		return nil, nil
	}
	return l.newToken(WS, raw)
}

// scans a single-quoted string literal
func (l *Lexer) scanString() (*Token, error) {
	quote, err := l.peek()
	if err != nil {
		return nil, err
	}
	if quote != '\'' {
		return nil, nil
	}
	raw, err := l.scanQuote('\'', '\'')
	if err != nil {
		return nil, err
	}
	return l.newToken(STRING, raw)
}

// scans "ident", `ident` and [ident]
func (l *Lexer) scanQuotedIdent() (*Token, error) {
	open, err := l.peek()
	if err != nil {
		return nil, err
	}
	var raw []byte
	switch open {
	case '"', '`':
		raw, err = l.scanQuote(open, open)
	case '[':
		raw, err = l.scanQuote('[', ']')
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l.newToken(IDENT, raw)
}

// scanQuote reads a quoted run. A doubled closing quote is an escaped quote
// (except for brackets, which cannot be escaped).
func (l *Lexer) scanQuote(open, end byte) ([]byte, error) {
	if _, err := l.read(); err != nil {
		return nil, err
	}
	raw := []byte{open}
	for {
		ch, err := l.read()
		if err != nil {
			return nil, err
		}
		switch ch {
		case eof:
			if open == '\'' {
				return nil, l.errorf("unterminated string literal")
			}
			return nil, l.errorf("unterminated quoted identifier")
		case end:
			raw = append(raw, ch)
			if open == '[' {
				return raw, nil
			}
			next, err := l.peek()
			if err != nil {
				return nil, err
			}
			if next != end {
				return raw, nil
			}
			if _, err := l.read(); err != nil {
				return nil, err
			}
			raw = append(raw, next)
		default:
			raw = append(raw, ch)
		}
	}
}

// scans a number literal: 12, 1.5, .5, 1e-3, 0x1F
func (l *Lexer) scanNumeric() (*Token, error) {
	first, err := l.peekAfter(0)
	if err != nil {
		return nil, err
	}
	second, err := l.peekAfter(1)
	if err != nil {
		return nil, err
	}
	if !isDigit(first) && !(first == '.' && isDigit(second)) {
		return nil, nil
	}

	if first == '0' && (second == 'x' || second == 'X') {
		n := 2
		for {
			ch, err := l.peekAfter(n)
			if err != nil {
				return nil, err
			}
			if !isDigit(ch) && !strings.ContainsRune("abcdefABCDEF", rune(ch)) {
				break
			}
			n++
		}
		raw, err := l.readN(n)
		if err != nil {
			return nil, err
		}
		return l.newToken(NUMERIC, raw)
	}

	var (
		n        int
		decimal  bool
		exponent bool
	)
loop:
	for {
		ch, err := l.peekAfter(n)
		if err != nil {
			return nil, err
		}
		switch {
		case isDigit(ch):
		case ch == '.' && !decimal && !exponent:
			decimal = true
		case (ch == 'e' || ch == 'E') && !exponent:
			next, err := l.peekAfter(n + 1)
			if err != nil {
				return nil, err
			}
			if next == '+' || next == '-' {
				n++
			}
			exponent = true
		default:
			break loop
		}
		n++
	}
	raw, err := l.readN(n)
	if err != nil {
		return nil, err
	}
	return l.newToken(NUMERIC, raw)
}

// scans bind parameters: ?, ?NNN, :name, @name, $name
func (l *Lexer) scanParam() (*Token, error) {
	ch, err := l.peek()
	if err != nil {
		return nil, err
	}
	switch ch {
	case '?':
		n := 1
		for {
			d, err := l.peekAfter(n)
			if err != nil {
				return nil, err
			}
			if !isDigit(d) {
				break
			}
			n++
		}
		raw, err := l.readN(n)
		if err != nil {
			return nil, err
		}
		return l.newToken(PARAM, raw)
	case ':', '@', '$':
		next, err := l.peekAfter(1)
		if err != nil {
			return nil, err
		}
		if !isIdent(next) {
			return nil, nil
		}
		n := 1
		for {
			c, err := l.peekAfter(n)
			if err != nil {
				return nil, err
			}
			if !isIdent(c) {
				break
			}
			n++
		}
		raw, err := l.readN(n)
		if err != nil {
			return nil, err
		}
		return l.newToken(PARAM, raw)
	}
	return nil, nil
}

func (l *Lexer) scanSymbol() (*Token, error) {
	for _, sym := range symbols {
		n := len(sym.str)
		peek, err := l.peekN(n)
		if err != nil {
			return nil, err
		}
		if string(peek) == sym.str {
			raw, err := l.readN(n)
			if err != nil {
				return nil, err
			}
			return l.newToken(sym.typ, raw)
		}
	}
	return nil, nil
}

// scans a bare identifier or keyword
func (l *Lexer) scanIdent() (*Token, error) {
	ch, err := l.peek()
	if err != nil {
		return nil, err
	}
	if !isIdentStart(ch) {
		return nil, nil
	}
	n := 1
	for {
		c, err := l.peekAfter(n)
		if err != nil {
			return nil, err
		}
		if !isIdent(c) {
			break
		}
		n++
	}
	raw, err := l.readN(n)
	if err != nil {
		return nil, err
	}
	if typ, ok := keywords[strings.ToUpper(string(raw))]; ok {
		return l.newToken(typ, raw)
	}
	return l.newToken(IDENT, raw)
}

func (l *Lexer) scanIllegal() (*Token, error) {
	ch, err := l.read()
	if err != nil {
		return nil, err
	}
	return l.newToken(ILLEGAL, []byte{ch})
}

// read reads the next byte from the buffered reader.
// Returns eof at the end of input.
func (l *Lexer) read() (byte, error) {
	if l.eof {
		return eof, nil
	}
	ch, err := l.r.ReadByte()
	if err == io.EOF {
		l.eof = true
		return eof, nil
	}
	if err != nil {
		return eof, err
	}
	l.prevLine, l.prevPos = l.line, l.pos
	if ch == '\n' {
		l.line++
		l.pos = 1
	} else {
		l.pos++
	}
	return ch, nil
}

func (l *Lexer) readN(n int) ([]byte, error) {
	var read []byte
	for i := 0; i < n; i++ {
		ch, err := l.read()
		if err != nil {
			return nil, err
		}
		if ch == eof {
			break
		}
		read = append(read, ch)
	}
	return read, nil
}

// unread places the previously read byte back on the reader.
func (l *Lexer) unread() error {
	if err := l.r.UnreadByte(); err != nil {
		return err
	}
	l.line, l.pos = l.prevLine, l.prevPos
	return nil
}

func (l *Lexer) peek() (byte, error) {
	return l.peekAfter(0)
}

// peekN peeks up to n bytes. Near the end of input the result may be
// shorter than n.
func (l *Lexer) peekN(n int) ([]byte, error) {
	peek, err := l.r.Peek(n)
	if err == io.EOF || err == bufio.ErrBufferFull {
		return peek, nil
	}
	return peek, err
}

// peekAfter returns the byte n positions ahead, or eof.
func (l *Lexer) peekAfter(n int) (byte, error) {
	peek, err := l.peekN(n + 1)
	if err != nil {
		return eof, err
	}
	if len(peek) != n+1 {
		return eof, nil
	}
	return peek[n], nil
}
