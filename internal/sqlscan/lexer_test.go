package sqlscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer(t *testing.T) {
	input := "SELECT name FROM notes WHERE age >= 25 -- trailing\n  AND tag = 'it''s'"
	toks, err := Tokens(input)
	require.NoError(t, err)

	var types []TokenType
	var raws []string
	for _, tok := range toks {
		types = append(types, tok.Type)
		raws = append(raws, tok.String())
	}
	assert.Equal(t, []TokenType{
		SELECT, IDENT, FROM, IDENT, WHERE, IDENT, OPERATOR, NUMERIC, IDENT, IDENT, OPERATOR, STRING,
	}, types)
	assert.Equal(t, []string{
		"SELECT", "name", "FROM", "notes", "WHERE", "age", ">=", "25", "AND", "tag", "=", "'it''s'",
	}, raws)
}

func TestLexerPositions(t *testing.T) {
	toks, err := Tokens("SELECT *\nFROM notes")
	require.NoError(t, err)
	require.Len(t, toks, 4)

	assert.Equal(t, 1, toks[1].Line)
	assert.Equal(t, 8, toks[1].Pos)
	assert.Equal(t, 2, toks[3].Line)
	assert.Equal(t, 6, toks[3].Pos)
}

func TestLexerQuotedIdentifiers(t *testing.T) {
	tests := []struct {
		input string
		name  string
	}{
		{`"My Table"`, "My Table"},
		{`"say ""hi"""`, `say "hi"`},
		{"`weird name`", "weird name"},
		{"[bracketed]", "bracketed"},
		{"plain_Ident1", "plain_Ident1"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			toks, err := Tokens(tt.input)
			require.NoError(t, err)
			require.Len(t, toks, 1)
			assert.Equal(t, IDENT, toks[0].Type)
			assert.Equal(t, tt.name, toks[0].Name())
		})
	}
}

func TestLexerLiteralsAndParams(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
	}{
		{"42", NUMERIC},
		{"3.14", NUMERIC},
		{".5", NUMERIC},
		{"1e-3", NUMERIC},
		{"0x1F", NUMERIC},
		{"?", PARAM},
		{"?2", PARAM},
		{":name", PARAM},
		{"@name", PARAM},
		{"$name", PARAM},
		{"->>", OPERATOR},
		{"||", OPERATOR},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			toks, err := Tokens(tt.input)
			require.NoError(t, err)
			require.Len(t, toks, 1)
			assert.Equal(t, tt.typ, toks[0].Type)
			assert.Equal(t, tt.input, toks[0].String())
		})
	}
}

func TestLexerComments(t *testing.T) {
	toks, err := Tokens("SELECT /* FROM hidden */ 1 -- FROM also_hidden")
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, SELECT, toks[0].Type)
	assert.Equal(t, "1", toks[1].String())
}

func TestLexerKeywordsAreCaseInsensitive(t *testing.T) {
	toks, err := Tokens("select x from y")
	require.NoError(t, err)
	assert.Equal(t, SELECT, toks[0].Type)
	assert.Equal(t, FROM, toks[2].Type)
}

func TestLexerErrors(t *testing.T) {
	for _, input := range []string{
		"SELECT 'unterminated",
		`SELECT "unterminated`,
		"SELECT [unterminated",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Tokens(input)
			require.Error(t, err)
			var syn *SyntaxError
			require.ErrorAs(t, err, &syn)
			assert.Equal(t, 8, syn.Pos)
			assert.True(t, strings.HasPrefix(syn.Msg, "unterminated"))
		})
	}
}

func TestScanReturnsEOFRepeatedly(t *testing.T) {
	l := NewLexer(strings.NewReader("x"))
	tok, err := l.Scan()
	require.NoError(t, err)
	assert.Equal(t, IDENT, tok.Type)
	for i := 0; i < 2; i++ {
		tok, err = l.Scan()
		require.NoError(t, err)
		assert.Equal(t, EOF, tok.Type)
	}
}
