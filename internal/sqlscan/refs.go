package sqlscan

import "strings"

// TableRef is a table named after FROM or JOIN.
type TableRef struct {
	// Schema is the qualifier in schema.table, if any.
	Schema string
	Name   string
	Line   int
	Pos    int
}

// Statements returns the number of non-empty statements in query.
func Statements(query string) (int, error) {
	toks, err := Tokens(query)
	if err != nil {
		return 0, err
	}
	n, open := 0, false
	for _, tok := range toks {
		if tok.Type == SEMICOLON {
			open = false
			continue
		}
		if !open {
			open = true
			n++
		}
	}
	return n, nil
}

// Verb returns the upper-cased keyword that decides what the first statement
// in query does. For WITH queries it is the keyword following the common
// table expressions, so "WITH x AS (...) DELETE ..." reports DELETE.
// An empty query yields "".
func Verb(query string) (string, error) {
	toks, err := Tokens(query)
	if err != nil {
		return "", err
	}
	for len(toks) > 0 && toks[0].Type == SEMICOLON {
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return "", nil
	}
	if toks[0].Type != WITH {
		return strings.ToUpper(toks[0].String()), nil
	}
	depth := 0
	for i, tok := range toks {
		switch tok.Type {
		case LPAREN:
			depth++
			continue
		case RPAREN:
			depth--
			continue
		}
		if depth != 0 || i == 0 || toks[i-1].Type != RPAREN {
			continue
		}
		switch tok.Type {
		case COMMA, AS:
			continue
		}
		return strings.ToUpper(tok.String()), nil
	}
	return "WITH", nil
}

// TableRefs returns the tables query reads, in order of appearance.
// Common table expression names and table-valued function calls such as
// json_each(...) are excluded. Names keep their original case.
func TableRefs(query string) ([]TableRef, error) {
	toks, err := Tokens(query)
	if err != nil {
		return nil, err
	}
	ctes := cteNames(toks)

	var (
		refs   []TableRef
		depth  int
		froms  []int // paren depths with an open FROM list
		expect bool  // next token starts a table or subquery
	)
	inFrom := func() bool { return len(froms) > 0 && froms[len(froms)-1] == depth }

	for i := 0; i < len(toks); i++ {
		tok := toks[i]

		if expect {
			expect = false
			if tok.Type == LPAREN && i+1 < len(toks) && !startsQuery(toks[i+1].Type) {
				// parenthesized table or join list: FROM (notes), FROM (a JOIN b)
				depth++
				froms = append(froms, depth)
				expect = true
				continue
			}
			if tok.Type == IDENT {
				ref, next := qualifiedName(toks, i)
				if next < len(toks) && toks[next].Type == LPAREN {
					// table-valued function; its arguments are scanned
					// like any other expression
					i = next - 1
					continue
				}
				if _, isCTE := ctes[strings.ToLower(ref.Name)]; ref.Schema != "" || !isCTE {
					refs = append(refs, ref)
				}
				i = next - 1
				continue
			}
		}

		switch tok.Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			for len(froms) > 0 && froms[len(froms)-1] > depth {
				froms = froms[:len(froms)-1]
			}
		case FROM, JOIN:
			if !inFrom() {
				froms = append(froms, depth)
			}
			expect = true
		case COMMA:
			if inFrom() {
				expect = true
			}
		case WHERE, GROUP, ORDER, HAVING, LIMIT, WINDOW, UNION, EXCEPT, INTERSECT, VALUES, RETURNING, SELECT, SEMICOLON:
			if inFrom() {
				froms = froms[:len(froms)-1]
			}
		}
	}
	return refs, nil
}

func startsQuery(t TokenType) bool {
	return t == SELECT || t == WITH || t == VALUES
}

// qualifiedName reads name or schema.name starting at toks[i] and returns
// the index just past it.
func qualifiedName(toks []*Token, i int) (TableRef, int) {
	ref := TableRef{Name: toks[i].Name(), Line: toks[i].Line, Pos: toks[i].Pos}
	if i+2 < len(toks) && toks[i+1].Type == DOT && toks[i+2].Type == IDENT {
		ref.Schema = ref.Name
		ref.Name = toks[i+2].Name()
		return ref, i + 3
	}
	return ref, i + 1
}

// cteNames collects the names defined by WITH clauses: name [(cols)] AS (
// Keys are lower-cased since SQLite resolves CTE names case-insensitively.
func cteNames(toks []*Token) map[string]struct{} {
	names := map[string]struct{}{}
	for i, tok := range toks {
		if tok.Type != IDENT {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].Type == LPAREN {
			j = skipParens(toks, j)
		}
		if j+1 < len(toks) && toks[j].Type == AS && toks[j+1].Type == LPAREN && precedesCTE(toks, i) {
			names[strings.ToLower(tok.Name())] = struct{}{}
		}
	}
	return names
}

// precedesCTE reports whether the identifier at i follows WITH, RECURSIVE
// or a comma closing a previous CTE body.
func precedesCTE(toks []*Token, i int) bool {
	if i == 0 {
		return false
	}
	switch toks[i-1].Type {
	case WITH, RECURSIVE:
		return true
	case COMMA:
		return i >= 2 && toks[i-2].Type == RPAREN
	}
	return false
}

// skipParens returns the index after the parenthesis group opening at i.
func skipParens(toks []*Token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].Type {
		case LPAREN:
			depth++
		case RPAREN:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}
