// Package surface models the content container query output is written
// into, and the lifecycle scopes that bound resources created while
// rendering into it.
package surface

import (
	"html"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Surface is a mutable content container. Every write replaces the whole
// content, so overlapping writers resolve last-writer-wins.
type Surface struct {
	mu sync.RWMutex

	markup string
	// text is set when the content was written with SetText; Text returns
	// it unchanged.
	text   string
	isText bool

	// owner holds resources backing the current content. It is closed when
	// the content is replaced.
	owner  *Scope
	writes uint64
}

// New returns an empty surface.
func New() *Surface {
	return &Surface{}
}

// SetText replaces the content with literal text. Markup characters are not
// interpreted.
func (s *Surface) SetText(text string) {
	s.replace(html.EscapeString(text), text, true, nil)
}

// SetMarkup replaces the content with markup, stored verbatim.
func (s *Surface) SetMarkup(markup string) {
	s.replace(markup, "", false, nil)
}

// Replace sets markup whose embedded components live in owner. The previous
// owner, if any, is closed.
func (s *Surface) Replace(markup string, owner *Scope) {
	s.replace(markup, "", false, owner)
}

func (s *Surface) replace(markup, text string, isText bool, owner *Scope) {
	s.mu.Lock()
	prev := s.owner
	s.markup, s.text, s.isText, s.owner = markup, text, isText, owner
	s.writes++
	s.mu.Unlock()

	if prev != nil && prev != owner {
		_ = prev.Close()
	}
}

// Markup returns the content as markup. For content written with SetMarkup
// it is exactly the string that was written.
func (s *Surface) Markup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markup
}

// Text returns the text content, like a DOM node's textContent.
func (s *Surface) Text() string {
	s.mu.RLock()
	markup, text, isText := s.markup, s.text, s.isText
	s.mu.RUnlock()

	if isText {
		return text
	}
	return TextContent(markup)
}

// Markdown converts the current markup to markdown.
func (s *Surface) Markdown() (string, error) {
	s.mu.RLock()
	markup, text, isText := s.markup, s.text, s.isText
	s.mu.RUnlock()

	if isText {
		return text, nil
	}
	return htmltomarkdown.ConvertString(markup)
}

// Writes returns how many times the content has been replaced.
func (s *Surface) Writes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Owner returns the scope holding the current content's components.
func (s *Surface) Owner() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// TextContent extracts the text of a markup fragment.
func TextContent(markup string) string {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return markup
	}
	var sb strings.Builder
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch n.Type {
		case nethtml.TextNode:
			sb.WriteString(n.Data)
		case nethtml.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return sb.String()
}

// ParseFragment parses markup as the children of a <div>.
func ParseFragment(markup string) ([]*nethtml.Node, error) {
	ctx := &nethtml.Node{Type: nethtml.ElementNode, Data: "div", DataAtom: atom.Div}
	return nethtml.ParseFragment(strings.NewReader(markup), ctx)
}
