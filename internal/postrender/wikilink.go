package postrender

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindWikiLink is the node kind of [[target]] and ![[target]].
var KindWikiLink = ast.NewNodeKind("WikiLink")

// WikiLink is an inline [[target|label]] link, or an ![[target]] embed.
type WikiLink struct {
	ast.BaseInline
	Target string
	Label  string
	Embed  bool
}

func (n *WikiLink) Kind() ast.NodeKind { return KindWikiLink }

func (n *WikiLink) Dump(source []byte, level int) {
	kv := map[string]string{"Target": n.Target, "Label": n.Label}
	if n.Embed {
		kv["Embed"] = "true"
	}
	ast.DumpHelper(n, source, level, kv, nil)
}

type wikiLinkParser struct{}

func (wikiLinkParser) Trigger() []byte { return []byte{'!', '['} }

func (wikiLinkParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()

	open := []byte("[[")
	embed := len(line) > 0 && line[0] == '!'
	if embed {
		open = []byte("![[")
	}
	if !bytes.HasPrefix(line, open) {
		return nil
	}
	rest := line[len(open):]
	end := bytes.Index(rest, []byte("]]"))
	if end <= 0 {
		return nil
	}
	inner := rest[:end]
	if bytes.ContainsAny(inner, "[]\n") {
		return nil
	}

	target, label := inner, inner
	if i := bytes.IndexByte(inner, '|'); i >= 0 {
		target, label = inner[:i], inner[i+1:]
	}
	target = bytes.TrimSpace(target)
	if len(target) == 0 {
		return nil
	}

	block.Advance(len(open) + end + 2)
	return &WikiLink{
		Target: string(target),
		Label:  string(bytes.TrimSpace(label)),
		Embed:  embed,
	}
}

// embedFunc decides how an embed renders. It returns the embed container id,
// or ok=false to render the embed as a plain link.
type embedFunc func(target string) (id string, ok bool)

type wikiLinkRenderer struct {
	embed embedFunc
}

func (r *wikiLinkRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindWikiLink, r.render)
}

func (r *wikiLinkRenderer) render(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*WikiLink)
	target := util.EscapeHTML([]byte(n.Target))

	if n.Embed && r.embed != nil {
		if id, ok := r.embed(n.Target); ok {
			_, _ = w.WriteString(`<div class="docsql-embed" data-embed-id="`)
			_, _ = w.Write(util.EscapeHTML([]byte(id)))
			_, _ = w.WriteString(`" data-target="`)
			_, _ = w.Write(target)
			_, _ = w.WriteString(`"></div>`)
			return ast.WalkSkipChildren, nil
		}
	}

	class := "internal-link"
	if n.Embed {
		class = "internal-embed"
	}
	_, _ = w.WriteString(`<a class="` + class + `" href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape([]byte(n.Target), false)))
	_, _ = w.WriteString(`" data-href="`)
	_, _ = w.Write(target)
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Label)))
	_, _ = w.WriteString(`</a>`)
	return ast.WalkSkipChildren, nil
}

// wikiLinks is a goldmark extension for [[links]] and ![[embeds]].
type wikiLinks struct {
	embed embedFunc
}

func (e *wikiLinks) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(
		util.Prioritized(wikiLinkParser{}, 199),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&wikiLinkRenderer{embed: e.embed}, 199),
	))
}
