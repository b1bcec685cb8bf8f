package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kevin-cantwell/docsql/internal/table"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Vault table names.
const (
	TableFiles = "files"
	TableTags  = "tags"
	TableTasks = "tasks"
	TableLinks = "links"
)

var (
	filesColumns = []string{"path", "name", "basename", "extension", "folder", "size", "created_at", "modified_at", "frontmatter"}
	tagsColumns  = []string{"path", "tag"}
	tasksColumns = []string{"path", "line", "task", "completed"}
	linksColumns = []string{"path", "target", "embed", "line"}
)

// DefaultExclude lists the patterns skipped when Vault.Exclude is nil.
var DefaultExclude = []string{"**/node_modules/**"}

// Vault loads a directory of markdown notes. Notes become rows of the
// files, tags, tasks and links tables; CSV/JSON/JSONL files become one
// table each, named after the file stem.
//
// Hidden directories (".git", ".obsidian", ...) are never descended into.
type Vault struct {
	Root string
	// Include and Exclude are doublestar patterns matched against paths
	// relative to Root, with forward slashes. An empty Include matches
	// everything.
	Include []string
	Exclude []string
	// Concurrency bounds parallel note parsing. Zero means GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
}

func NewVault(root string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{Root: root, Logger: logger.With("component", "vault")}
}

type vaultFile struct {
	rel  string
	abs  string
	info fs.FileInfo
}

// Load walks the vault and builds its tables.
func (v *Vault) Load(ctx context.Context) ([]*table.Table, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notes, data, err := v.walk(ctx)
	if err != nil {
		return nil, err
	}

	parsed := make([]*note, len(notes))
	g, gctx := errgroup.WithContext(ctx)
	limit := v.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i, f := range notes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(f.abs)
			if err != nil {
				return fmt.Errorf("vault: %w", err)
			}
			n, warn := parseNote(f.rel, content)
			if warn != nil {
				logger.Warn("ignoring invalid frontmatter", "path", f.rel, "error", warn)
			}
			n.info = f.info
			parsed[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := table.New(TableFiles, filesColumns...)
	tags := table.New(TableTags, tagsColumns...)
	tasks := table.New(TableTasks, tasksColumns...)
	links := table.New(TableLinks, linksColumns...)
	for _, n := range parsed {
		files.Append(n.fileRow())
		for _, tag := range n.tags {
			tags.Append(table.Row{"path": n.path, "tag": tag})
		}
		for _, t := range n.tasks {
			tasks.Append(table.Row{"path": n.path, "line": int64(t.line), "task": t.text, "completed": t.done})
		}
		for _, l := range n.links {
			links.Append(table.Row{"path": n.path, "target": l.target, "embed": l.embed, "line": int64(l.line)})
		}
	}

	out := []*table.Table{files, tags, tasks, links}
	seen := map[string]string{TableFiles: "", TableTags: "", TableTasks: "", TableLinks: ""}
	for _, f := range data {
		ext := strings.ToLower(path.Ext(f.rel))
		name := strings.TrimSuffix(path.Base(f.rel), path.Ext(f.rel))
		if prev, dup := seen[name]; dup {
			logger.Warn("skipping data file with duplicate table name", "path", f.rel, "table", name, "conflicts_with", prev)
			continue
		}
		t, err := readFile(name, f.abs, ext)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		seen[name] = f.rel
		out = append(out, t)
	}

	logger.Debug("vault loaded", "notes", len(parsed), "data_files", len(out)-4)
	return out, nil
}

// walk collects notes and data files in path order.
func (v *Vault) walk(ctx context.Context) (notes, data []vaultFile, err error) {
	exclude := v.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	for _, p := range append(append([]string(nil), v.Include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, nil, fmt.Errorf("vault: invalid pattern %q", p)
		}
	}

	err = filepath.WalkDir(v.Root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(v.Root, abs)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !v.selected(rel, exclude) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(rel))
		if ext != ".md" && !isDataFile(ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f := vaultFile{rel: rel, abs: abs, info: info}
		if ext == ".md" {
			notes = append(notes, f)
		} else {
			data = append(data, f)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vault: %w", err)
	}
	return notes, data, nil
}

func (v *Vault) selected(rel string, exclude []string) bool {
	included := len(v.Include) == 0
	for _, p := range v.Include {
		if doublestar.MatchUnvalidated(p, rel) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range exclude {
		if doublestar.MatchUnvalidated(p, rel) {
			return false
		}
	}
	return true
}

type note struct {
	path        string
	info        fs.FileInfo
	frontmatter map[string]any
	tags        []string
	tasks       []task
	links       []link
}

type task struct {
	line int
	text string
	done bool
}

type link struct {
	line   int
	target string
	embed  bool
}

var (
	taskPattern     = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+\[([ xX])\]\s+(.*?)\s*$`)
	tagPattern      = regexp.MustCompile(`(?:^|[\s(,])#([\p{L}\p{N}_][\p{L}\p{N}_/-]*)`)
	wikiLinkPattern = regexp.MustCompile(`(!?)\[\[([^\[\]|#^]*)(?:[#^][^\[\]|]*)?(?:\|[^\[\]]*)?\]\]`)
	mdLinkPattern   = regexp.MustCompile(`(!?)\[[^\[\]]*\]\(<?([^)\s>]+)>?(?:\s+"[^"]*")?\)`)
	codeSpanPattern = regexp.MustCompile("`[^`]*`")
)

// parseNote extracts frontmatter, tags, tasks and links. Fenced code blocks
// and inline code are ignored. A frontmatter block that is not valid YAML is
// reported through warn and otherwise treated as absent.
func parseNote(rel string, content []byte) (n *note, warn error) {
	n = &note{path: rel}

	body, offset, fm := splitFrontmatter(content)
	if fm != nil {
		var meta map[string]any
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			warn = err
		} else {
			n.frontmatter = meta
		}
	}

	seenTags := map[string]bool{}
	addTag := func(tag string) {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" || seenTags[tag] {
			return
		}
		seenTags[tag] = true
		n.tags = append(n.tags, tag)
	}
	for _, tag := range frontmatterTags(n.frontmatter) {
		addTag(tag)
	}

	var fence string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := offset + 1; sc.Scan(); line++ {
		text := sc.Text()
		trimmed := strings.TrimSpace(text)

		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			continue
		}

		if m := taskPattern.FindStringSubmatch(text); m != nil {
			n.tasks = append(n.tasks, task{line: line, text: m[2], done: m[1] != " "})
		}

		text = codeSpanPattern.ReplaceAllString(text, "")
		for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
			if !allDigits(m[1]) {
				addTag(m[1])
			}
		}
		for _, m := range wikiLinkPattern.FindAllStringSubmatch(text, -1) {
			if target := strings.TrimSpace(m[2]); target != "" {
				n.links = append(n.links, link{line: line, target: target, embed: m[1] == "!"})
			}
		}
		for _, m := range mdLinkPattern.FindAllStringSubmatch(text, -1) {
			if target := m[2]; isLocalLink(target) {
				n.links = append(n.links, link{line: line, target: target, embed: m[1] == "!"})
			}
		}
	}
	return n, warn
}

// splitFrontmatter returns the body after a leading "---" block, the number
// of lines the block occupied and the block's YAML. fm is nil when there is
// no block.
func splitFrontmatter(content []byte) (body []byte, lines int, fm []byte) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	first, _, ok := bytes.Cut(content, []byte("\n"))
	if !ok || !isFrontmatterFence(first, false) {
		return content, 0, nil
	}

	start := len(first) + 1
	lines = 1
	for i := start; ; {
		line, next := content[i:], len(content)
		end := bytes.IndexByte(line, '\n')
		if end >= 0 {
			line, next = line[:end], i+end+1
		}
		lines++
		if isFrontmatterFence(line, true) {
			return content[next:], lines, content[start:i]
		}
		if end < 0 {
			return content, 0, nil
		}
		i = next
	}
}

func isFrontmatterFence(line []byte, closing bool) bool {
	s := string(bytes.TrimRight(line, " \t\r"))
	return s == "---" || (closing && s == "...")
}

func frontmatterTags(meta map[string]any) []string {
	var out []string
	switch v := meta["tags"].(type) {
	case string:
		out = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isLocalLink(target string) bool {
	switch {
	case target == "", strings.HasPrefix(target, "#"):
		return false
	case strings.Contains(target, "://"), strings.HasPrefix(target, "mailto:"):
		return false
	}
	return true
}

func (n *note) fileRow() table.Row {
	ext := path.Ext(n.path)
	folder := path.Dir(n.path)
	if folder == "." {
		folder = ""
	}
	modified := n.info.ModTime().UTC()

	var created any = modified
	if c, ok := n.frontmatter["created"]; ok {
		switch c := c.(type) {
		case time.Time:
			created = c.UTC()
		case string:
			created = c
		}
	}

	var fm any
	if n.frontmatter != nil {
		fm = n.frontmatter
	}
	return table.Row{
		"path":        n.path,
		"name":        path.Base(n.path),
		"basename":    strings.TrimSuffix(path.Base(n.path), ext),
		"extension":   strings.TrimPrefix(ext, "."),
		"folder":      folder,
		"size":        n.info.Size(),
		"created_at":  created,
		"modified_at": modified,
		"frontmatter": fm,
	}
}
