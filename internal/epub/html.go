package epub

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parsedHTML wraps a parsed document tree along with an index from
// fragment id to the node it names, so the TOC strategy can jump straight
// to an anchor and walk its siblings.
type parsedHTML struct {
	root     *html.Node
	byID     map[string]*html.Node
	koboMode bool
}

func parseHTML(raw []byte) *parsedHTML {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return &parsedHTML{root: nil, byID: map[string]*html.Node{}}
	}

	kobo := bytes.Contains(raw, []byte("koboSpan"))
	unwrapKoboSpans(root)
	unwrapDropCaps(root)

	p := &parsedHTML{root: root, byID: map[string]*html.Node{}, koboMode: kobo}
	indexIDs(root, p.byID)
	return p
}

func indexIDs(n *html.Node, out map[string]*html.Node) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode {
		if id := attr(n, "id"); id != "" {
			out[id] = n
		}
		if name := attr(n, "name"); name != "" {
			if _, exists := out[name]; !exists {
				out[name] = n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		indexIDs(c, out)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClassMatching(n *html.Node, re *regexp.Regexp) bool {
	return re.MatchString(strings.ToLower(attr(n, "class")))
}

var dropCapClassRE = regexp.MustCompile(`(dropcap|drop.?cap|initial|first.?letter|big.?letter)`)

// unwrapKoboSpans replaces Kobo's per-sentence <span class="koboSpan">
// wrapper with its children, so text extraction sees plain reading-order
// content instead of one span per sentence.
func unwrapKoboSpans(n *html.Node) {
	if n == nil {
		return
	}
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		unwrapKoboSpans(c)
		if c.Type == html.ElementNode && c.DataAtom == atom.Span && strings.Contains(attr(c, "class"), "koboSpan") {
			unwrapNode(c)
		}
	}
}

// unwrapDropCaps removes the element wrapping a decorative drop-cap
// initial letter so it doesn't get separated from the rest of its word
// (e.g. "<span class='dropcap'>T</span>he" extracting as "T he").
func unwrapDropCaps(n *html.Node) {
	if n == nil {
		return
	}
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		unwrapDropCaps(c)
		if c.Type == html.ElementNode && hasClassMatching(c, dropCapClassRE) {
			unwrapNode(c)
		}
	}
}

// unwrapNode replaces n with its children in its parent's child list.
func unwrapNode(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}

var (
	multiBlankRE  = regexp.MustCompile(`\n{3,}`)
	capRunJoinRE  = regexp.MustCompile(`(?m)^([A-Z])\n([a-z])`)
	blockElements = map[atom.Atom]bool{
		atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
		atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
		atom.H5: true, atom.H6: true, atom.Tr: true, atom.Blockquote: true,
	}
)

// htmlToText renders a parsed document to plain text, treating common
// block elements as line breaks and collapsing excess blank lines.
func htmlToText(p *parsedHTML) string {
	if p == nil || p.root == nil {
		return ""
	}
	var sb strings.Builder
	extractText(p.root, &sb)
	text := sb.String()
	text = multiBlankRE.ReplaceAllString(text, "\n\n")
	text = capRunJoinRE.ReplaceAllString(text, "$1$2")
	return strings.TrimSpace(text)
}

func extractText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb)
	}
	if n.Type == html.ElementNode && blockElements[n.DataAtom] {
		sb.WriteString("\n")
	}
}

// textFromNode extracts the plain text of a single node subtree, without
// the document-wide blank-line collapsing htmlToText does.
func textFromNode(n *html.Node) string {
	var sb strings.Builder
	extractText(n, &sb)
	return strings.TrimSpace(sb.String())
}

// nodeHeadingLevel returns 1 or 2 for h1/h2 elements, 0 otherwise.
func nodeHeadingLevel(n *html.Node) int {
	switch n.DataAtom {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	default:
		return 0
	}
}

// walkElements calls fn for every element node in document order.
func walkElements(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}

// parseNavDoc extracts flattened TOC entries from an EPUB3 nav.xhtml
// document's <nav epub:type="toc"> list.
func parseNavDoc(raw []byte, dir string) []TOCEntry {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil
	}

	var navTOC *html.Node
	walkElements(root, func(n *html.Node) {
		if navTOC != nil {
			return
		}
		if n.DataAtom == atom.Nav {
			t := attr(n, "type")
			if t == "" {
				t = attr(n, "epub:type")
			}
			if strings.Contains(t, "toc") {
				navTOC = n
			}
		}
	})
	if navTOC == nil {
		return nil
	}

	var entries []TOCEntry
	walkElements(navTOC, func(n *html.Node) {
		if n.DataAtom != atom.A {
			return
		}
		href := attr(n, "href")
		if href == "" {
			return
		}
		title := textFromNode(n)
		if title == "" {
			return
		}
		parts := strings.SplitN(href, "#", 2)
		entry := TOCEntry{Title: title, Path: resolvePath(dir, parts[0])}
		if len(parts) == 2 {
			entry.Fragment = parts[1]
		}
		entries = append(entries, entry)
	})
	return entries
}
