package epub

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// detectChapters runs the detection cascade: table of contents, then
// heading elements, then numbered "Chapter N" patterns, and finally fixed-
// size chunks as the strategy of last resort. The first strategy that
// yields any chapters wins.
func detectChapters(book *Book) []Chapter {
	if chapters := detectByTOC(book); len(chapters) > 0 {
		return chapters
	}
	if chapters := detectByHeadings(book); len(chapters) > 0 {
		return chapters
	}
	if chapters := detectByRegex(book); len(chapters) > 0 {
		return chapters
	}
	return detectFixed(book)
}

// detectByTOC walks the flattened TOC and, for each entry, pulls the text
// between its fragment anchor and the next entry's anchor (or the end of
// the spine file, if it's the last entry pointing into that file).
func detectByTOC(book *Book) []Chapter {
	if len(book.TOC) == 0 {
		return nil
	}

	docByPath := make(map[string]*SpineDoc, len(book.Spine))
	for i := range book.Spine {
		docByPath[book.Spine[i].Path] = &book.Spine[i]
	}

	// Group TOC entries by spine path, preserving order.
	type group struct {
		path    string
		entries []TOCEntry
	}
	var groups []group
	byPath := map[string]*group{}
	for _, e := range book.TOC {
		g, ok := byPath[e.Path]
		if !ok {
			groups = append(groups, group{path: e.Path})
			g = &groups[len(groups)-1]
			byPath[e.Path] = g
		}
		g.entries = append(g.entries, e)
	}

	var chapters []Chapter
	for _, g := range groups {
		doc, ok := docByPath[g.path]
		if !ok || doc.Raw == nil {
			continue
		}

		if len(g.entries) == 1 && g.entries[0].Fragment == "" {
			chapters = append(chapters, Chapter{Title: g.entries[0].Title, Text: doc.Text})
			continue
		}

		for i, e := range g.entries {
			var text string
			if e.Fragment == "" {
				text = doc.Text
			} else {
				anchor, found := doc.Raw.byID[e.Fragment]
				if !found {
					continue
				}
				var stop *html.Node
				if i+1 < len(g.entries) && g.entries[i+1].Fragment != "" {
					stop = doc.Raw.byID[g.entries[i+1].Fragment]
				}
				text = textBetween(anchor, stop)
			}
			chapters = append(chapters, Chapter{Title: e.Title, Text: text})
		}
	}
	return chapters
}

// textBetween collects text starting at (and including) the anchor node's
// position in the document and stopping just before the stop node, by
// walking forward through the document in tree order. If stop is nil, it
// collects through the end of the document.
func textBetween(anchor, stop *html.Node) string {
	root := anchor
	for root.Parent != nil {
		root = root.Parent
	}

	var sb strings.Builder
	collecting := false
	var walk func(n *html.Node) bool // returns false to halt
	walk = func(n *html.Node) bool {
		if n == stop && stop != nil {
			return false
		}
		if n == anchor {
			collecting = true
		}
		if collecting && n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		if collecting && n.Type == html.ElementNode && blockElements[n.DataAtom] {
			sb.WriteString("\n")
		}
		return true
	}
	walk(root)

	text := sb.String()
	text = multiBlankRE.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// detectByHeadings splits each spine document on its h1/h2 elements. A
// spine file with no heading at all becomes a single "Section N" chapter
// rather than being dropped, so heading-free front matter still has a
// chance to clear the post-filters.
func detectByHeadings(book *Book) []Chapter {
	var chapters []Chapter
	section := 0
	for _, doc := range book.Spine {
		if doc.Raw == nil || doc.Raw.root == nil {
			continue
		}
		var headings []*html.Node
		walkElements(doc.Raw.root, func(n *html.Node) {
			if nodeHeadingLevel(n) > 0 {
				headings = append(headings, n)
			}
		})
		if len(headings) == 0 {
			section++
			chapters = append(chapters, Chapter{Title: fmt.Sprintf("Section %d", section), Text: doc.Text})
			continue
		}
		for i, h := range headings {
			var stop *html.Node
			if i+1 < len(headings) {
				stop = headings[i+1]
			}
			title := textFromNode(h)
			text := textBetween(h, stop)
			chapters = append(chapters, Chapter{Title: title, Text: text})
		}
	}
	return chapters
}

var chapterHeadingRE = regexp.MustCompile(`(?m)^\s*(Chapter\s+\d+|CHAPTER\s+\d+|Part\s+\w+|PART\s+\w+)\b.*$`)

// detectByRegex splits the concatenated spine text on lines matching a
// numbered chapter/part heading.
func detectByRegex(book *Book) []Chapter {
	var full strings.Builder
	for i, doc := range book.Spine {
		if i > 0 {
			full.WriteString("\n\n")
		}
		full.WriteString(doc.Text)
	}
	text := full.String()

	locs := chapterHeadingRE.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	var chapters []Chapter
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title := strings.TrimSpace(text[loc[0]:loc[1]])
		body := strings.TrimSpace(text[loc[1]:end])
		chapters = append(chapters, Chapter{Title: title, Text: body})
	}
	return chapters
}

// detectFixed is the strategy of last resort: the whole book's text,
// concatenated in spine order, accumulated paragraph by paragraph into
// chunks that close just before they would exceed FallbackChapterWords.
// Paragraph boundaries are preserved; a paragraph is never bisected
// across two chunks.
func detectFixed(book *Book) []Chapter {
	var paragraphs []string
	for _, doc := range book.Spine {
		for _, p := range strings.Split(doc.Text, "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				paragraphs = append(paragraphs, p)
			}
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}

	var chapters []Chapter
	var current []string
	words := 0
	n := 1
	flush := func() {
		if len(current) == 0 {
			return
		}
		chapters = append(chapters, Chapter{
			Title: fmt.Sprintf("Part %d", n),
			Text:  strings.Join(current, "\n\n"),
		})
		n++
		current = nil
		words = 0
	}

	for _, p := range paragraphs {
		pw := len(strings.Fields(p))
		if words > 0 && words+pw > FallbackChapterWords {
			flush()
		}
		current = append(current, p)
		words += pw
	}
	flush()
	return chapters
}
