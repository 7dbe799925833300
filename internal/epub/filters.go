package epub

import (
	"regexp"
	"strings"
)

// skipTitleRE matches the authoritative front-matter title patterns: a
// chapter whose title starts with one of these is never narration,
// regardless of how long its body is.
var skipTitleRE = regexp.MustCompile(`(?i)^\s*(copyright|legal|disclaimer|dedication|epigraph|acknowledgm|table of contents|contents|title page|about the (author|publisher)|also by|other books|cover|frontispiece|half.?title|colophon|imprint|praise|acclaim|blurb|reviews|notes|endnotes|footnotes|index|bibliography|references|glossary|further reading|sources)`)

// frontMatterSignatureRE matches the authoritative body-signature phrases
// that strongly indicate a section is front matter even when its heading
// didn't match skipTitleRE.
var frontMatterSignatureRE = regexp.MustCompile(`(?i)(all rights reserved|isbn[\s:\-]|published by|library of congress|cataloging.in.publication|printed in |first (edition|printing|published)|no part of this (book|publication)|permission.*(publisher|reproduce)|cover (design|art|image|illustration) by)`)

// tocLineRE matches a line that looks like a table-of-contents entry:
// a chapter/part/section-style label, or a leading numeral.
var tocLineRE = regexp.MustCompile(`(?i)^(chapter|part|section|appendix|introduction|foreword|preface|prologue|epilogue\b|\d+[.)]\s)`)

// filterChapters drops front matter and chapters that are too short to be
// real narration content, and strips a repeated title from the start of
// each chapter's body. WordCount is computed on the post-strip text.
func filterChapters(chapters []Chapter) []Chapter {
	var out []Chapter
	for _, ch := range chapters {
		text := stripTitleFromText(ch.Title, ch.Text)
		words := wordCount(text)
		if isSkippable(ch.Title, text, words) {
			continue
		}
		if words < MinChapterWords {
			continue
		}
		out = append(out, Chapter{Title: ch.Title, Text: text, WordCount: words})
	}
	return out
}

// stripTitleFromText removes the title from the start of the body when
// the body opens by re-stating it: the first len(title_words) word
// tokens within the first 3*len(title) characters of the body must match
// the title word-for-word, case-insensitive. This prevents the title
// from being spoken twice, once announced by the TTS client and once in
// the narrated body.
func stripTitleFromText(title, text string) string {
	text = strings.TrimSpace(text)
	title = strings.TrimSpace(title)
	titleWords := strings.Fields(title)
	if len(titleWords) == 0 || text == "" {
		return text
	}

	parts := make([]string, len(titleWords))
	for i, w := range titleWords {
		parts[i] = regexp.QuoteMeta(w)
	}
	re := regexp.MustCompile(`(?i)^\s*` + strings.Join(parts, `\s+`))

	loc := re.FindStringIndex(text)
	if loc == nil {
		return text
	}
	if limit := 3 * len(title); loc[1] > limit {
		return text
	}
	return strings.TrimSpace(text[loc[1]:])
}

// isSkippable decides whether a chapter is front matter: its title
// matches the known boilerplate prefixes, its body is short and contains
// a publication/legal signature, or it looks like a table of contents
// rather than prose.
func isSkippable(title, text string, words int) bool {
	if skipTitleRE.MatchString(title) {
		return true
	}
	if words < 500 && frontMatterSignatureRE.MatchString(text) {
		return true
	}
	return looksLikeTOC(text)
}

// looksLikeTOC flags a body that reads like a table of contents: at
// least 5 non-empty lines, at least 4 of them matching a chapter-like
// prefix, and that count making up at least 30% of all lines.
func looksLikeTOC(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) < 5 {
		return false
	}
	matching := 0
	for _, l := range lines {
		if tocLineRE.MatchString(strings.TrimSpace(l)) {
			matching++
		}
	}
	return matching >= 4 && float64(matching)/float64(len(lines)) >= 0.3
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
