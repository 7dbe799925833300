// Package chunker splits chapter text into token-budgeted pieces suitable
// for a single text-to-speech request.
package chunker

import (
	"regexp"
	"strings"
)

const (
	// DefaultTokenLimit is the target maximum token count per chunk.
	DefaultTokenLimit = 250
	// DefaultTokenFloor is the minimum token count a chunk should reach
	// before a following sentence is no longer folded into it.
	DefaultTokenFloor = 80
	// DefaultCharsPerToken approximates the ratio used to convert a token
	// budget into a character budget, since we don't run a real tokenizer.
	DefaultCharsPerToken = 3.5
)

// Options controls chunk sizing. A zero value is not valid; use DefaultOptions
// to get the package defaults.
type Options struct {
	TokenLimit    int
	TokenFloor    int
	CharsPerToken float64
}

// DefaultOptions returns the standard chunk sizing.
func DefaultOptions() Options {
	return Options{
		TokenLimit:    DefaultTokenLimit,
		TokenFloor:    DefaultTokenFloor,
		CharsPerToken: DefaultCharsPerToken,
	}
}

// sentenceSplit matches a sentence boundary: terminal punctuation followed
// by whitespace, whatever comes after the whitespace. It deliberately
// doesn't try to special-case abbreviations; the split favors simplicity
// over precision.
var sentenceSplit = regexp.MustCompile(`(?s)([.!?])\s+`)

// Split breaks text into sentences, preserving terminal punctuation.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	last := 0
	locs := sentenceSplit.FindAllStringSubmatchIndex(text, -1)
	for _, loc := range locs {
		end := loc[3] // end of the punctuation group
		sentences = append(sentences, strings.TrimSpace(text[last:end]))
		last = loc[1] // after the trailing whitespace
	}
	if last < len(text) {
		if rest := strings.TrimSpace(text[last:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	return sentences
}

// Chunk packs sentences into groups that stay close to opts.TokenLimit,
// measured in approximate characters (opts.CharsPerToken). A chunk below
// opts.TokenFloor tokens (likewise converted to characters) keeps
// absorbing sentences; once it crosses
// the floor, the next sentence that would push the chunk past the limit
// starts a new chunk instead. Any single sentence longer than the limit is
// split on its own, preferring semicolon then comma then whitespace
// boundaries, and falls back to a hard cut at 90% of the char budget.
func Chunk(text string, opts Options) []string {
	if opts.CharsPerToken <= 0 {
		opts.CharsPerToken = DefaultCharsPerToken
	}
	limitChars := int(float64(opts.TokenLimit) * opts.CharsPerToken)
	floorChars := int(float64(opts.TokenFloor) * opts.CharsPerToken)

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, sentence := range Split(text) {
		if len(sentence) > limitChars {
			flush()
			chunks = append(chunks, splitLongSentence(sentence, limitChars)...)
			continue
		}

		candidateLen := current.Len() + 1 + len(sentence)
		if current.Len() >= floorChars && candidateLen > limitChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}

	// A short residual tail gets folded into the previous chunk rather
	// than emitted as its own stub, as long as one exists to absorb it.
	if current.Len() > 0 && current.Len() < floorChars && len(chunks) > 0 {
		chunks[len(chunks)-1] = chunks[len(chunks)-1] + " " + strings.TrimSpace(current.String())
		current.Reset()
	}
	flush()

	return chunks
}

// splitLongSentence breaks a single oversized sentence into pieces under
// limitChars, preferring natural breakpoints in order: "; ", ", ",
// whitespace, and finally a hard cut at 90% of the limit.
func splitLongSentence(sentence string, limitChars int) []string {
	targetChars := int(float64(limitChars) * 0.9)
	if targetChars <= 0 {
		targetChars = limitChars
	}
	return splitAtTier(sentence, targetChars, 0)
}

// clauseSeparators are the natural breakpoints tried, in order, before
// falling back to whitespace and then a hard character cut.
var clauseSeparators = []string{"; ", ", "}

// splitAtTier splits s at separator tier `tier`, cascading to the next
// tier whenever the current one can't get a piece under budget. Tiers
// beyond clauseSeparators are whitespace and then the hard cut, so every
// returned piece is bounded by targetChars.
func splitAtTier(s string, targetChars, tier int) []string {
	if len(s) <= targetChars {
		return []string{s}
	}

	if tier < len(clauseSeparators) {
		sep := clauseSeparators[tier]
		parts := strings.Split(s, sep)
		if len(parts) == 1 {
			return splitAtTier(s, targetChars, tier+1)
		}
		return packParts(parts, sep, targetChars, tier+1)
	}

	if tier == len(clauseSeparators) {
		words := strings.Fields(s)
		if len(words) <= 1 {
			return splitAtTier(s, targetChars, tier+1)
		}
		return packParts(words, " ", targetChars, tier+1)
	}

	// A single unbreakable token: hard cut.
	var pieces []string
	for len(s) > targetChars {
		pieces = append(pieces, s[:targetChars])
		s = s[targetChars:]
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// packParts re-joins parts with sep, greedily filling pieces up to
// targetChars. A single part that alone exceeds the budget is re-split
// at the next separator tier instead of being emitted oversized.
func packParts(parts []string, sep string, targetChars, nextTier int) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, part := range parts {
		if len(part) > targetChars {
			flush()
			pieces = append(pieces, splitAtTier(part, targetChars, nextTier)...)
			continue
		}

		addition := part
		if current.Len() > 0 {
			addition = sep + part
		}
		if current.Len() > 0 && current.Len()+len(addition) > targetChars {
			flush()
			addition = part
		}
		current.WriteString(addition)
	}
	flush()
	return pieces
}
