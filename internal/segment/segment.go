// Package segment splits raw novel text into the ordered synthesis units
// consumed by the TTS pipeline.
//
// Segment boundaries drive cache keys: the same text split the same way hits
// the same cached audio. Any change to the splitting rules therefore
// invalidates every previously cached entry, so the algorithm is deliberately
// small and fixed:
//
//  1. Lines never merge. Each non-empty trimmed line is segmented on its own,
//     which keeps chapter headings intact.
//  2. Within a line, strong delimiters (sentence-final punctuation) always
//     close a piece; weak delimiters (commas and friends) close a piece only
//     once the running character count has reached MinChars.
//  3. Adjacent short pieces are merged back together until they reach
//     MinChars, so single exclamations do not become their own synthesis
//     calls. A leftover tail is appended to the previous segment.
//  4. Pieces consisting only of quotes and whitespace (dialogue formatting
//     artifacts) are appended to the previous segment instead of being
//     emitted on their own.
package segment

import (
	"strings"
	"unicode/utf8"
)

// Default splitting parameters. DefaultMinChars is the merge threshold below
// which weak delimiters are ignored and neighbouring pieces are joined.
const (
	DefaultMinChars = 20
	DefaultMaxChars = 500
)

// Default delimiter sets, covering both CJK and ASCII punctuation.
const (
	defaultStrong = "。？！.?!"
	defaultWeak   = "，；：,;:"
)

// Config controls how text is split. The zero value is usable: Strong, Weak
// and MinChars fall back to their defaults, and a zero MaxChars disables the
// upper bound.
type Config struct {
	// Strong delimiters always terminate the current piece.
	Strong string `yaml:"strong"`

	// Weak delimiters terminate the current piece only after MinChars
	// characters have accumulated.
	Weak string `yaml:"weak"`

	// MinChars is the minimum segment length in runes. Shorter pieces are
	// merged with their neighbours.
	MinChars int `yaml:"min_chars"`

	// MaxChars force-splits a run of text that reaches this many runes
	// without hitting any delimiter. Zero disables the bound.
	MaxChars int `yaml:"max_chars"`
}

// DefaultConfig returns the fixed default configuration.
func DefaultConfig() Config {
	return Config{
		Strong:   defaultStrong,
		Weak:     defaultWeak,
		MinChars: DefaultMinChars,
		MaxChars: DefaultMaxChars,
	}
}

func (c Config) withDefaults() Config {
	if c.Strong == "" {
		c.Strong = defaultStrong
	}
	if c.Weak == "" {
		c.Weak = defaultWeak
	}
	if c.MinChars <= 0 {
		c.MinChars = DefaultMinChars
	}
	return c
}

// Split segments text according to cfg. It is pure and deterministic: the
// same (text, cfg) pair always yields the same result.
func Split(text string, cfg Config) []string {
	cfg = cfg.withDefaults()

	var segments []string
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, piece := range splitLine(line, cfg) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			if quoteOnly(piece) {
				// Dialogue artifacts like a lone closing quote attach to
				// the preceding segment; with no predecessor they vanish.
				if n := len(segments); n > 0 {
					segments[n-1] += piece
				}
				continue
			}
			segments = append(segments, piece)
		}
	}
	return segments
}

// splitLine segments a single line: delimiter scan first, then short-piece
// merging. Cross-line state never leaks in here.
func splitLine(line string, cfg Config) []string {
	return mergeShort(splitDelimiters(line, cfg), cfg.MinChars)
}

// splitDelimiters walks the line rune by rune, closing the current buffer on
// strong delimiters, on weak delimiters past the MinChars threshold, and on
// the MaxChars hard bound. The character counter resets on every split.
func splitDelimiters(line string, cfg Config) []string {
	var pieces []string
	var cur strings.Builder
	count := 0

	for _, r := range line {
		cur.WriteRune(r)
		count++

		split := strings.ContainsRune(cfg.Strong, r) ||
			(strings.ContainsRune(cfg.Weak, r) && count >= cfg.MinChars) ||
			(cfg.MaxChars > 0 && count >= cfg.MaxChars)
		if !split {
			continue
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
		count = 0
	}

	if s := strings.TrimSpace(cur.String()); s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// mergeShort concatenates adjacent pieces until each emitted segment holds at
// least minChars runes. A tail that never reaches the threshold is appended
// to the last emitted segment, or emitted standalone when nothing precedes it.
func mergeShort(pieces []string, minChars int) []string {
	if len(pieces) == 0 {
		return pieces
	}

	var out []string
	var buf strings.Builder
	for _, p := range pieces {
		buf.WriteString(p)
		if utf8.RuneCountInString(buf.String()) >= minChars {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		if n := len(out); n > 0 {
			out[n-1] += buf.String()
		} else {
			out = append(out, buf.String())
		}
	}
	return out
}

// quoteOnly reports whether s consists entirely of quote characters and
// whitespace. Covers ASCII quotes and the CJK curly quote pairs.
func quoteOnly(s string) bool {
	for _, r := range s {
		switch r {
		case '"', '\'', '“', '”', '‘', '’', ' ', '\t':
		default:
			return false
		}
	}
	return true
}
