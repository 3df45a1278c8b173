package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// normalizeRule is one step of the text clean-up pass. Rules are pure string functions.
type normalizeRule struct {
	name  string
	apply func(string) string
}

// defaultRules run in order. strip runs both before NFKC (so removed invisibles cannot leave
// composable sequences behind) and after it (for compatibility forms NFKC introduces).
var defaultRules = []normalizeRule{
	{"line-endings", normalizeLineEndings},
	{"strip", stripDisallowed},
	{"nfkc", norm.NFKC.String},
	{"canonicalize", canonicalReplacer.Replace},
	{"strip", stripDisallowed},
	{"whitespace", collapseWhitespace},
	{"dehyphenate", dehyphenate},
}

// Normalize cleans raw extracted document text. It is deterministic and idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return normalizeWith(s, defaultRules, nil)
}

// normalizeWith applies rules in order. A rule that panics is skipped and logged; the text
// is passed on unchanged from the previous rule.
func normalizeWith(s string, rules []normalizeRule, logger *zap.Logger) string {
	for _, r := range rules {
		out, err := applyRule(r, s)
		if err != nil {
			if logger != nil {
				logger.Warn("normalization rule skipped", zap.String("rule", r.name), zap.Error(err))
			}
			continue
		}
		s = out
	}
	return s
}

func applyRule(r normalizeRule, s string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %s: %v", r.name, p)
		}
	}()
	return r.apply(s), nil
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

var canonicalReplacer = strings.NewReplacer(
	// ligatures
	"ﬀ", "ff", "ﬁ", "fi", "ﬂ", "fl", "ﬃ", "ffi", "ﬄ", "ffl", "ﬅ", "st", "ﬆ", "st",
	"Ꜳ", "AA", "ꜳ", "aa", "Ꜵ", "AO", "ꜵ", "ao",
	// double quotes
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`, "«", `"`, "»", `"`,
	// single quotes
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "‹", "'", "›", "'",
	// dashes and minus
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-", "⁃", "-",
	// line and paragraph separators
	"\u2028", "\n", "\u2029", "\n",
)

// symbolWhitelist keeps "other" symbols that carry meaning in technical text.
var symbolWhitelist = map[rune]bool{
	'°': true, '©': true, '®': true, '™': true, '§': true, '¶': true, '•': true, '·': true,
	'†': true, '‡': true, '№': true, '℮': true, '⌘': true, '⌥': true, '⎋': true, '✓': true, '✗': true,
}

// allowedRune keeps printable text: letters, marks, numbers, punctuation, math and currency
// symbols, arrows, ASCII symbols, whitelisted symbols, and the whitespace characters newline,
// tab and space. Everything else (controls, format characters, private use, unassigned code
// points, decorative symbols) is dropped.
func allowedRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t' || r == ' ':
		return true
	case r == utf8.RuneError:
		return false
	case r < 0x80:
		return r >= 0x21 && r < 0x7f
	case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsNumber(r), unicode.IsPunct(r):
		return true
	case unicode.Is(unicode.Sm, r), unicode.Is(unicode.Sc, r):
		return true
	case r >= 0x2190 && r <= 0x21ff: // arrows
		return true
	case unicode.IsSpace(r) && !unicode.IsControl(r):
		// NBSP and friends survive until NFKC/whitespace turn them into plain spaces
		return true
	}
	return symbolWhitelist[r]
}

func stripDisallowed(s string) string {
	return strings.Map(func(r rune) rune {
		if allowedRune(r) {
			return r
		}
		return -1
	}, s)
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\p{Zs}]+`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// collapseWhitespace squeezes horizontal whitespace runs to one space, trims every line and
// allows at most one blank line between paragraphs.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// dehyphenate joins words split across a line break ("inter-\nnational" -> "international").
// Only a hyphen between a letter and a lowercase letter on the next line is removed.
func dehyphenate(s string) string {
	if !strings.Contains(s, "-\n") {
		return s
	}
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); i++ {
		if rs[i] == '-' && i > 0 && i+2 < len(rs) && rs[i+1] == '\n' &&
			unicode.IsLetter(rs[i-1]) && unicode.IsLower(rs[i+2]) {
			i++ // skip the newline too
			continue
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}
