// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
)

var (
	reNonWord = regexp.MustCompile(`[^\p{L}\p{N}+#.]+`)
	reSpaces  = regexp.MustCompile(`\s+`)
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Fold lowercases text and collapses everything that is not a letter, digit,
// or a symbol that commonly appears inside skill names (c++, c#, node.js)
// into single spaces.
func Fold(s string) string {
	s = strings.ToLower(s)
	s = reNonWord.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens splits folded text into word tokens. Trailing dots from sentence
// punctuation are stripped so "sqlite." matches "sqlite".
func Tokens(s string) []string {
	fields := strings.Fields(Fold(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ContainsToken reports whether needle occurs in haystack as a full token
// sequence (word-boundary match, not substring). Multi-word needles must
// appear as consecutive tokens.
func ContainsToken(haystack, needle string) bool {
	want := Tokens(needle)
	if len(want) == 0 {
		return false
	}
	have := Tokens(haystack)
	for i := 0; i+len(want) <= len(have); i++ {
		ok := true
		for j, w := range want {
			if have[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int { return len(strings.Fields(s)) }

// Snippet returns a verbatim substring of source containing needle, expanded
// to whole words and capped at maxWords words. It returns "" when needle does
// not occur in source (case-insensitive), never a fabricated string.
func Snippet(source, needle string, maxWords int) string {
	if needle == "" || maxWords <= 0 {
		return ""
	}
	lowSrc := strings.ToLower(source)
	idx := strings.Index(lowSrc, strings.ToLower(needle))
	if idx < 0 {
		return ""
	}
	end := idx + len(needle)
	// Expand to word boundaries.
	for idx > 0 && !isSpace(source[idx-1]) {
		idx--
	}
	for end < len(source) && !isSpace(source[end]) {
		end++
	}
	words := strings.Fields(source[idx:end])
	budget := maxWords - len(words)
	// Grow symmetrically around the match while budget remains.
	left, right := idx, end
	for budget > 0 {
		grew := false
		if w, s := prevWord(source, left); w != "" {
			left = s
			budget--
			grew = true
		}
		if budget > 0 {
			if w, e := nextWord(source, right); w != "" {
				right = e
				budget--
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	snip := strings.TrimSpace(source[left:right])
	if WordCount(snip) > maxWords {
		// Trim trailing words until within budget; result stays a substring.
		fields := strings.Fields(snip)
		snip = strings.Join(fields[:maxWords], " ")
		if !strings.Contains(source, snip) {
			// Joining collapsed interior whitespace; fall back to the bare match.
			snip = strings.TrimSpace(source[idx:end])
		}
	}
	return snip
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// prevWord returns the word ending just before pos and its start offset.
func prevWord(s string, pos int) (string, int) {
	i := pos
	for i > 0 && isSpace(s[i-1]) {
		i--
	}
	if i == 0 {
		return "", pos
	}
	j := i
	for j > 0 && !isSpace(s[j-1]) {
		j--
	}
	return s[j:i], j
}

// nextWord returns the word starting just after pos and its end offset.
func nextWord(s string, pos int) (string, int) {
	i := pos
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) {
		return "", pos
	}
	j := i
	for j < len(s) && !isSpace(s[j]) {
		j++
	}
	return s[i:j], j
}
