// Package urlextract finds application-generated links in captured terminal
// output.
package urlextract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var candidate = regexp.MustCompile(`https://\S+`)

// Extract returns the first https URL in text, in order of appearance, that
// contains both pathKeyword and hostFragment. Terminal escape sequences are
// stripped first and substrings that do not parse as URLs are skipped.
// Absence is reported through ok, never as an error.
func Extract(text, pathKeyword, hostFragment string) (link string, ok bool) {
	for _, m := range Candidates(text) {
		if strings.Contains(m, pathKeyword) && strings.Contains(m, hostFragment) {
			return m, true
		}
	}
	return "", false
}

// Candidates lists every well-formed https URL in text in order of appearance.
func Candidates(text string) []string {
	var out []string
	for _, m := range candidate.FindAllString(ansi.Strip(text), -1) {
		m = trimTrailing(m)
		u, err := url.Parse(m)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// trimTrailing drops sentence punctuation after a link, and closing brackets
// or quotes that have no opening partner inside the link, so "(see <url>)."
// yields the bare URL while ".../Go_(language)" keeps its parenthesis.
func trimTrailing(m string) string {
	for m != "" {
		last := m[len(m)-1]
		switch {
		case strings.IndexByte(".,;:!?>", last) >= 0:
		case last == ')' && strings.Count(m, "(") < strings.Count(m, ")"):
		case last == ']' && strings.Count(m, "[") < strings.Count(m, "]"):
		case (last == '"' || last == '\'') && strings.Count(m, string(last))%2 == 1:
		default:
			return m
		}
		m = m[:len(m)-1]
	}
	return m
}
