package crawl

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxLeadComments = 3
	excerptLength   = 220
	leadBodyLength  = 600
)

// NoResults is the deterministic fallback context for a location with no
// parseable discussion.
func NoResults(locationName string) string {
	return fmt.Sprintf("No recent community discussion found for %s.", locationName)
}

// Render turns ranked posts into the bounded prompt-context block: a lead
// story with its highest-voted comments, the remaining stories with a short
// excerpt and top comment each, and a trailing attribution guidance block.
func Render(posts []Post, loc Location) string {
	if len(posts) == 0 {
		return NoResults(loc.Name)
	}

	var b strings.Builder
	lead := posts[0]
	fmt.Fprintf(&b, "LEAD STORY (%s): %s\n", loc.Name, lead.Title)
	if body := truncate(lead.Body, leadBodyLength); body != "" {
		fmt.Fprintf(&b, "%s\n", body)
	}
	for _, c := range topComments(lead.TopComments, maxLeadComments) {
		fmt.Fprintf(&b, "- community comment (%d votes): %s\n", c.Votes, truncate(c.Text, excerptLength))
	}

	if len(posts) > 1 {
		b.WriteString("\nOTHER STORIES:\n")
		for _, p := range posts[1:] {
			fmt.Fprintf(&b, "* %s", p.Title)
			if ex := truncate(p.Body, excerptLength); ex != "" {
				fmt.Fprintf(&b, " — %s", ex)
			}
			if cs := topComments(p.TopComments, 1); len(cs) > 0 {
				fmt.Fprintf(&b, " (top comment: %s)", truncate(cs[0].Text, excerptLength))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nGUIDANCE: The stories above come from community discussion boards. ")
	b.WriteString("Present them as what locals are talking about, not as verified news, ")
	b.WriteString("and attribute opinions to community members.")
	return b.String()
}

func topComments(comments []Comment, n int) []Comment {
	sorted := make([]Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Votes > sorted[j].Votes })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	// Walk the cut point back to a rune start so multibyte characters are
	// never split.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
