package crawl

import (
	"math"
	"sort"
	"strings"
	"time"
)

const maxRankedPosts = 6

// Phrase patterns that mark recurring meta threads and other non-news posts.
var denylistPhrases = []string{
	"daily discussion",
	"weekly thread",
	"weekly discussion",
	"megathread",
	"moving to",
	"moving here",
	"visiting this weekend",
	"what should i do",
	"looking for recommendations",
	"recommendations for",
	"best place to",
	"rant",
	"shitpost",
}

// Keyword tiers, highest weight first.
var (
	breakingKeywords = []string{"breaking", "urgent", "alert", "emergency", "evacuat", "just happened", "developing", "shooting", "explosion"}
	newsKeywords     = []string{"police", "fire", "crash", "closed", "closure", "announced", "approved", "city council", "construction", "protest", "storm", "flood", "outage", "strike", "opening"}
	localKeywords    = []string{"neighborhood", "local", "community", "downtown", "traffic", "transit", "school", "park", "restaurant", "event"}
)

const (
	breakingWeight = 6.0
	newsWeight     = 3.0
	localWeight    = 1.5
)

// Excluded reports whether a post title matches the non-news denylist.
func Excluded(title string) bool {
	lower := strings.ToLower(title)
	for _, phrase := range denylistPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Score computes the relevance of one post for a location and optional query.
// Engagement counts are log-scaled so a single viral post cannot drown out
// everything else; title matches weigh more than body matches.
func Score(p Post, loc Location, query string, now time.Time) float64 {
	title := strings.ToLower(p.Title)
	body := strings.ToLower(p.Body)

	s := math.Log10(float64(p.Votes)+1)*2 + math.Log10(float64(p.Comments)+1)*1.5

	if !p.CreatedAt.IsZero() {
		switch age := now.Sub(p.CreatedAt); {
		case age < 6*time.Hour:
			s += 6
		case age < 24*time.Hour:
			s += 4
		case age < 72*time.Hour:
			s += 2
		case age < 168*time.Hour:
			s += 1
		}
	}

	for _, alias := range append([]string{strings.ToLower(loc.Name)}, loc.Aliases...) {
		alias = strings.ToLower(alias)
		if strings.Contains(title, alias) {
			s += 5
		} else if strings.Contains(body, alias) {
			s += 2
		}
	}

	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len(term) < 3 {
			continue
		}
		if strings.Contains(title, term) {
			s += 4
		} else if strings.Contains(body, term) {
			s += 2
		}
	}

	s += keywordScore(title, 1.0)
	s += keywordScore(body, 0.5)

	return s
}

func keywordScore(text string, factor float64) float64 {
	var s float64
	for _, kw := range breakingKeywords {
		if strings.Contains(text, kw) {
			s += breakingWeight * factor
		}
	}
	for _, kw := range newsKeywords {
		if strings.Contains(text, kw) {
			s += newsWeight * factor
		}
	}
	for _, kw := range localKeywords {
		if strings.Contains(text, kw) {
			s += localWeight * factor
		}
	}
	return s
}

// Rank filters denylisted posts, orders the rest by descending score and
// truncates to the fixed top-N.
func Rank(posts []Post, loc Location, query string, now time.Time) []Post {
	type scored struct {
		post  Post
		score float64
	}
	kept := make([]scored, 0, len(posts))
	for _, p := range posts {
		if Excluded(p.Title) {
			continue
		}
		kept = append(kept, scored{post: p, score: Score(p, loc, query, now)})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	n := len(kept)
	if n > maxRankedPosts {
		n = maxRankedPosts
	}
	out := make([]Post, 0, n)
	for _, s := range kept[:n] {
		out = append(out, s.post)
	}
	return out
}
