package crawl

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Post is one candidate discussion item extracted from a snapshot payload.
type Post struct {
	Title       string
	Body        string
	URL         string
	Community   string
	Votes       int
	Comments    int
	CreatedAt   time.Time
	TopComments []Comment
}

type Comment struct {
	Text  string
	Votes int
}

// ParseRecords extracts every parseable record from a snapshot payload. The
// payload may be a JSON array, a single JSON object, newline-delimited JSON
// records, or a malformed concatenation of objects; unparseable fragments are
// discarded rather than failing the batch. Never returns an error.
func ParseRecords(data []byte) []Post {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	// Structured parse first.
	if json.Valid([]byte(trimmed)) {
		root := gjson.Parse(trimmed)
		if root.IsArray() {
			posts := make([]Post, 0, 16)
			root.ForEach(func(_, item gjson.Result) bool {
				if p, ok := postFromRecord(item); ok {
					posts = append(posts, p)
				}
				return true
			})
			return posts
		}
		if root.IsObject() {
			if p, ok := postFromRecord(root); ok {
				return []Post{p}
			}
			return nil
		}
	}

	// Newline-delimited records next.
	if posts := parseLines(trimmed); len(posts) > 0 {
		return posts
	}

	// Last resort: brace-counting extraction over the raw bytes.
	posts := make([]Post, 0, 8)
	for _, fragment := range splitObjects(trimmed) {
		if p, ok := postFromRecord(gjson.Parse(fragment)); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

func parseLines(payload string) []Post {
	posts := make([]Post, 0, 8)
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !json.Valid([]byte(line)) {
			continue
		}
		if p, ok := postFromRecord(gjson.Parse(line)); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

// splitObjects walks the payload tracking brace depth and string state,
// returning each top-level {...} run that parses as valid JSON.
func splitObjects(payload string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := payload[start : i+1]
					if json.Valid([]byte(candidate)) {
						out = append(out, candidate)
					}
					start = -1
				}
			}
		}
	}
	return out
}

func postFromRecord(rec gjson.Result) (Post, bool) {
	title := firstString(rec, "title", "post_title", "headline")
	if strings.TrimSpace(title) == "" {
		return Post{}, false
	}

	p := Post{
		Title:     strings.TrimSpace(title),
		Body:      strings.TrimSpace(firstString(rec, "description", "body", "selftext", "text")),
		URL:       strings.TrimSpace(firstString(rec, "url", "post_url", "link")),
		Community: strings.TrimSpace(firstString(rec, "community_name", "subreddit", "community")),
		Votes:     int(firstNumber(rec, "upvotes", "score", "num_upvotes", "votes")),
		Comments:  int(firstNumber(rec, "num_comments", "comments_count", "comment_count")),
	}

	if ts := firstString(rec, "date_posted", "created_at", "timestamp"); ts != "" {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, ts); err == nil {
				p.CreatedAt = t
				break
			}
		}
	}

	for _, field := range []string{"comments", "top_comments"} {
		comments := rec.Get(field)
		if !comments.IsArray() {
			continue
		}
		comments.ForEach(func(_, c gjson.Result) bool {
			text := strings.TrimSpace(firstString(c, "comment", "text", "body"))
			if text == "" && c.Type == gjson.String {
				text = strings.TrimSpace(c.String())
			}
			if text != "" {
				p.TopComments = append(p.TopComments, Comment{
					Text:  text,
					Votes: int(firstNumber(c, "num_upvotes", "upvotes", "score")),
				})
			}
			return true
		})
		if len(p.TopComments) > 0 {
			break
		}
	}

	return p, true
}

func firstString(rec gjson.Result, fields ...string) string {
	for _, f := range fields {
		if v := rec.Get(f); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func firstNumber(rec gjson.Result, fields ...string) float64 {
	for _, f := range fields {
		if v := rec.Get(f); v.Exists() && v.Type == gjson.Number {
			return v.Float()
		}
	}
	return 0
}
