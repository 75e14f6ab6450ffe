package crawl

import (
	"sort"
	"strings"
)

// Location maps a supported location tag onto the discussion communities
// crawled for it, plus the name aliases used during relevance scoring.
type Location struct {
	Tag         string
	Name        string
	Communities []string
	Aliases     []string
}

// Static table: the discovery source has no geo search, so each supported
// location pins its own community list.
var locations = map[string]Location{
	"austin": {
		Tag:         "austin",
		Name:        "Austin",
		Communities: []string{"Austin", "texas"},
		Aliases:     []string{"austin", "atx", "travis county"},
	},
	"seattle": {
		Tag:         "seattle",
		Name:        "Seattle",
		Communities: []string{"Seattle", "SeattleWA"},
		Aliases:     []string{"seattle", "puget sound", "king county"},
	},
	"denver": {
		Tag:         "denver",
		Name:        "Denver",
		Communities: []string{"Denver", "Colorado"},
		Aliases:     []string{"denver", "mile high"},
	},
	"portland": {
		Tag:         "portland",
		Name:        "Portland",
		Communities: []string{"Portland", "askportland"},
		Aliases:     []string{"portland", "pdx"},
	},
	"chicago": {
		Tag:         "chicago",
		Name:        "Chicago",
		Communities: []string{"chicago", "AskChicago"},
		Aliases:     []string{"chicago", "chi-town", "cook county"},
	},
	"nyc": {
		Tag:         "nyc",
		Name:        "New York City",
		Communities: []string{"nyc", "AskNYC"},
		Aliases:     []string{"nyc", "new york", "manhattan", "brooklyn", "queens"},
	},
}

// Supported returns the supported location tags, sorted.
func Supported() []string {
	tags := make([]string, 0, len(locations))
	for tag := range locations {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Lookup resolves a location tag case-insensitively.
func Lookup(tag string) (Location, bool) {
	loc, ok := locations[strings.ToLower(strings.TrimSpace(tag))]
	return loc, ok
}
