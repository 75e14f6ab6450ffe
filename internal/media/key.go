package media

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TurnMediaKey builds the composite key for one piece of turn media:
// {owner}/{chat}/{generated id}.{ext}.
func TurnMediaKey(ownerID, chatID, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", ownerID, chatID, uuid.NewString(), strings.TrimPrefix(ext, "."))
}

// PersonaImageKey builds the key for persona art: personas/{slug}-{uuid}.{ext}.
func PersonaImageKey(name, ext string) string {
	return fmt.Sprintf("personas/%s-%s.%s", Slug(name), uuid.NewString(), strings.TrimPrefix(ext, "."))
}

// Slug lowercases a persona name and collapses non-alphanumerics to dashes.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidTurnKey reports whether a stored reference has the exact
// owner/chat/file.ext shape and may be treated as proxyable turn media.
func ValidTurnKey(key string) bool {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return false
		}
	}
	name := parts[2]
	dot := strings.LastIndexByte(name, '.')
	return dot > 0 && dot < len(name)-1
}
