package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucav88/ava/internal/store"
)

// SystemInstruction builds the persona-flavored system prompt for one turn.
// When contextBlock is non-empty it is appended with explicit framing so the
// model treats it as community-sourced chatter, not authoritative news.
func SystemInstruction(persona store.Persona, contextBlock string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", persona.Name)
	if d := strings.TrimSpace(persona.Description); d != "" {
		fmt.Fprintf(&b, " %s", d)
	}
	b.WriteString("\n\n")
	if t := strings.TrimSpace(persona.Tone); t != "" {
		fmt.Fprintf(&b, "Your tone is %s. ", t)
	}
	b.WriteString("You are having a spoken conversation. Keep replies to short utterances, ")
	b.WriteString("one to three sentences, as if speaking aloud. ")
	b.WriteString("You may embed non-visual emotion cues in square brackets, like [laughs] or [sighs], ")
	b.WriteString("where they fit naturally.")

	if strings.TrimSpace(contextBlock) != "" {
		b.WriteString("\n\nRecent community discussion relevant to the user's area:\n\n")
		b.WriteString(contextBlock)
		b.WriteString("\n\nWhen you draw on the discussion above, attribute it as something ")
		b.WriteString("people in the community are talking about. It is not verified news; ")
		b.WriteString("do not present it as fact.")
	}
	return b.String()
}

var emotionTagPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// StripEmotionTags removes bracketed emotion annotations intended for speech
// synthesis so they never reach the displayed transcript.
func StripEmotionTags(text string) string {
	stripped := emotionTagPattern.ReplaceAllString(text, "")
	stripped = strings.Join(strings.Fields(stripped), " ")
	return strings.TrimSpace(stripped)
}
