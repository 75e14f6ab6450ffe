package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrChatOwnerMismatch means a turn named an existing chat id that
	// belongs to a different uid; nothing was written.
	ErrChatOwnerMismatch = errors.New("chat belongs to another user")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Persona is immutable reference data describing an assistant character.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	VoiceID     string `json:"voiceId"`
	Description string `json:"description"`
	Tone        string `json:"tone"`
	ImageKey    string `json:"imageKey,omitempty"`
}

// Profile is one row per external user id, created or updated idempotently.
type Profile struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	PersonaID   string    `json:"personaId,omitempty"`
	Saved       bool      `json:"saved"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is embedded in a chat's JSONB message list. Assistant messages
// always carry persona attribution; user messages never do.
type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	AudioKey    string    `json:"audioKey,omitempty"`
	VideoKey    string    `json:"videoKey,omitempty"`
	PersonaID   string    `json:"personaId,omitempty"`
	PersonaName string    `json:"personaName,omitempty"`
}

// Chat is an append-only conversation log.
type Chat struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	PersonaID   string    `json:"personaId"`
	PersonaName string    `json:"personaName,omitempty"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatSummary is the list-view projection of a chat.
type ChatSummary struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"personaId"`
	PersonaName  string    `json:"personaName,omitempty"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Turn describes the two messages appended by one chat exchange.
type Turn struct {
	UID          string
	ChatID       string
	Title        string
	UserText     string
	ReplyText    string
	Persona      Persona
	AudioKey     string
	UserAudioKey string
	VideoKey     string
}

// TurnMessages builds the user and assistant messages appended for one turn.
// Exactly two messages come out of every turn.
func TurnMessages(t Turn, now time.Time) []Message {
	return []Message{
		{
			Role:      RoleUser,
			Content:   t.UserText,
			Timestamp: now,
			AudioKey:  t.UserAudioKey,
		},
		{
			Role:        RoleAssistant,
			Content:     t.ReplyText,
			Timestamp:   now,
			AudioKey:    t.AudioKey,
			VideoKey:    t.VideoKey,
			PersonaID:   t.Persona.ID,
			PersonaName: t.Persona.Name,
		},
	}
}
