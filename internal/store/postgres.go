package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the slice of pgxpool.Pool the repositories use. Tests substitute
// a mock for it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists personas, profiles and chats in PostgreSQL.
type Store struct {
	pool querier
	raw  *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, raw: pool}, nil
}

func initSchema(ctx context.Context, pool querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			voice_id TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tone TEXT NOT NULL DEFAULT '',
			image_key TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			uid TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			persona_id TEXT NOT NULL DEFAULT '',
			saved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_uid_updated ON chats (uid, updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// ListPersonas returns the full persona reference table.
func (s *Store) ListPersonas(ctx context.Context) ([]Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, voice_id, description, tone, image_key FROM personas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	out := make([]Persona, 0, 8)
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.VoiceID, &p.Description, &p.Tone, &p.ImageKey); err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona rows: %w", err)
	}
	return out, nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// SaveProfile upserts a profile by uid. Email is mandatory and format-checked.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	if strings.TrimSpace(p.UID) == "" {
		return fmt.Errorf("profile uid is required")
	}
	if !emailPattern.MatchString(strings.TrimSpace(p.Email)) {
		return fmt.Errorf("invalid email %q", p.Email)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (uid, display_name, email, persona_id, saved, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (uid) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			persona_id = EXCLUDED.persona_id,
			saved = EXCLUDED.saved,
			updated_at = now()`,
		p.UID, p.DisplayName, strings.TrimSpace(p.Email), p.PersonaID, p.Saved)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT uid, display_name, email, persona_id, saved, created_at, updated_at
		 FROM profiles WHERE uid=$1`, uid).
		Scan(&p.UID, &p.DisplayName, &p.Email, &p.PersonaID, &p.Saved, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *Store) DeleteProfile(ctx context.Context, uid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE uid=$1`, uid)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChat returns one chat with its persona name joined, or nil when absent.
func (s *Store) GetChat(ctx context.Context, uid, chatID string) (*Chat, error) {
	var (
		c       Chat
		rawMsgs []byte
		pname   *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT c.id, c.uid, c.persona_id, c.title, c.messages, c.created_at, c.updated_at, p.name
		 FROM chats c LEFT JOIN personas p ON p.id = c.persona_id
		 WHERE c.uid=$1 AND c.id=$2`, uid, chatID).
		Scan(&c.ID, &c.UID, &c.PersonaID, &c.Title, &rawMsgs, &c.CreatedAt, &c.UpdatedAt, &pname)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if pname != nil {
		c.PersonaName = *pname
	}
	if err := json.Unmarshal(rawMsgs, &c.Messages); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}
	return &c, nil
}

// ListChats returns chat summaries for one owner, most recent first.
func (s *Store) ListChats(ctx context.Context, uid string) ([]ChatSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.persona_id, c.title, jsonb_array_length(c.messages), c.created_at, c.updated_at, p.name
		 FROM chats c LEFT JOIN personas p ON p.id = c.persona_id
		 WHERE c.uid=$1 ORDER BY c.updated_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	out := make([]ChatSummary, 0, 16)
	for rows.Next() {
		var (
			c     ChatSummary
			pname *string
		)
		if err := rows.Scan(&c.ID, &c.PersonaID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt, &pname); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		if pname != nil {
			c.PersonaName = *pname
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteChat(ctx context.Context, uid, chatID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE uid=$1 AND id=$2`, uid, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTurn appends the turn's two messages to the chat, creating the row when
// the chat id is new. The append happens inside the upsert as a JSONB
// concatenation, so concurrent turns against the same chat both land; neither
// overwrites prior messages. The conflict update is scoped to the owning uid:
// a turn naming an existing chat that belongs to someone else updates nothing
// and surfaces ErrChatOwnerMismatch.
func (s *Store) SaveTurn(ctx context.Context, t Turn) error {
	if strings.TrimSpace(t.ChatID) == "" {
		return fmt.Errorf("turn chat id is required")
	}
	if strings.TrimSpace(t.UID) == "" {
		return fmt.Errorf("turn uid is required")
	}
	msgs := TurnMessages(t, time.Now().UTC())
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode turn messages: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, uid, persona_id, title, messages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
			messages = chats.messages || EXCLUDED.messages,
			updated_at = now()
		 WHERE chats.uid = EXCLUDED.uid`,
		t.ChatID, t.UID, t.Persona.ID, t.Title, raw)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", t.ChatID, ErrChatOwnerMismatch)
	}
	return nil
}

func (s *Store) Close() error {
	if s.raw != nil {
		s.raw.Close()
	}
	return nil
}
