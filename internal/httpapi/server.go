// Package httpapi exposes the chat, profile, persona and media surface over
// REST. Handlers translate HTTP to orchestrator and store calls; they hold no
// business logic of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/config"
	"github.com/lucav88/ava/internal/observability"
	"github.com/lucav88/ava/internal/orchestrator"
	"github.com/lucav88/ava/internal/store"
)

// Turner runs one chat exchange end to end.
type Turner interface {
	Turn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResponse, error)
}

type PersonaDirectory interface {
	Personas(ctx context.Context) []store.Persona
}

type ProfileStore interface {
	SaveProfile(ctx context.Context, p store.Profile) error
	GetProfile(ctx context.Context, uid string) (*store.Profile, error)
	DeleteProfile(ctx context.Context, uid string) error
}

type ChatStore interface {
	ListChats(ctx context.Context, uid string) ([]store.ChatSummary, error)
	GetChat(ctx context.Context, uid, chatID string) (*store.Chat, error)
	DeleteChat(ctx context.Context, uid, chatID string) error
}

type MediaStore interface {
	SignedURL(key string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

type Server struct {
	cfg      config.Config
	turner   Turner
	personas PersonaDirectory
	profiles ProfileStore
	chats    ChatStore
	media    MediaStore
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func New(cfg config.Config, turner Turner, personas PersonaDirectory, profiles ProfileStore, chats ChatStore, media MediaStore, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		turner:   turner,
		personas: personas,
		profiles: profiles,
		chats:    chats,
		media:    media,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/personas", s.handleListPersonas)
	r.Get("/api/locations", s.handleListLocations)

	r.Post("/api/profile/save", s.handleSaveProfile)
	r.Get("/api/profile/{uid}", s.handleGetProfile)
	r.Delete("/api/profile/{uid}", s.handleDeleteProfile)

	r.Get("/api/chats/{uid}", s.handleListChats)
	r.Get("/api/chats/{uid}/{chatId}", s.handleGetChat)
	r.Delete("/api/chats/{uid}/{chatId}", s.handleDeleteChat)

	r.Post("/api/chat/text", s.handleTextTurn)
	r.Post("/api/chat/audio", s.handleAudioTurn)

	r.Get("/api/audio/sign/*", s.handleSignMedia)
	r.Get("/api/audio/s3/*", s.handleStreamMedia)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the persona directory answers; it is the one dependency
	// every turn needs.
	if len(s.personas.Personas(r.Context())) == 0 {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "persona directory is empty")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
