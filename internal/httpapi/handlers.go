package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucav88/ava/internal/crawl"
	"github.com/lucav88/ava/internal/media"
	"github.com/lucav88/ava/internal/orchestrator"
	"github.com/lucav88/ava/internal/store"
)

const maxAudioUpload = 25 << 20

type personaView struct {
	store.Persona
	ImageURL string `json:"imageUrl,omitempty"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas := s.personas.Personas(r.Context())
	out := make([]personaView, 0, len(personas))
	for _, p := range personas {
		view := personaView{Persona: p}
		if p.ImageKey != "" {
			url, err := s.media.SignedURL(p.ImageKey, s.cfg.PersonaArtURLTTL)
			if err != nil {
				s.logger.Warn().Err(err).Str("persona", p.ID).Msg("persona art signing failed")
			} else {
				view.ImageURL = url
				s.metrics.SignedURLs.WithLabelValues("persona_art").Inc()
			}
		}
		out = append(out, view)
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

func (s *Server) handleListLocations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"locations": crawl.Supported()})
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p store.Profile
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(p.UID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "uid is required")
		return
	}
	if strings.TrimSpace(p.Email) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	p.Saved = true

	if err := s.profiles.SaveProfile(r.Context(), p); err != nil {
		respondError(w, http.StatusBadRequest, "profile_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"uid": p.UID, "saved": true})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	p, err := s.profiles.GetProfile(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "profile_not_found", "no profile for uid "+uid)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	err := s.profiles.DeleteProfile(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "profile_not_found", "no profile for uid "+uid)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile_delete_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"uid": uid, "deleted": true})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	chats, err := s.chats.ListChats(r.Context(), uid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat_list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	chatID := chi.URLParam(r, "chatId")
	chat, err := s.chats.GetChat(r.Context(), uid, chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat_load_failed", err.Error())
		return
	}
	if chat == nil {
		respondError(w, http.StatusNotFound, "chat_not_found", "no chat "+chatID+" for uid "+uid)
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	chatID := chi.URLParam(r, "chatId")
	err := s.chats.DeleteChat(r.Context(), uid, chatID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "chat_not_found", "no chat "+chatID+" for uid "+uid)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "chat_delete_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chatId": chatID, "deleted": true})
}

type textTurnRequest struct {
	UID               string   `json:"uid"`
	ChatID            string   `json:"chatId"`
	PersonaID         string   `json:"personaId"`
	PersonaName       string   `json:"personaName"`
	Message           string   `json:"message"`
	Locations         []string `json:"locations"`
	Video             bool     `json:"video"`
	DialoguePersonaID string   `json:"dialoguePersonaId"`
}

func (s *Server) handleTextTurn(w http.ResponseWriter, r *http.Request) {
	var req textTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "uid is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	resp, err := s.turner.Turn(r.Context(), orchestrator.TurnRequest{
		UID:               req.UID,
		ChatID:            req.ChatID,
		PersonaID:         req.PersonaID,
		PersonaName:       req.PersonaName,
		Message:           req.Message,
		Locations:         req.Locations,
		WantVideo:         req.Video,
		DialoguePersonaID: req.DialoguePersonaID,
	})
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudioTurn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	uid := strings.TrimSpace(r.FormValue("uid"))
	if uid == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "uid is required")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio file is required")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "read audio: "+err.Error())
		return
	}
	if len(audio) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio file is empty")
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	video, _ := strconv.ParseBool(r.FormValue("video"))
	resp, err := s.turner.Turn(r.Context(), orchestrator.TurnRequest{
		UID:               uid,
		ChatID:            r.FormValue("chatId"),
		PersonaID:         r.FormValue("personaId"),
		PersonaName:       r.FormValue("personaName"),
		Locations:         splitList(r.FormValue("locations")),
		WantVideo:         video,
		Audio:             audio,
		AudioMIME:         mimeType,
		DialoguePersonaID: r.FormValue("dialoguePersonaId"),
	})
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrNoPersona) {
		respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
}

func (s *Server) handleSignMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !media.ValidTurnKey(key) {
		respondError(w, http.StatusBadRequest, "invalid_key", "malformed media key")
		return
	}
	url, err := s.media.SignedURL(key, s.cfg.MediaURLTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sign_failed", err.Error())
		return
	}
	s.metrics.SignedURLs.WithLabelValues("api").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresIn": int64(s.cfg.MediaURLTTL.Seconds()),
	})
}

// handleStreamMedia proxies object bytes for clients that cannot follow
// signed URLs. Keys outside the turn-media shape are rejected before any
// bucket access.
func (s *Server) handleStreamMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !media.ValidTurnKey(key) {
		respondError(w, http.StatusBadRequest, "invalid_key", "malformed media key")
		return
	}
	rc, contentType, err := s.media.Open(r.Context(), key)
	if errors.Is(err, media.ErrNotFound) {
		respondError(w, http.StatusNotFound, "object_not_found", "no media stored under this key")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "media_open_failed", err.Error())
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("media stream aborted")
	}
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
