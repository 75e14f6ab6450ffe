// Package orchestrator sequences one chat turn: persona resolution, history
// load, crawl-context assembly, reply generation, speech and video synthesis,
// persistence and signed-URL issuance. Reply generation and persona
// resolution are fatal; every other stage degrades and the turn proceeds.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/ai"
	"github.com/lucav88/ava/internal/audio"
	"github.com/lucav88/ava/internal/crawl"
	"github.com/lucav88/ava/internal/media"
	"github.com/lucav88/ava/internal/observability"
	"github.com/lucav88/ava/internal/store"
)

// ErrNoPersona means no persona could be resolved at all; the turn cannot run.
var ErrNoPersona = errors.New("no persona available")

const (
	maxHistoryMessages = 20
	maxTitleLength     = 48
	speechSampleRate   = 24000
)

type PersonaDirectory interface {
	Personas(ctx context.Context) []store.Persona
	ByID(ctx context.Context, id string) (store.Persona, bool)
	ByName(ctx context.Context, name string) (store.Persona, bool)
}

type ChatStore interface {
	GetChat(ctx context.Context, uid, chatID string) (*store.Chat, error)
	SaveTurn(ctx context.Context, t store.Turn) error
}

type AIClient interface {
	GenerateReply(ctx context.Context, userText string, persona store.Persona, history []store.Message, contextBlock string) (string, error)
	SynthesizeSpeech(ctx context.Context, text string, persona store.Persona) ([]byte, string, error)
	SynthesizeDialogue(ctx context.Context, userText, replyText string, personaA, personaB store.Persona) ([]byte, string, error)
	Transcribe(ctx context.Context, audioBytes []byte, mimeType string) (string, error)
}

// ContextFetcher renders crawl context for one location. It never fails; a
// degraded fetch comes back as the deterministic no-results string.
type ContextFetcher interface {
	Fetch(ctx context.Context, locationTag, query string) string
}

type MediaStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(key string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// VideoRenderer produces a talking-head clip for a persona from WAV speech.
type VideoRenderer interface {
	Render(ctx context.Context, persona store.Persona, wav []byte) ([]byte, error)
}

type Deps struct {
	Personas PersonaDirectory
	Chats    ChatStore
	AI       AIClient
	Crawl    ContextFetcher
	Media    MediaStore
	Video    VideoRenderer
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	MediaURLTTL time.Duration
}

type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	if deps.MediaURLTTL <= 0 {
		deps.MediaURLTTL = time.Hour
	}
	return &Orchestrator{deps: deps}
}

// TurnRequest is one inbound chat exchange. Either Message or Audio must be
// set; audio turns are transcribed before the text pipeline runs.
type TurnRequest struct {
	UID         string
	ChatID      string
	PersonaID   string
	PersonaName string
	Message     string
	Locations   []string
	WantVideo   bool
	Audio       []byte
	AudioMIME   string
	// DialoguePersonaID voices the user's side of the exchange, turning the
	// reply audio into a two-party script.
	DialoguePersonaID string
}

type TurnResponse struct {
	ChatID          string  `json:"chatId"`
	PersonaID       string  `json:"personaId"`
	PersonaName     string  `json:"personaName"`
	ResponseText    string  `json:"responseText"`
	TranscribedText string  `json:"transcribedText,omitempty"`
	AudioURL        *string `json:"audioUrl"`
	VideoURL        *string `json:"videoUrl"`
}

// Turn runs one full chat exchange.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	started := time.Now()
	d := o.deps
	log := d.Logger.With().Str("uid", req.UID).Logger()

	userText := strings.TrimSpace(req.Message)
	transcribed := ""
	if len(req.Audio) > 0 {
		text, err := d.AI.Transcribe(ctx, req.Audio, req.AudioMIME)
		if err != nil {
			d.Metrics.ProviderErrors.WithLabelValues("openai", "transcribe").Inc()
			d.Metrics.ObserveTurn("transcription_failed", time.Since(started))
			return nil, err
		}
		transcribed = text
		userText = text
	}

	// Load prior turns when the caller continues an existing chat. A failed
	// load degrades to an empty history, it does not kill the turn.
	var chat *store.Chat
	chatID := strings.TrimSpace(req.ChatID)
	if chatID != "" {
		loaded, err := d.Chats.GetChat(ctx, req.UID, chatID)
		if err != nil {
			d.Metrics.StageFailures.WithLabelValues("history").Inc()
			log.Warn().Err(err).Str("chat_id", chatID).Msg("history load failed, continuing without context")
		} else {
			chat = loaded
		}
	} else {
		chatID = uuid.NewString()
	}

	persona, err := o.resolvePersona(ctx, req, chat)
	if err != nil {
		d.Metrics.ObserveTurn("no_persona", time.Since(started))
		return nil, err
	}
	log = log.With().Str("persona", persona.ID).Logger()

	contextBlock := o.assembleContext(ctx, req.Locations, userText)

	reply, err := d.AI.GenerateReply(ctx, userText, persona, history(chat), contextBlock)
	if err != nil {
		d.Metrics.ProviderErrors.WithLabelValues("openai", "chat").Inc()
		d.Metrics.ObserveTurn("generation_failed", time.Since(started))
		return nil, err
	}

	var (
		speechPCM []byte
		audioKey  string
	)
	speechPCM, speechMIME, err := o.synthesize(ctx, req, userText, reply, persona)
	if err != nil {
		d.Metrics.ProviderErrors.WithLabelValues("openai", "speech").Inc()
		d.Metrics.StageFailures.WithLabelValues("speech").Inc()
		log.Warn().Err(err).Msg("speech synthesis failed, continuing text-only")
		speechPCM = nil
	} else {
		key := media.TurnMediaKey(req.UID, chatID, "pcm")
		if err := d.Media.Put(ctx, key, speechPCM, speechMIME); err != nil {
			d.Metrics.StageFailures.WithLabelValues("audio_upload").Inc()
			log.Warn().Err(err).Msg("speech upload failed, reply stays text-only")
		} else {
			audioKey = key
		}
	}

	videoKey := ""
	if req.WantVideo && len(speechPCM) > 0 {
		videoKey = o.renderVideo(ctx, log, req.UID, chatID, persona, speechPCM)
	}

	userAudioKey := ""
	if len(req.Audio) > 0 {
		key := media.TurnMediaKey(req.UID, chatID, extForMIME(req.AudioMIME))
		if err := d.Media.Put(ctx, key, req.Audio, req.AudioMIME); err != nil {
			d.Metrics.StageFailures.WithLabelValues("user_audio_upload").Inc()
			log.Warn().Err(err).Msg("user audio upload failed")
		} else {
			userAudioKey = key
		}
	}

	displayText := ai.StripEmotionTags(reply)

	turn := store.Turn{
		UID:          req.UID,
		ChatID:       chatID,
		UserText:     userText,
		ReplyText:    displayText,
		Persona:      persona,
		AudioKey:     audioKey,
		UserAudioKey: userAudioKey,
		VideoKey:     videoKey,
	}
	if chat == nil {
		turn.Title = deriveTitle(userText)
	}
	// Persistence is best-effort: the user still gets their reply.
	if err := d.Chats.SaveTurn(ctx, turn); err != nil {
		d.Metrics.StageFailures.WithLabelValues("persistence").Inc()
		log.Error().Err(err).Str("chat_id", chatID).Msg("turn persistence failed")
	}

	resp := &TurnResponse{
		ChatID:          chatID,
		PersonaID:       persona.ID,
		PersonaName:     persona.Name,
		ResponseText:    displayText,
		TranscribedText: transcribed,
		AudioURL:        o.signKey(log, audioKey, "audio"),
		VideoURL:        o.signKey(log, videoKey, "video"),
	}
	d.Metrics.ObserveTurn("ok", time.Since(started))
	return resp, nil
}

// synthesize voices the reply. With a resolvable dialogue persona the whole
// exchange is rendered as a two-party script; otherwise the reply alone is
// spoken in the responding persona's voice.
func (o *Orchestrator) synthesize(ctx context.Context, req TurnRequest, userText, reply string, persona store.Persona) ([]byte, string, error) {
	if req.DialoguePersonaID != "" {
		if voice, ok := o.deps.Personas.ByID(ctx, req.DialoguePersonaID); ok {
			return o.deps.AI.SynthesizeDialogue(ctx, userText, reply, voice, persona)
		}
	}
	return o.deps.AI.SynthesizeSpeech(ctx, reply, persona)
}

// resolvePersona walks the fallback chain: explicit id, explicit name, the
// chat's stored persona, then the first available persona.
func (o *Orchestrator) resolvePersona(ctx context.Context, req TurnRequest, chat *store.Chat) (store.Persona, error) {
	d := o.deps
	if req.PersonaID != "" {
		if p, ok := d.Personas.ByID(ctx, req.PersonaID); ok {
			return p, nil
		}
	}
	if req.PersonaName != "" {
		if p, ok := d.Personas.ByName(ctx, req.PersonaName); ok {
			return p, nil
		}
	}
	if chat != nil && chat.PersonaID != "" {
		if p, ok := d.Personas.ByID(ctx, chat.PersonaID); ok {
			return p, nil
		}
	}
	if all := d.Personas.Personas(ctx); len(all) > 0 {
		return all[0], nil
	}
	return store.Persona{}, ErrNoPersona
}

// assembleContext fetches crawl context per location, best-effort. Tags
// outside the supported location table are dropped before any fetch; whatever
// subset succeeded is joined. A turn never fails for a crawl failure.
func (o *Orchestrator) assembleContext(ctx context.Context, locationTags []string, query string) string {
	blocks := make([]string, 0, len(locationTags))
	for _, tag := range locationTags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := crawl.Lookup(tag); !ok {
			o.deps.Logger.Debug().Str("location", tag).Msg("unsupported location tag dropped")
			continue
		}
		if block := o.deps.Crawl.Fetch(ctx, tag, query); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func (o *Orchestrator) renderVideo(ctx context.Context, log zerolog.Logger, uid, chatID string, persona store.Persona, speechPCM []byte) string {
	d := o.deps
	if d.Video == nil {
		log.Warn().Msg("video requested but no renderer is configured")
		return ""
	}
	wav, err := audio.EncodeWAVPCM16LE(speechPCM, speechSampleRate, 1)
	if err != nil {
		d.Metrics.StageFailures.WithLabelValues("video").Inc()
		log.Warn().Err(err).Msg("audio conversion for video failed")
		return ""
	}

	clip, err := d.Video.Render(ctx, persona, wav)
	if err != nil {
		d.Metrics.ProviderErrors.WithLabelValues("video_engine", "render").Inc()
		d.Metrics.StageFailures.WithLabelValues("video").Inc()
		d.Metrics.VideoJobs.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("video synthesis failed, continuing without video")
		return ""
	}
	d.Metrics.VideoJobs.WithLabelValues("success").Inc()

	key := media.TurnMediaKey(uid, chatID, "mp4")
	if err := d.Media.Put(ctx, key, clip, "video/mp4"); err != nil {
		d.Metrics.StageFailures.WithLabelValues("video_upload").Inc()
		log.Warn().Err(err).Msg("video upload failed")
		return ""
	}
	return key
}

func (o *Orchestrator) signKey(log zerolog.Logger, key, kind string) *string {
	if key == "" {
		return nil
	}
	url, err := o.deps.Media.SignedURL(key, o.deps.MediaURLTTL)
	if err != nil {
		o.deps.Metrics.StageFailures.WithLabelValues("signing").Inc()
		log.Warn().Err(err).Str("key", key).Msg("signed url issuance failed")
		return nil
	}
	o.deps.Metrics.SignedURLs.WithLabelValues(kind).Inc()
	return &url
}

func history(chat *store.Chat) []store.Message {
	if chat == nil || len(chat.Messages) == 0 {
		return nil
	}
	msgs := chat.Messages
	if len(msgs) > maxHistoryMessages {
		msgs = msgs[len(msgs)-maxHistoryMessages:]
	}
	return msgs
}

func deriveTitle(userText string) string {
	title := strings.Join(strings.Fields(userText), " ")
	if len(title) <= maxTitleLength {
		return title
	}
	// Back the cut point up to a rune start so multibyte characters survive
	// the slice intact.
	limit := maxTitleLength
	for limit > 0 && !utf8.RuneStart(title[limit]) {
		limit--
	}
	cut := title[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > maxTitleLength/2 {
		cut = cut[:i]
	}
	return cut
}

func extForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "mp3"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	case strings.Contains(mimeType, "webm"):
		return "webm"
	default:
		return "pcm"
	}
}
