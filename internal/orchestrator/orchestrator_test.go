package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/observability"
	"github.com/lucav88/ava/internal/store"
)

type fakePersonas struct {
	personas []store.Persona
}

func (f *fakePersonas) Personas(context.Context) []store.Persona { return f.personas }

func (f *fakePersonas) ByID(_ context.Context, id string) (store.Persona, bool) {
	for _, p := range f.personas {
		if p.ID == id {
			return p, true
		}
	}
	return store.Persona{}, false
}

func (f *fakePersonas) ByName(_ context.Context, name string) (store.Persona, bool) {
	for _, p := range f.personas {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return store.Persona{}, false
}

type fakeChats struct {
	chats   map[string]*store.Chat
	saveErr error
	getErr  error
	saved   []store.Turn
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: map[string]*store.Chat{}}
}

func (f *fakeChats) GetChat(_ context.Context, uid, chatID string) (*store.Chat, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.chats[uid+"/"+chatID], nil
}

func (f *fakeChats) SaveTurn(_ context.Context, t store.Turn) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, t)
	key := t.UID + "/" + t.ChatID
	chat := f.chats[key]
	if chat == nil {
		chat = &store.Chat{ID: t.ChatID, UID: t.UID, PersonaID: t.Persona.ID, Title: t.Title}
		f.chats[key] = chat
	}
	chat.Messages = append(chat.Messages, store.TurnMessages(t, time.Now())...)
	return nil
}

type fakeAI struct {
	reply          string
	replyErr       error
	speechErr      error
	transcript     string
	transcribeErr  error
	gotHistory     []store.Message
	gotContext     string
	gotUserText    string
	speechRequests int
	dialogueVoices []string
}

func (f *fakeAI) GenerateReply(_ context.Context, userText string, _ store.Persona, history []store.Message, contextBlock string) (string, error) {
	f.gotUserText = userText
	f.gotHistory = history
	f.gotContext = contextBlock
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

func (f *fakeAI) SynthesizeSpeech(_ context.Context, text string, _ store.Persona) ([]byte, string, error) {
	f.speechRequests++
	if f.speechErr != nil {
		return nil, "", f.speechErr
	}
	return []byte("pcm:" + text), "audio/pcm", nil
}

func (f *fakeAI) SynthesizeDialogue(_ context.Context, userText, replyText string, a, b store.Persona) ([]byte, string, error) {
	f.dialogueVoices = []string{a.VoiceID, b.VoiceID}
	if f.speechErr != nil {
		return nil, "", f.speechErr
	}
	return []byte("pcm:" + userText + "|" + replyText), "audio/pcm", nil
}

func (f *fakeAI) Transcribe(context.Context, []byte, string) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

type fakeCrawl struct {
	blocks map[string]string
	calls  []string
}

func (f *fakeCrawl) Fetch(_ context.Context, tag, _ string) string {
	f.calls = append(f.calls, tag)
	return f.blocks[tag]
}

type fakeMedia struct {
	objects map[string][]byte
	putErr  error
	signErr error
}

func newFakeMedia() *fakeMedia { return &fakeMedia{objects: map[string][]byte{}} }

func (f *fakeMedia) Put(_ context.Context, key string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeMedia) SignedURL(key string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/" + key, nil
}

func (f *fakeMedia) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "application/octet-stream", nil
}

type fakeVideo struct {
	clip  []byte
	err   error
	calls int
}

func (f *fakeVideo) Render(context.Context, store.Persona, []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.clip, nil
}

type fixture struct {
	orch     *Orchestrator
	personas *fakePersonas
	chats    *fakeChats
	ai       *fakeAI
	crawl    *fakeCrawl
	media    *fakeMedia
	video    *fakeVideo
	metrics  *observability.Metrics
}

func newFixture() *fixture {
	f := &fixture{
		personas: &fakePersonas{personas: []store.Persona{
			{ID: "p-ava", Name: "Ava", VoiceID: "kore", Tone: "warm", ImageKey: "personas/ava.webp"},
			{ID: "p-rex", Name: "Rex", VoiceID: "charon", Tone: "gruff", ImageKey: "personas/rex.webp"},
		}},
		chats:   newFakeChats(),
		ai:      &fakeAI{reply: "[smiles] Hello there!"},
		crawl:   &fakeCrawl{blocks: map[string]string{}},
		media:   newFakeMedia(),
		video:   &fakeVideo{clip: []byte("mp4-bytes")},
		metrics: observability.NewTestMetrics(),
	}
	f.orch = New(Deps{
		Personas:    f.personas,
		Chats:       f.chats,
		AI:          f.ai,
		Crawl:       f.crawl,
		Media:       f.media,
		Video:       f.video,
		Metrics:     f.metrics,
		Logger:      zerolog.Nop(),
		MediaURLTTL: time.Hour,
	})
	return f
}

func TestTurnTextHappyPath(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Turn(context.Background(), TurnRequest{
		UID:       "u1",
		PersonaID: "p-ava",
		Message:   "  hi  ",
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.ChatID == "" {
		t.Fatalf("new chat must be assigned an id")
	}
	if resp.ResponseText != "Hello there!" {
		t.Fatalf("ResponseText = %q, want emotion tags stripped", resp.ResponseText)
	}
	if resp.PersonaID != "p-ava" || resp.PersonaName != "Ava" {
		t.Fatalf("persona attribution = %s/%s", resp.PersonaID, resp.PersonaName)
	}
	if resp.AudioURL == nil || !strings.Contains(*resp.AudioURL, resp.ChatID) {
		t.Fatalf("AudioURL = %v, want signed url for this chat", resp.AudioURL)
	}
	if resp.VideoURL != nil {
		t.Fatalf("VideoURL must be nil when video was not requested")
	}
	if f.ai.gotUserText != "hi" {
		t.Fatalf("user text = %q, want trimmed input", f.ai.gotUserText)
	}

	if len(f.chats.saved) != 1 {
		t.Fatalf("saved turns = %d, want 1", len(f.chats.saved))
	}
	turn := f.chats.saved[0]
	if turn.Title != "hi" {
		t.Fatalf("new chat title = %q", turn.Title)
	}
	msgs := store.TurnMessages(turn, time.Now())
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("a turn must append exactly one user and one assistant message, got %+v", msgs)
	}
	if msgs[1].PersonaID != "p-ava" {
		t.Fatalf("assistant message must carry persona attribution")
	}
	if msgs[0].PersonaID != "" {
		t.Fatalf("user message must not carry persona attribution")
	}
}

func TestTurnSequentialTurnsAccumulate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.Turn(ctx, TurnRequest{UID: "u1", PersonaID: "p-ava", Message: "first"})
	if err != nil {
		t.Fatalf("first Turn() error = %v", err)
	}
	second, err := f.orch.Turn(ctx, TurnRequest{UID: "u1", ChatID: first.ChatID, Message: "second"})
	if err != nil {
		t.Fatalf("second Turn() error = %v", err)
	}
	if second.ChatID != first.ChatID {
		t.Fatalf("continuing turn created a new chat: %s vs %s", second.ChatID, first.ChatID)
	}
	if second.PersonaID != "p-ava" {
		t.Fatalf("second turn persona = %s, want the chat's stored persona", second.PersonaID)
	}

	chat := f.chats.chats["u1/"+first.ChatID]
	if chat == nil || len(chat.Messages) != 4 {
		t.Fatalf("after two turns the chat must hold 4 messages, got %+v", chat)
	}
	if len(f.ai.gotHistory) != 2 {
		t.Fatalf("second turn history = %d messages, want the first turn's 2", len(f.ai.gotHistory))
	}
}

func TestTurnPersonaFallbackChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	byName, err := f.orch.Turn(ctx, TurnRequest{UID: "u1", PersonaName: "rex", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if byName.PersonaID != "p-rex" {
		t.Fatalf("name lookup resolved %s, want p-rex", byName.PersonaID)
	}

	unknown, err := f.orch.Turn(ctx, TurnRequest{UID: "u1", PersonaID: "p-gone", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if unknown.PersonaID != "p-ava" {
		t.Fatalf("unknown persona id must fall back to the first persona, got %s", unknown.PersonaID)
	}
}

func TestTurnNoPersonaAvailable(t *testing.T) {
	f := newFixture()
	f.personas.personas = nil

	_, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"})
	if !errors.Is(err, ErrNoPersona) {
		t.Fatalf("Turn() error = %v, want ErrNoPersona", err)
	}
	if len(f.chats.saved) != 0 {
		t.Fatalf("nothing may be persisted when the turn fails")
	}
}

func TestTurnReplyFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.ai.replyErr = errors.New("model unavailable")

	_, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"})
	if err == nil {
		t.Fatalf("Turn() must fail when reply generation fails")
	}
	if len(f.chats.saved) != 0 {
		t.Fatalf("failed turns must not be persisted")
	}
}

func TestTurnSpeechFailureDegradesToTextOnly(t *testing.T) {
	f := newFixture()
	f.ai.speechErr = errors.New("tts quota exhausted")

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi", WantVideo: true})
	if err != nil {
		t.Fatalf("Turn() error = %v, speech failure must not kill the turn", err)
	}
	if resp.ResponseText == "" {
		t.Fatalf("text reply must survive speech failure")
	}
	if resp.AudioURL != nil || resp.VideoURL != nil {
		t.Fatalf("audio and video must be nil after speech failure, got %v / %v", resp.AudioURL, resp.VideoURL)
	}
	if f.video.calls != 0 {
		t.Fatalf("video must not run without synthesized speech")
	}
	if len(f.chats.saved) != 1 || f.chats.saved[0].AudioKey != "" {
		t.Fatalf("persisted turn must carry no audio key")
	}
}

func TestTurnVideoRequested(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi", WantVideo: true})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.VideoURL == nil {
		t.Fatalf("VideoURL must be set when video was requested and audio succeeded")
	}
	if f.video.calls != 1 {
		t.Fatalf("video renderer calls = %d, want 1", f.video.calls)
	}
	if f.chats.saved[0].VideoKey == "" {
		t.Fatalf("persisted turn must reference the video object")
	}
	clip, ok := f.media.objects[f.chats.saved[0].VideoKey]
	if !ok || string(clip) != "mp4-bytes" {
		t.Fatalf("video bytes missing from media store")
	}
}

func TestTurnVideoFailureDegrades(t *testing.T) {
	f := newFixture()
	f.video.err = errors.New("engine down")

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi", WantVideo: true})
	if err != nil {
		t.Fatalf("Turn() error = %v, video failure must not kill the turn", err)
	}
	if resp.VideoURL != nil {
		t.Fatalf("VideoURL must be nil after video failure")
	}
	if resp.AudioURL == nil {
		t.Fatalf("audio must survive a video failure")
	}
}

func TestTurnPersistenceFailureTolerated(t *testing.T) {
	f := newFixture()
	f.chats.saveErr = errors.New("database down")

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn() error = %v, persistence failure must not kill the turn", err)
	}
	if resp.ResponseText == "" || resp.AudioURL == nil {
		t.Fatalf("reply and audio must survive a persistence failure")
	}
}

func TestTurnHistoryLoadFailureTolerated(t *testing.T) {
	f := newFixture()
	f.chats.getErr = errors.New("database down")

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", ChatID: "c1", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn() error = %v, history load failure must degrade to empty history", err)
	}
	if resp.ChatID != "c1" {
		t.Fatalf("chat id must be preserved, got %s", resp.ChatID)
	}
	if len(f.ai.gotHistory) != 0 {
		t.Fatalf("history must be empty after a failed load")
	}
}

func TestTurnDialogueSpeech(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Turn(context.Background(), TurnRequest{
		UID:               "u1",
		PersonaID:         "p-ava",
		DialoguePersonaID: "p-rex",
		Message:           "hi",
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.AudioURL == nil {
		t.Fatalf("dialogue turn must still produce audio")
	}
	if len(f.ai.dialogueVoices) != 2 || f.ai.dialogueVoices[0] != "charon" || f.ai.dialogueVoices[1] != "kore" {
		t.Fatalf("dialogue voices = %v, want user side then reply side", f.ai.dialogueVoices)
	}
	if f.ai.speechRequests != 0 {
		t.Fatalf("single-speaker synthesis must not run on a dialogue turn")
	}

	// Unknown dialogue persona falls back to single-speaker speech.
	f2 := newFixture()
	if _, err := f2.orch.Turn(context.Background(), TurnRequest{
		UID:               "u1",
		DialoguePersonaID: "p-gone",
		Message:           "hi",
	}); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if f2.ai.speechRequests != 1 {
		t.Fatalf("unresolvable dialogue persona must fall back to single-speaker speech")
	}
}

func TestTurnPartialCrawlContext(t *testing.T) {
	f := newFixture()
	f.crawl.blocks = map[string]string{
		"austin": "LEAD STORY\nAustin flood warning",
		// seattle degraded to nothing
	}

	_, err := f.orch.Turn(context.Background(), TurnRequest{
		UID:       "u1",
		Message:   "what's happening?",
		Locations: []string{"austin", "seattle"},
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if !strings.Contains(f.ai.gotContext, "Austin flood warning") {
		t.Fatalf("context block = %q, must contain the successful location", f.ai.gotContext)
	}
	if strings.Contains(f.ai.gotContext, "---") {
		t.Fatalf("single surviving block must not carry a separator: %q", f.ai.gotContext)
	}
}

func TestTurnDropsUnsupportedLocations(t *testing.T) {
	f := newFixture()
	f.crawl.blocks = map[string]string{"austin": "LEAD STORY\nAustin flood warning"}

	_, err := f.orch.Turn(context.Background(), TurnRequest{
		UID:       "u1",
		Message:   "anything new?",
		Locations: []string{"austin", "atlantis", "  "},
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(f.crawl.calls) != 1 || f.crawl.calls[0] != "austin" {
		t.Fatalf("crawl fetches = %v, want only the supported tag", f.crawl.calls)
	}
	if !strings.Contains(f.ai.gotContext, "Austin flood warning") {
		t.Fatalf("context block = %q, must keep the supported location", f.ai.gotContext)
	}
}

func TestTurnCountsProviderErrors(t *testing.T) {
	f := newFixture()
	f.ai.speechErr = errors.New("tts quota exhausted")

	if _, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"}); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.ProviderErrors.WithLabelValues("openai", "speech")); got != 1 {
		t.Fatalf("speech provider errors = %v, want 1", got)
	}

	f2 := newFixture()
	f2.ai.replyErr = errors.New("model unavailable")
	if _, err := f2.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"}); err == nil {
		t.Fatalf("Turn() must fail when reply generation fails")
	}
	if got := testutil.ToFloat64(f2.metrics.ProviderErrors.WithLabelValues("openai", "chat")); got != 1 {
		t.Fatalf("chat provider errors = %v, want 1", got)
	}
}

func TestTurnAudioInput(t *testing.T) {
	f := newFixture()
	f.ai.transcript = "spoken words"

	resp, err := f.orch.Turn(context.Background(), TurnRequest{
		UID:       "u1",
		Audio:     []byte("webm-bytes"),
		AudioMIME: "audio/webm",
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if resp.TranscribedText != "spoken words" {
		t.Fatalf("TranscribedText = %q", resp.TranscribedText)
	}
	if f.ai.gotUserText != "spoken words" {
		t.Fatalf("reply generation must see the transcript, got %q", f.ai.gotUserText)
	}
	if f.chats.saved[0].UserAudioKey == "" {
		t.Fatalf("user audio must be archived")
	}
	if !strings.HasSuffix(f.chats.saved[0].UserAudioKey, ".webm") {
		t.Fatalf("user audio key = %q, want container-matched extension", f.chats.saved[0].UserAudioKey)
	}
}

func TestTurnTranscriptionFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.ai.transcribeErr = errors.New("audio too noisy")

	_, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Audio: []byte("x"), AudioMIME: "audio/webm"})
	if err == nil {
		t.Fatalf("Turn() must fail when transcription fails")
	}
}

func TestTurnSigningFailureDegrades(t *testing.T) {
	f := newFixture()
	f.media.signErr = errors.New("signer unavailable")

	resp, err := f.orch.Turn(context.Background(), TurnRequest{UID: "u1", Message: "hi"})
	if err != nil {
		t.Fatalf("Turn() error = %v, signing failure must not kill the turn", err)
	}
	if resp.AudioURL != nil {
		t.Fatalf("AudioURL must be nil when signing fails")
	}
	if f.chats.saved[0].AudioKey == "" {
		t.Fatalf("the object key must still be persisted for later retrieval")
	}
}

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("community news ", 10)
	title := deriveTitle(long)
	if len(title) > maxTitleLength {
		t.Fatalf("title length = %d, want <= %d", len(title), maxTitleLength)
	}
	if strings.HasSuffix(title, " ") {
		t.Fatalf("title must not end mid-space: %q", title)
	}
	if got := deriveTitle("short"); got != "short" {
		t.Fatalf("deriveTitle(short) = %q", got)
	}

	// A multibyte run whose runes straddle the byte limit must not be cut
	// mid-rune.
	accented := deriveTitle("a" + strings.Repeat("é", 60))
	if !utf8.ValidString(accented) {
		t.Fatalf("title contains invalid utf-8: %q", accented)
	}
	if len(accented) > maxTitleLength {
		t.Fatalf("title length = %d, want <= %d", len(accented), maxTitleLength)
	}
}

func TestHistoryWindow(t *testing.T) {
	chat := &store.Chat{}
	for i := 0; i < 30; i++ {
		chat.Messages = append(chat.Messages, store.Message{Content: fmt.Sprintf("m%d", i)})
	}
	window := history(chat)
	if len(window) != maxHistoryMessages {
		t.Fatalf("history window = %d, want %d", len(window), maxHistoryMessages)
	}
	if window[len(window)-1].Content != "m29" {
		t.Fatalf("window must keep the most recent messages, last = %q", window[len(window)-1].Content)
	}
}
