// Package ai wraps the generative provider behind three operations: reply
// generation, speech synthesis and transcription. Errors propagate unmodified;
// fallback behavior belongs to the orchestrator.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lucav88/ava/internal/store"
)

type Config struct {
	APIKey    string
	BaseURL   string
	ChatModel string
	TTSModel  string
	STTModel  string
}

type Client struct {
	client *openai.Client
	cfg    Config
}

func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{}
	if strings.TrimSpace(cfg.APIKey) != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client, cfg: cfg}
}

// GenerateReply produces the assistant's next utterance. History arrives as
// role-tagged prior turns; contextBlock, when non-empty, is the rendered
// crawl context and gets its framing inside the system instruction.
func (c *Client) GenerateReply(ctx context.Context, userText string, persona store.Persona, history []store.Message, contextBlock string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(SystemInstruction(persona, contextBlock)))
	for _, m := range history {
		switch m.Role {
		case store.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case store.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.cfg.ChatModel),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat completion returned empty content")
	}
	return text, nil
}

// SynthesizeSpeech renders single-speaker PCM audio in the persona's voice.
// The persona tone is applied as a directive prefix on the input script.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, persona store.Persona) ([]byte, string, error) {
	data, err := c.speak(ctx, speechScript(text, persona), VoiceFor(persona.VoiceID))
	if err != nil {
		return nil, "", err
	}
	return data, "audio/pcm", nil
}

// SynthesizeDialogue renders a two-party script with two distinct voices and
// returns the concatenated PCM stream.
func (c *Client) SynthesizeDialogue(ctx context.Context, userText, replyText string, personaA, personaB store.Persona) ([]byte, string, error) {
	first, err := c.speak(ctx, speechScript(userText, personaA), VoiceFor(personaA.VoiceID))
	if err != nil {
		return nil, "", fmt.Errorf("first speaker: %w", err)
	}
	second, err := c.speak(ctx, speechScript(replyText, personaB), VoiceFor(personaB.VoiceID))
	if err != nil {
		return nil, "", fmt.Errorf("second speaker: %w", err)
	}
	out := make([]byte, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second...)
	return out, "audio/pcm", nil
}

func (c *Client) speak(ctx context.Context, script, voice string) ([]byte, error) {
	res, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.cfg.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          script,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("speech synthesis returned empty audio")
	}
	return data, nil
}

// Transcribe converts user audio into text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.cfg.STTModel),
		File:  openai.File(bytes.NewReader(audio), fileNameForMIME(mimeType), mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcription returned empty text")
	}
	return text, nil
}

// VoiceFor maps a persona voice identifier onto a provider voice, defaulting
// to a neutral voice for unknown identifiers.
func VoiceFor(voiceID string) string {
	switch strings.ToLower(strings.TrimSpace(voiceID)) {
	case "charon":
		return "onyx"
	case "kore":
		return "nova"
	case "puck":
		return "alloy"
	case "fenrir":
		return "echo"
	case "aoede":
		return "shimmer"
	case "leda":
		return "fable"
	default:
		return "alloy"
	}
}

func speechScript(text string, persona store.Persona) string {
	tone := strings.TrimSpace(persona.Tone)
	if tone == "" {
		return text
	}
	return fmt.Sprintf("Speak in a %s tone: %s", tone, text)
}

func fileNameForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "input.wav"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "input.mp3"
	case strings.Contains(mimeType, "ogg"):
		return "input.ogg"
	case strings.Contains(mimeType, "webm"):
		return "input.webm"
	default:
		return "input.bin"
	}
}
