package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/store"
	"github.com/lucav88/ava/internal/videogen"
)

// JobEngine is the slice of the video engine the renderer needs.
type JobEngine interface {
	UploadInput(ctx context.Context, data []byte, name, subfolder string) (string, error)
	Run(ctx context.Context, job videogen.Job) (*videogen.Result, error)
}

// MediaReader reads stored objects, typically persona portrait images.
type MediaReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Node ids of the lip-sync graph submitted to the engine.
const (
	nodeLoadImage = "1"
	nodeLoadAudio = "2"
	nodeGenerate  = "3"
	nodeSaveVideo = "9"
)

// TalkingHeadRenderer drives one lip-sync job per reply: upload the persona
// portrait and the speech WAV, submit the graph, download the clip.
type TalkingHeadRenderer struct {
	engine  JobEngine
	media   MediaReader
	timeout time.Duration
	logger  zerolog.Logger
}

func NewTalkingHeadRenderer(engine JobEngine, media MediaReader, timeout time.Duration, logger zerolog.Logger) *TalkingHeadRenderer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &TalkingHeadRenderer{engine: engine, media: media, timeout: timeout, logger: logger}
}

func (r *TalkingHeadRenderer) Render(ctx context.Context, persona store.Persona, wav []byte) ([]byte, error) {
	if persona.ImageKey == "" {
		return nil, fmt.Errorf("persona %s has no portrait image", persona.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	portrait, err := r.readPortrait(ctx, persona.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("load persona portrait: %w", err)
	}

	imageName, err := r.engine.UploadInput(ctx, portrait, path.Base(persona.ImageKey), "faces")
	if err != nil {
		return nil, fmt.Errorf("upload portrait: %w", err)
	}
	audioName, err := r.engine.UploadInput(ctx, wav, "speech.wav", "audio")
	if err != nil {
		return nil, fmt.Errorf("upload speech: %w", err)
	}

	graph, err := lipSyncGraph(imageName, audioName)
	if err != nil {
		return nil, err
	}

	result, err := r.engine.Run(ctx, videogen.Job{
		Graph:        graph,
		OutputNodeID: nodeSaveVideo,
		SaveNodeID:   nodeSaveVideo,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Artifacts) == 0 {
		return nil, fmt.Errorf("engine returned no artifacts")
	}
	r.logger.Debug().Str("persona", persona.ID).Str("artifact", result.Artifacts[0].Filename).Msg("video rendered")
	return result.Artifacts[0].Data, nil
}

func (r *TalkingHeadRenderer) readPortrait(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := r.media.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// lipSyncGraph builds the engine-native node graph for one talking-head job.
func lipSyncGraph(imageName, audioName string) (json.RawMessage, error) {
	graph := map[string]any{
		nodeLoadImage: map[string]any{
			"class_type": "LoadImage",
			"inputs":     map[string]any{"image": imageName},
		},
		nodeLoadAudio: map[string]any{
			"class_type": "LoadAudio",
			"inputs":     map[string]any{"audio": audioName},
		},
		nodeGenerate: map[string]any{
			"class_type": "SonicSampler",
			"inputs": map[string]any{
				"image": []any{nodeLoadImage, 0},
				"audio": []any{nodeLoadAudio, 0},
				"fps":   25,
			},
		},
		nodeSaveVideo: map[string]any{
			"class_type": "VHS_VideoCombine",
			"inputs": map[string]any{
				"images":     []any{nodeGenerate, 0},
				"audio":      []any{nodeLoadAudio, 0},
				"format":     "video/h264-mp4",
				"frame_rate": 25,
			},
		},
	}
	data, err := json.Marshal(graph)
	if err != nil {
		return nil, fmt.Errorf("marshal job graph: %w", err)
	}
	return data, nil
}
