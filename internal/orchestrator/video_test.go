package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lucav88/ava/internal/store"
	"github.com/lucav88/ava/internal/videogen"
)

type fakeEngine struct {
	uploads []string
	job     videogen.Job
	runErr  error
}

func (f *fakeEngine) UploadInput(_ context.Context, _ []byte, name, subfolder string) (string, error) {
	f.uploads = append(f.uploads, subfolder+"/"+name)
	return "stored-" + name, nil
}

func (f *fakeEngine) Run(_ context.Context, job videogen.Job) (*videogen.Result, error) {
	f.job = job
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &videogen.Result{Artifacts: []videogen.Artifact{{Filename: "out.mp4", Data: []byte("clip")}}}, nil
}

type fakeReader struct {
	objects map[string][]byte
}

func (f *fakeReader) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/webp", nil
}

func TestTalkingHeadRender(t *testing.T) {
	engine := &fakeEngine{}
	reader := &fakeReader{objects: map[string][]byte{"personas/ava.webp": []byte("portrait")}}
	r := NewTalkingHeadRenderer(engine, reader, time.Minute, zerolog.Nop())

	clip, err := r.Render(context.Background(), store.Persona{ID: "p-ava", ImageKey: "personas/ava.webp"}, []byte("wav"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(clip) != "clip" {
		t.Fatalf("clip = %q", clip)
	}
	if len(engine.uploads) != 2 || engine.uploads[0] != "faces/ava.webp" || engine.uploads[1] != "audio/speech.wav" {
		t.Fatalf("uploads = %v, want portrait then speech", engine.uploads)
	}
	if engine.job.OutputNodeID != nodeSaveVideo || engine.job.SaveNodeID != nodeSaveVideo {
		t.Fatalf("job must target the save node, got %+v", engine.job)
	}
	graph := string(engine.job.Graph)
	if got := gjson.Get(graph, nodeLoadImage+".inputs.image").String(); got != "stored-ava.webp" {
		t.Fatalf("graph image input = %q, want the engine-assigned name", got)
	}
	if got := gjson.Get(graph, nodeLoadAudio+".inputs.audio").String(); got != "stored-speech.wav" {
		t.Fatalf("graph audio input = %q, want the engine-assigned name", got)
	}
}

func TestTalkingHeadRenderRequiresPortrait(t *testing.T) {
	r := NewTalkingHeadRenderer(&fakeEngine{}, &fakeReader{}, time.Minute, zerolog.Nop())

	if _, err := r.Render(context.Background(), store.Persona{ID: "p-x"}, []byte("wav")); err == nil {
		t.Fatalf("Render() must fail for a persona without a portrait")
	}
}

func TestTalkingHeadRenderEngineFailure(t *testing.T) {
	engine := &fakeEngine{runErr: errors.New("queue full")}
	reader := &fakeReader{objects: map[string][]byte{"personas/ava.webp": []byte("portrait")}}
	r := NewTalkingHeadRenderer(engine, reader, time.Minute, zerolog.Nop())

	if _, err := r.Render(context.Background(), store.Persona{ID: "p-ava", ImageKey: "personas/ava.webp"}, []byte("wav")); err == nil {
		t.Fatalf("Render() must surface engine failures")
	}
}
