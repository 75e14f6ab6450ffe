// Package videogen submits one unit of generative work to the external
// queue-based media engine and retrieves its output. One job per connection;
// concurrent jobs need separate Run calls, the bridge does not multiplex.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var (
	// ErrOutputNodeRejected means the engine's validation errors touched the
	// job's output node: the output can never be produced, so the bridge
	// interrupts instead of waiting forever.
	ErrOutputNodeRejected = errors.New("output node rejected by engine validation")
	// ErrInterrupted means the engine reported the job as interrupted.
	ErrInterrupted = errors.New("job interrupted")
)

// Job describes one unit of work for the engine.
type Job struct {
	// Graph is the engine-native node graph.
	Graph json.RawMessage
	// OutputNodeID is the node that must survive validation for any output
	// to exist.
	OutputNodeID string
	// SaveNodeID is the node whose executed event carries the result files.
	SaveNodeID string
}

// Artifact is one downloaded output file.
type Artifact struct {
	Filename string
	Data     []byte
}

// Result is the terminal success state of a job.
type Result struct {
	Artifacts []Artifact
}

type fileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Client talks to one engine instance. It holds no per-job state; each Run
// opens and tears down its own duplex connection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Run submits one job and blocks until its correlated terminal event, then
// downloads the save node's outputs. The caller-supplied ctx deadline is the
// only timeout; cancellation force-closes the connection. No retries happen
// at this layer.
func (c *Client) Run(ctx context.Context, job Job) (*Result, error) {
	clientID := uuid.NewString()

	conn, err := c.dial(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	jobID, err := c.submit(ctx, clientID, job)
	if err != nil {
		return nil, err
	}

	refs, err := c.awaitOutputs(ctx, conn, jobID, job.SaveNodeID)
	if err != nil {
		return nil, err
	}

	result := &Result{Artifacts: make([]Artifact, 0, len(refs))}
	for _, ref := range refs {
		data, err := c.FetchOutput(ctx, ref.Filename, ref.Subfolder, ref.Type)
		if err != nil {
			return nil, err
		}
		result.Artifacts = append(result.Artifacts, Artifact{Filename: ref.Filename, Data: data})
	}
	return result, nil
}

func (c *Client) dial(ctx context.Context, clientID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = "clientId=" + url.QueryEscape(clientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	return conn, nil
}

// submit posts the job and returns the server-assigned job id. When the
// validation errors in the response touch the output node, the job is
// proactively interrupted and rejected.
func (c *Client) submit(ctx context.Context, clientID string, job Job) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    job.Graph,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	body, err := c.post(ctx, "/prompt", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}

	var resp struct {
		PromptID   string                     `json:"prompt_id"`
		NodeErrors map[string]json.RawMessage `json:"node_errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("submit response missing job id")
	}

	if _, ok := resp.NodeErrors[job.OutputNodeID]; ok && job.OutputNodeID != "" {
		if err := c.interrupt(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("interrupt after output node rejection failed")
		}
		return "", fmt.Errorf("node %s: %w", job.OutputNodeID, ErrOutputNodeRejected)
	}
	return resp.PromptID, nil
}

// awaitOutputs consumes typed events until the job's terminal event. Events
// carrying a different job id are ignored.
func (c *Client) awaitOutputs(ctx context.Context, conn *websocket.Conn, jobID, saveNodeID string) ([]fileRef, error) {
	var outputs []fileRef
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("job %s: %w", jobID, ctx.Err())
			}
			return nil, fmt.Errorf("read engine event: %w", err)
		}
		if msgType != websocket.TextMessage {
			// Binary frames carry preview data; not ours.
			continue
		}

		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "status":
			// Queue telemetry is not correlated to one job.
			if remaining := gjson.GetBytes(env.Data, "status.exec_info.queue_remaining"); remaining.Exists() {
				c.logger.Debug().Int64("queue_remaining", remaining.Int()).Msg("engine queue status")
			}
			continue
		}

		if gjson.GetBytes(env.Data, "prompt_id").String() != jobID {
			continue
		}

		switch env.Type {
		case "execution_start":
			c.logger.Debug().Str("job_id", jobID).Msg("engine execution started")
		case "executed":
			var ev struct {
				Node   string `json:"node"`
				Output struct {
					Images []fileRef `json:"images"`
					Gifs   []fileRef `json:"gifs"`
				} `json:"output"`
			}
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				continue
			}
			if ev.Node == saveNodeID {
				outputs = append(outputs, ev.Output.Images...)
				outputs = append(outputs, ev.Output.Gifs...)
			}
		case "execution_error":
			msg := gjson.GetBytes(env.Data, "exception_message").String()
			if msg == "" {
				msg = "unknown engine error"
			}
			return nil, fmt.Errorf("job %s failed: %s", jobID, msg)
		case "execution_interrupted":
			return nil, fmt.Errorf("job %s: %w", jobID, ErrInterrupted)
		case "execution_success":
			if len(outputs) == 0 {
				return nil, fmt.Errorf("job %s completed without output from save node %s", jobID, saveNodeID)
			}
			return outputs, nil
		}
	}
}

// FetchOutput downloads one named output artifact. Non-success statuses and
// empty payloads are rejected.
func (c *Client) FetchOutput(ctx context.Context, filename, subfolder, kind string) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create output request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch output %s: %w", filename, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch output %s: engine status %d", filename, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", filename, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch output %s: empty payload", filename)
	}
	return data, nil
}

// UploadInput pushes a named input artifact ahead of job submission. The
// returned name is the engine's stored filename, referenced by the job graph.
func (c *Client) UploadInput(ctx context.Context, data []byte, name, subfolder string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", fmt.Errorf("create upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write upload payload: %w", err)
	}
	if subfolder != "" {
		if err := mw.WriteField("subfolder", subfolder); err != nil {
			return "", fmt.Errorf("write upload subfolder: %w", err)
		}
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("write upload flags: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	body, err := c.post(ctx, "/upload/image", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload input %s: %w", name, err)
	}

	stored := gjson.GetBytes(body, "name").String()
	if stored == "" {
		stored = name
	}
	return stored, nil
}

func (c *Client) interrupt(ctx context.Context) error {
	_, err := c.post(ctx, "/interrupt", "application/json", nil)
	return err
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("engine status %d: %s", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
