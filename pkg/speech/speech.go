package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, fileName, contentType string) (string, error)
}

// HTTPTranscriber forwards audio to an upstream speech-to-text service as
// multipart form data and reads the transcription back.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

func NewHTTPTranscriber(url string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTranscriber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio io.Reader, fileName, contentType string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("AudioFile", fileName)
	if err != nil {
		return "", fmt.Errorf("speech: building form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("speech: reading audio: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("speech: closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return "", fmt.Errorf("speech: building request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech: upstream call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech: upstream returned %d", resp.StatusCode)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("speech: decoding response: %w", err)
	}
	return out.Text, nil
}

// Mode tracks whether synthesized speech should stay quiet because a
// human agent owns the conversation. Safe for concurrent use.
type Mode struct {
	agentMode atomic.Bool
}

func NewMode() *Mode { return &Mode{} }

// SetAgentMode mutes or unmutes synthesized speech.
func (m *Mode) SetAgentMode(enabled bool) {
	m.agentMode.Store(enabled)
}

// Muted reports whether synthesized speech is currently suppressed.
func (m *Mode) Muted() bool {
	return m.agentMode.Load()
}
