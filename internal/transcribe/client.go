// Package transcribe calls a Whisper-compatible speech-to-text service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultModel    = "whisper-large-v3"
	defaultLanguage = "en"
	requestTimeout  = 10 * time.Second
)

// Client uploads audio to the transcription service and returns plain text.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
}

// NewClient creates a transcription client. Model and language fall back to
// the service defaults when empty.
func NewClient(baseURL, apiKey, model, language string) *Client {
	if model == "" {
		model = defaultModel
	}
	if language == "" {
		language = defaultLanguage
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		language: language,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// transcriptionResponse mirrors the verbose_json response; only the full
// text is consumed.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio file at path and returns the transcript text.
// An empty transcript is a valid response (silent recordings exist), not an
// error.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading audio file: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio bytes: %w", err)
	}
	w.WriteField("model", c.model)
	w.WriteField("language", c.language)
	w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding transcription response: %w", err)
	}
	return parsed.Text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
