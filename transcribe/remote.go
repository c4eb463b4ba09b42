package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const defaultTranscribeTimeout = 2 * time.Minute

// RemoteEngine talks to an OpenAI-compatible speech-to-text HTTP server
// (e.g. faster-whisper-server's /v1/audio/transcriptions). The audio file is
// posted as multipart form data and the verbose JSON response carries the
// timed segments.
type RemoteEngine struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteEngine takes the server's base URL and resolves the
// /v1/audio/transcriptions route against it.
func NewRemoteEngine(baseURL *url.URL) *RemoteEngine {
	return &RemoteEngine{
		endpoint: baseURL.JoinPath("v1", "audio", "transcriptions").String(),
		httpClient: &http.Client{
			Timeout: defaultTranscribeTimeout,
		},
	}
}

type verboseResponse struct {
	Segments []Span `json:"segments"`
}

func (e *RemoteEngine) Transcribe(ctx context.Context, audioPath string, req Request) ([]Span, error) {
	audioFile, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer audioFile.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart file field: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("failed to copy audio into request: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"task":            string(req.Task),
		"beam_size":       strconv.Itoa(req.BeamSize),
		"vad_filter":      strconv.FormatBool(req.VADFilter),
	}
	if req.Language != "" && req.Language != LanguageAuto {
		fields["language"] = req.Language
	}
	if req.InitialPrompt != "" {
		fields["initial_prompt"] = req.InitialPrompt
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("transcription server returned %d: %s", resp.StatusCode, payload)
	}

	var parsed verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return parsed.Segments, nil
}
