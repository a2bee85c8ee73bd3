// Package deepgram transcribes recordings with Deepgram's pre-recorded
// REST API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chandeldivyam/samwise/internal/transcribe"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "whisper-medium"
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Minute

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model (e.g., "whisper-medium", "nova-3").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithDiarize toggles speaker diarization. Defaults to true.
func WithDiarize(on bool) Option {
	return func(t *Transcriber) { t.diarize = on }
}

// WithEndpoint overrides the API endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// Transcriber implements transcribe.Transcriber backed by Deepgram.
type Transcriber struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	diarize    bool
	httpClient *http.Client
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// New creates a Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		diarize:    true,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// buildURL constructs the request URL with the recognition parameters.
func (t *Transcriber) buildURL() (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("smart_format", "true")
	q.Set("diarize", strconv.FormatBool(t.diarize))
	if t.language != "" {
		q.Set("language", t.language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe uploads the file at path and returns the transcript. With
// diarization enabled the paragraph-formatted transcript (one "Speaker N:"
// block per turn) is preferred over the flat one.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	endpoint, err := t.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return "", fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", contentType(path))
	if st, err := f.Stat(); err == nil {
		req.ContentLength = st.Size()
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	text := result.transcript()
	if text == "" {
		return "", transcribe.ErrEmptyTranscript
	}
	return text, nil
}

// contentType guesses the upload MIME type from the file extension.
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ---- response ---------------------------------------------------------------

// listenResponse is the subset of the pre-recorded response that is used.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Paragraphs *struct {
					Transcript string `json:"transcript"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r listenResponse) transcript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	alt := r.Results.Channels[0].Alternatives[0]
	if alt.Paragraphs != nil {
		if text := strings.TrimSpace(alt.Paragraphs.Transcript); text != "" {
			return text
		}
	}
	return strings.TrimSpace(alt.Transcript)
}
