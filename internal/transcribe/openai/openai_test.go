package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/chandeldivyam/samwise/internal/transcribe"
	"github.com/chandeldivyam/samwise/internal/transcribe/openai"
)

type captured struct {
	path     string
	auth     string
	model    string
	language string
	filename string
	file     string
}

// newServer answers POST /v1/audio/transcriptions with text and records the
// multipart form it received.
func newServer(t *testing.T, status int, text string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.model = r.FormValue("model")
		got.language = r.FormValue("language")
		if f, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			got.file = string(data)
			got.filename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad request"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "final_rec.mp3")
	if err := os.WriteFile(path, []byte("mp3 bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	if _, err := openai.NewGroq(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestTranscribe_SendsFileAndModel(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, " hello from whisper ", &got)

	tr, err := openai.New("sk-test",
		openai.WithBaseURL(srv.URL+"/v1"),
		openai.WithLanguage("en"),
		openai.WithMaxRetries(0),
	)
	if err != nil {
		t.Fatal(err)
	}
	text, err := tr.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from whisper" {
		t.Errorf("text = %q", text)
	}
	if got.path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", got.path)
	}
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.model != "whisper-1" {
		t.Errorf("model = %q", got.model)
	}
	if got.language != "en" {
		t.Errorf("language = %q", got.language)
	}
	if got.file != "mp3 bytes" {
		t.Errorf("file = %q", got.file)
	}
}

func TestNewGroq_OverridableModel(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, "groq text", &got)

	tr, err := openai.NewGroq("gsk", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Transcribe(context.Background(), writeAudio(t)); err != nil {
		t.Fatal(err)
	}
	if got.model != openai.GroqModel {
		t.Errorf("model = %q, want %q", got.model, openai.GroqModel)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusBadRequest, "", &got)
		tr, _ := openai.New("k", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))
		if _, err := tr.Transcribe(context.Background(), writeAudio(t)); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("empty text", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, "  ", &got)
		tr, _ := openai.New("k", openai.WithBaseURL(srv.URL), openai.WithMaxRetries(0))
		_, err := tr.Transcribe(context.Background(), writeAudio(t))
		if !errors.Is(err, transcribe.ErrEmptyTranscript) {
			t.Fatalf("err = %v, want ErrEmptyTranscript", err)
		}
	})
}
