package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "rec-1.mp3"},
		{"samwise", "samwise/rec-1.mp3"},
		{"samwise/", "samwise/rec-1.mp3"},
		{"a/b/", "a/b/rec-1.mp3"},
	}
	for _, tt := range tests {
		u := &S3{prefix: tt.prefix}
		if got := u.Key("rec-1", "/out/final_rec-1.mp3"); got != tt.want {
			t.Errorf("Key(prefix %q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestArchive(t *testing.T) {
	fp := &fakePutter{}
	u := &S3{client: fp, bucket: "meetings", prefix: "samwise/"}
	path := writeTemp(t, "final_rec-1.mp3", "ID3 data")

	url, err := u.Archive(context.Background(), "rec-1", path)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if url != "s3://meetings/samwise/rec-1.mp3" {
		t.Errorf("url = %q", url)
	}
	if *fp.in.Bucket != "meetings" || *fp.in.Key != "samwise/rec-1.mp3" {
		t.Errorf("input = bucket %q key %q", *fp.in.Bucket, *fp.in.Key)
	}
	if *fp.in.ContentType != "audio/mpeg" {
		t.Errorf("content type = %q", *fp.in.ContentType)
	}
	if *fp.in.ContentLength != int64(len("ID3 data")) || string(fp.body) != "ID3 data" {
		t.Errorf("body = %q (%d)", fp.body, *fp.in.ContentLength)
	}
	if fp.in.Metadata["recording-id"] != "rec-1" {
		t.Errorf("metadata = %v", fp.in.Metadata)
	}
}

func TestArchive_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		u := &S3{client: &fakePutter{}, bucket: "b"}
		_, err := u.Archive(context.Background(), "x", filepath.Join(t.TempDir(), "nope.mp3"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("err = %v, want ErrNotExist", err)
		}
	})
	t.Run("put fails", func(t *testing.T) {
		want := errors.New("access denied")
		u := &S3{client: &fakePutter{err: want}, bucket: "b"}
		_, err := u.Archive(context.Background(), "x", writeTemp(t, "a.ogg", "OggS"))
		if !errors.Is(err, want) {
			t.Fatalf("err = %v, want %v", err, want)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

// TestNew_PathStyleEndpoint runs a real client against an S3-compatible
// test server.
func TestNew_PathStyleEndpoint(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := New(context.Background(), Config{
		Bucket:          "meetings",
		Prefix:          "rec",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	url, err := u.Archive(context.Background(), "r1", writeTemp(t, "final_r1.wav", "RIFF"))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if url != "s3://meetings/rec/r1.wav" {
		t.Errorf("url = %q", url)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/meetings/rec/r1.wav" {
		t.Errorf("request = %s %s", method, path)
	}
	if !strings.Contains(body, "RIFF") {
		t.Errorf("body = %q", body)
	}
}
