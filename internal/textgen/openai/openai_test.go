package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chandeldivyam/samwise/internal/textgen"
)

func TestConvertMessage(t *testing.T) {
	for _, role := range []string{textgen.RoleSystem, textgen.RoleUser, textgen.RoleAssistant} {
		t.Run(role, func(t *testing.T) {
			p, err := convertMessage(textgen.Message{Role: role, Content: "hi"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var set bool
			switch role {
			case textgen.RoleSystem:
				set = p.OfSystem != nil
			case textgen.RoleUser:
				set = p.OfUser != nil
			case textgen.RoleAssistant:
				set = p.OfAssistant != nil
			}
			if !set {
				t.Errorf("%s variant not set", role)
			}
		})
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	if _, err := convertMessage(textgen.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestBuildParams(t *testing.T) {
	g, err := New("sk", "gpt-4o-mini", WithMaxTokens(1024), WithTemperature(0.3))
	if err != nil {
		t.Fatal(err)
	}
	params, err := g.buildParams([]textgen.Message{{Role: textgen.RoleUser, Content: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxCompletionTokens.Value != 1024 {
		t.Errorf("max tokens = %d", params.MaxCompletionTokens.Value)
	}
	if params.Temperature.Value != 0.3 {
		t.Errorf("temperature = %v", params.Temperature.Value)
	}
}

// newServer answers chat completions with content and records the request.
func newServer(t *testing.T, status int, content string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "nope"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	srv := newServer(t, http.StatusOK, " ## Summary ", &got)

	g, err := New("sk", "gpt-4o", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Generate(context.Background(), []textgen.Message{
		{Role: textgen.RoleSystem, Content: "sys"},
		{Role: textgen.RoleUser, Content: "transcript"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "## Summary" {
		t.Errorf("out = %q", out)
	}
	if got["model"] != "gpt-4o" {
		t.Errorf("model = %v", got["model"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		var got map[string]any
		srv := newServer(t, http.StatusBadRequest, "", &got)
		g, _ := New("sk", "gpt-4o", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
		if _, err := g.Generate(context.Background(), []textgen.Message{{Role: textgen.RoleUser, Content: "x"}}); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("empty content", func(t *testing.T) {
		var got map[string]any
		srv := newServer(t, http.StatusOK, "", &got)
		g, _ := New("sk", "gpt-4o", WithBaseURL(srv.URL+"/v1"), WithMaxRetries(0))
		_, err := g.Generate(context.Background(), []textgen.Message{{Role: textgen.RoleUser, Content: "x"}})
		if !errors.Is(err, textgen.ErrEmptyResponse) {
			t.Fatalf("err = %v, want ErrEmptyResponse", err)
		}
	})
}
