package copywriter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnthropic_ConcatenatesTextBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		var body struct {
			Model    string                  `json:"model"`
			System   []struct{ Text string } `json:"system"`
			Messages []json.RawMessage       `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "claude-test" || len(body.System) != 1 || len(body.Messages) != 1 {
			t.Errorf("unexpected request body: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "[\"# Condo\","}, {"type": "text", "text": "\"## Key Features\"]"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer ts.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: ts.URL, RPS: 100})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := c.GenerateDescription(ctx, subject)
	if err != nil {
		t.Fatalf("GenerateDescription: %v", err)
	}
	if got != `["# Condo","## Key Features"]` {
		t.Fatalf("reply = %q", got)
	}
}

func TestAnthropic_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer ts.Close()

	c, _ := NewAnthropic(AnthropicConfig{APIKey: "bad", BaseURL: ts.URL, RPS: 100})
	if _, err := c.GenerateDescription(context.Background(), subject); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
