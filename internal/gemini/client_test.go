package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	cases := map[string]string{
		"plain":       `{"title":"a"}`,
		"json fence":  "```json\n{\"title\":\"a\"}\n```",
		"bare fence":  "```\n{\"title\":\"a\"}\n```",
		"inline":      "```json{\"title\":\"a\"}```",
		"with prose":  "Here you go:\n```json\n{\"title\":\"a\"}\n```\nEnjoy!",
		"braces only": "Sure! {\"title\":\"a\"} hope that helps",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			var out struct {
				Title string `json:"title"`
			}
			if err := DecodeJSON(text, &out); err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if out.Title != "a" {
				t.Fatalf("title = %q", out.Title)
			}
		})
	}
}

func TestDecodeJSONShapeError(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("no json here", &out)
	var shape *ShapeError
	if !errors.As(err, &shape) {
		t.Fatalf("err = %v, want *ShapeError", err)
	}
	if shape.Raw != "no json here" {
		t.Fatalf("raw = %q", shape.Raw)
	}
}

func TestNewAppendsRelaySuffix(t *testing.T) {
	c := New(Options{BaseURL: "https://api.openai-proxy.org/"})
	if got := c.BaseURL(); got != "https://api.openai-proxy.org/google" {
		t.Fatalf("base = %q", got)
	}
	if got := New(Options{}).BaseURL(); got != DefaultBaseURL {
		t.Fatalf("default base = %q", got)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	var got generateContentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/m:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi "},{"inlineData":{"data":"QUJD"}}]}}]}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	resp, err := c.Generate(context.Background(), Request{
		Model:              "m",
		Parts:              []Part{{Text: "prompt", Image: &InlineImage{MimeType: "image/png", DataBase64: "data:image/png;base64,WFla"}}},
		ResponseModalities: []string{"IMAGE"},
		AspectRatio:        "3:4",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hi " || len(resp.Images) != 1 || resp.Images[0].DataURL() != "data:image/png;base64,QUJD" {
		t.Fatalf("resp = %+v", resp)
	}

	parts := got.Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[0].InlineData.Data != "WFla" || parts[1].Text != "prompt" {
		t.Fatalf("parts = %+v", parts)
	}
	if got.GenerationConfig.ImageConfig == nil || got.GenerationConfig.ImageConfig.AspectRatio != "3:4" {
		t.Fatalf("generationConfig = %+v", got.GenerationConfig)
	}
}

func TestGenerateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1beta/models/empty:generateContent" {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
			return
		}
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})

	_, err := c.Generate(context.Background(), Request{Model: "m", Parts: []Part{{Text: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 APIError", err)
	}

	_, err = c.Generate(context.Background(), Request{Model: "empty", Parts: []Part{{Text: "x"}}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}

	if _, err := New(Options{}).Generate(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("expected error without API key")
	}
}
