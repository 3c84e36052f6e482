package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost", ""); err == nil {
		t.Error("Expected URL without scheme to be rejected")
	}
	c, err := NewClient("http://localhost:11434/api/chat", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("Expected default model, got %s", c.model)
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Images []string `json:"images"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "llava" {
			t.Errorf("Expected model llava, got %s", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Errorf("Expected one message with one image, got %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"model":      "llava",
			"created_at": "2024-01-01T00:00:00Z",
			"message": map[string]any{
				"role":    "assistant",
				"content": "```json\n{\"labels\":[{\"label\":\"screenshot\",\"score\":0.8}]}\n```",
			},
			"done": true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "llava")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	labels, err := c.Classify(context.Background(), []byte("image-bytes"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(labels) != 1 || labels[0].Label != "screenshot" || labels[0].Score != 0.8 {
		t.Errorf("unexpected labels %+v", labels)
	}
}

func TestClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model \"llava\" not found"}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "llava")
	if _, err := c.Classify(context.Background(), []byte("image-bytes")); err == nil {
		t.Error("Expected error from server")
	}
}

func TestWithPrompt(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && len(req.Messages) > 0 {
			got = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"llava","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"[{\"label\":\"chart\",\"score\":0.5}]"},"done":true}`)
	}))
	defer srv.Close()

	base, err := NewClient(srv.URL, "llava")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c := base.WithPrompt("Name the chart type.")
	if _, err := c.Classify(context.Background(), []byte("image-bytes")); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != "Name the chart type." {
		t.Errorf("Expected custom prompt, got %q", got)
	}
	if base.prompt == c.prompt {
		t.Error("WithPrompt modified the original client")
	}
}
