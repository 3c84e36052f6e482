package llamacpp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request: %v", err)
		}
		parts, ok := req.Messages[0].Content.([]interface{})
		if !ok || len(parts) != 2 {
			t.Errorf("Expected text and image parts, got %#v", req.Messages[0].Content)
		} else {
			img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
			if !strings.HasPrefix(img, "data:image/png;base64,") {
				t.Errorf("Expected PNG data URL, got %.40s", img)
			}
		}

		io.WriteString(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"{\"labels\":[{\"label\":\"cat\",\"score\":0.7}]}"}}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "local")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	labels, err := c.Classify(context.Background(), []byte("\x89PNG\r\n\x1a\npixels"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(labels) != 1 || labels[0].Label != "cat" {
		t.Errorf("unexpected labels %+v", labels)
	}
}

func TestClassifyNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"1","choices":[]}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "local")
	if _, err := c.Classify(context.Background(), []byte("x")); err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestMessageTextParts(t *testing.T) {
	m := Message{Content: []interface{}{
		map[string]interface{}{"type": "text", "text": ""},
		map[string]interface{}{"type": "text", "text": "hello"},
	}}
	if got := messageText(m); got != "hello" {
		t.Errorf("Expected hello, got %q", got)
	}
}

func TestWithPrompt(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request: %v", err)
		}
		if parts, ok := req.Messages[0].Content.([]interface{}); ok && len(parts) > 0 {
			got, _ = parts[0].(map[string]interface{})["text"].(string)
		}
		io.WriteString(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"[{\"label\":\"cat\",\"score\":0.7}]"}}]}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "local")
	if _, err := c.WithPrompt("Which animal is this?").Classify(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != "Which animal is this?" {
		t.Errorf("Expected custom prompt, got %q", got)
	}
}
