package huggingface

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\nrest-of-image")

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("", "", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.baseURL != DefaultBaseURL || c.Model() != DefaultModel {
		t.Errorf("unexpected defaults: %s %s", c.baseURL, c.Model())
	}
	if _, err := NewClient("", "bad model", ""); err == nil {
		t.Error("Expected invalid model name to be rejected")
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/org/model" {
			t.Errorf("Expected /org/model, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("Expected image/png, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(pngMagic) {
			t.Error("request body does not match image bytes")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"label":"Real","score":0.97},{"label":"Fake","score":0.03}]`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "org/model", "secret")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	labels, err := c.Classify(context.Background(), pngMagic)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(labels) != 2 || labels[0].Label != "Real" || labels[0].Score != 0.97 {
		t.Errorf("unexpected labels %+v", labels)
	}
}

func TestClassifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"Model is currently loading","estimated_time":20.0}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "org/model", "")
	_, err := c.Classify(context.Background(), pngMagic)
	if err == nil {
		t.Fatal("Expected error for 503")
	}
	if !strings.Contains(err.Error(), "loading") || !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status and message, got %v", err)
	}
}

func TestClassifyEmptyImage(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", "org/model", "")
	if _, err := c.Classify(context.Background(), nil); err == nil {
		t.Error("Expected error for empty image")
	}
}
