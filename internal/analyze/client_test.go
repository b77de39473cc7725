package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req struct {
			Model       string `json:"model"`
			Temperature float64
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", req.Temperature)
		}
		if !strings.Contains(req.Messages[0].Content, "transcript body here") {
			t.Error("prompt does not contain the transcript")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
}

func TestAnalyze(t *testing.T) {
	reply := "Analysis:\n" + `{"summary":"brief","entities":{"name":"Sam"},"sentiment":"positive","customer_interest":"Interested"}`
	srv := chatServer(t, reply)
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "")
	res, err := c.Analyze(context.Background(), "transcript body here")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Summary != "brief" || res.Entities.Name != "Sam" || res.Sentiment != "positive" {
		t.Errorf("Analyze() = %+v", res)
	}
}

func TestAnalyzeUnparsableReply(t *testing.T) {
	srv := chatServer(t, "I am sorry, I cannot produce JSON today.")
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "")
	_, err := c.Analyze(context.Background(), "transcript body here")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("Analyze() error = %v, want ErrNoJSON", err)
	}
}

func TestAnalyzeEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "")
	_, err := c.Analyze(context.Background(), "text")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("Analyze() error = %v, want ErrNoJSON", err)
	}
}

func TestAnalyzeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "")
	_, err := c.Analyze(context.Background(), "text")
	if err == nil {
		t.Fatal("Analyze() error = nil on 503")
	}
	if errors.Is(err, ErrNoJSON) {
		t.Error("transport failures must not be reported as ErrNoJSON")
	}
}
