package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call_a.aac")
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotModel, gotLanguage, gotFormat, gotFilename string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		if fhs := r.MultipartForm.File["file"]; len(fhs) == 1 {
			gotFilename = fhs[0].Filename
		}

		w.Write([]byte(`{"text": "hello from the call", "duration": 4.2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "", "")
	text, err := c.Transcribe(context.Background(), writeAudioFile(t))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello from the call" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "whisper-large-v3" {
		t.Errorf("model = %q, want default", gotModel)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want default", gotLanguage)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format = %q", gotFormat)
	}
	if gotFilename != "call_a.aac" {
		t.Errorf("uploaded filename = %q", gotFilename)
	}
}

func TestTranscribeEmptyTextIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": ""}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "", "")
	text, err := c.Transcribe(context.Background(), writeAudioFile(t))
	if err != nil {
		t.Fatalf("Transcribe() error = %v, silent recordings are valid", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "", "")
	_, err := c.Transcribe(context.Background(), writeAudioFile(t))
	if err == nil {
		t.Fatal("Transcribe() error = nil, want error on 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q should carry the status code", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	c := NewClient("http://localhost:1", "k", "", "")
	_, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.aac"))
	if err == nil {
		t.Fatal("Transcribe() error = nil for missing file")
	}
}
