package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

func testBuffer() *audio.Buffer {
	return &audio.Buffer{Samples: make([]float32, 1600), SampleRate: 16000, Channels: 1}
}

func TestOpenAIRecognizerUploadsWAV(t *testing.T) {
	var model, filename string
	var size int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		model = r.FormValue("model")
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		size = len(data)
		filename = header.Filename
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" What time is it? "}`))
	}))
	defer srv.Close()

	temp := filepath.Join(t.TempDir(), "temp_recording.wav")
	rec := NewOpenAIRecognizer(config.STTConfig{
		Endpoint: srv.URL + "/v1",
		Model:    "whisper-large-v3-turbo",
		Language: "en-US",
		TempPath: temp,
	})
	res, err := rec.Transcribe(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "What time is it?" {
		t.Fatalf("unexpected transcript %q", res.Text)
	}
	if model != "whisper-large-v3-turbo" || filename != "temp_recording.wav" {
		t.Fatalf("unexpected upload model=%q file=%q", model, filename)
	}
	if size <= 44 {
		t.Fatalf("expected wav payload, got %d bytes", size)
	}
	if _, err := os.Stat(temp); err != nil {
		t.Fatalf("expected temp recording to remain for the next turn: %v", err)
	}
}

func TestLanguageCode(t *testing.T) {
	if got := languageCode("en-US"); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := languageCode(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestExecRecognizer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "stt.sh")
	body := "#!/bin/sh\n[ \"$1\" = \"--audio\" ] && [ -s \"$2\" ] && echo '{\"text\":\"okay\",\"confidence\":0.8}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: "sh " + script})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "okay" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMockRecognizerScripts(t *testing.T) {
	rec := NewMockRecognizer("one", "two")
	for _, want := range []string{"one", "two", "two"} {
		res, err := rec.Transcribe(context.Background(), nil)
		if err != nil || res.Text != want {
			t.Fatalf("expected %q, got %q %v", want, res.Text, err)
		}
	}
	if rec.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", rec.Calls())
	}
}

func TestFromConfigRejectsUnknownMode(t *testing.T) {
	if _, err := FromConfig(context.Background(), config.STTConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
}
