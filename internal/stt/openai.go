package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// openAIRecognizer uploads a WAV file to an OpenAI-compatible transcription endpoint (Groq
// Whisper by default). The file at cfg.TempPath is overwritten on every call.
type openAIRecognizer struct {
	client *openai.Client
	cfg    config.STTConfig
	mu     sync.Mutex
}

func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	clientCfg := openai.DefaultConfig(config.APIKey(cfg.APIKeyEnv))
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	return &openAIRecognizer{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, buf *audio.Buffer) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := buf.WriteWAV(r.cfg.TempPath); err != nil {
		return TranscriptResult{}, err
	}
	req := openai.AudioRequest{
		Model:    r.cfg.Model,
		FilePath: r.cfg.TempPath,
		Language: languageCode(r.cfg.Language),
	}
	resp, err := r.client.CreateTranscription(ctx, req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create transcription: %w", err)
	}
	return TranscriptResult{Text: strings.TrimSpace(resp.Text)}, nil
}

// languageCode reduces a BCP-47 tag to the ISO-639-1 code Whisper expects.
func languageCode(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}
