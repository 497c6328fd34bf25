package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// googleRecognizer sends the whole utterance to Cloud Speech-to-Text as LINEAR16.
type googleRecognizer struct {
	client *speech.Client
	cfg    config.STTConfig
}

func NewGoogleRecognizer(ctx context.Context, cfg config.STTConfig) (Recognizer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &googleRecognizer{client: client, cfg: cfg}, nil
}

func (g *googleRecognizer) Transcribe(ctx context.Context, buf *audio.Buffer) (TranscriptResult, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(buf.SampleRate),
			AudioChannelCount: int32(buf.Channels),
			LanguageCode:      g.cfg.Language,
			Model:             "latest_short",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: buf.PCM16()},
		},
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("recognize: %w", err)
	}
	var (
		parts      []string
		confidence float32
	)
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		confidence = max(confidence, alts[0].GetConfidence())
	}
	return TranscriptResult{Text: strings.Join(parts, " "), Confidence: float64(confidence)}, nil
}
