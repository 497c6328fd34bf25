package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// Google uses Cloud Text-to-Speech bidirectional streaming. Streaming voices return 24 kHz
// LINEAR16 without a header.
type Google struct {
	client *texttospeech.Client
}

func NewGoogle(ctx context.Context) (*Google, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create texttospeech client: %w", err)
	}
	return &Google{client: client}, nil
}

func (g *Google) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingSynthesize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open streaming synthesize: %w", err)
	}
	config := &texttospeechpb.StreamingSynthesizeRequest{
		StreamingRequest: &texttospeechpb.StreamingSynthesizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(cfg),
		},
	}
	if err := stream.Send(config); err != nil {
		cancel()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	s := &googleSession{stream: stream, cancel: cancel, audioPipe: newAudioPipe()}
	go s.readLoop()
	return s, nil
}

// streamingConfig selects the voice and requests headerless PCM at the session's rate. The
// service accepts speaking rates between 0.25 and 2.
func streamingConfig(cfg SessionConfig) *texttospeechpb.StreamingSynthesizeConfig {
	audio := &texttospeechpb.StreamingAudioConfig{
		AudioEncoding:   texttospeechpb.AudioEncoding_PCM,
		SampleRateHertz: int32(cfg.SampleRate),
	}
	if cfg.SpeakingRate > 0 {
		audio.SpeakingRate = min(max(cfg.SpeakingRate, 0.25), 2)
	}
	return &texttospeechpb.StreamingSynthesizeConfig{
		Voice: &texttospeechpb.VoiceSelectionParams{
			Name:         cfg.Voice,
			LanguageCode: cfg.Language,
		},
		StreamingAudioConfig: audio,
	}
}

type googleSession struct {
	*audioPipe
	stream  texttospeechpb.TextToSpeech_StreamingSynthesizeClient
	cancel  context.CancelFunc
	sendMu  sync.Mutex
	sendEnd bool
}

func (s *googleSession) Send(_ context.Context, text string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendEnd || s.stopped() {
		return ErrSessionClosed
	}
	err := s.stream.Send(&texttospeechpb.StreamingSynthesizeRequest{
		StreamingRequest: &texttospeechpb.StreamingSynthesizeRequest_Input{
			Input: &texttospeechpb.StreamingSynthesisInput{
				InputSource: &texttospeechpb.StreamingSynthesisInput_Text{Text: text},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send synthesis input: %w", err)
	}
	return nil
}

func (s *googleSession) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendEnd {
		return nil
	}
	s.sendEnd = true
	return s.stream.CloseSend()
}

func (s *googleSession) readLoop() {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return
		}
		if err != nil {
			if s.stopped() {
				s.finish(nil)
				return
			}
			s.finish(fmt.Errorf("receive synthesis audio: %w", err))
			return
		}
		if len(resp.GetAudioContent()) == 0 {
			continue
		}
		if !s.deliver(resp.GetAudioContent()) {
			s.finish(nil)
			return
		}
	}
}

func (s *googleSession) Close() error {
	s.stop()
	s.cancel()
	return nil
}
