package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultElevenLabsEndpoint = "wss://api.elevenlabs.io"

// ElevenLabs streams text over the stream-input websocket API.
type ElevenLabs struct {
	endpoint string
	apiKey   string
	dialer   websocket.Dialer
}

func NewElevenLabs(endpoint, apiKey string) (*ElevenLabs, error) {
	if endpoint == "" {
		endpoint = defaultElevenLabsEndpoint
	}
	if apiKey == "" {
		return nil, errors.New("elevenlabs api key not set")
	}
	return &ElevenLabs{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type elevenLabsResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *ElevenLabs) streamURL(cfg SessionConfig) string {
	q := url.Values{}
	if cfg.Model != "" {
		q.Set("model_id", cfg.Model)
	}
	q.Set("output_format", fmt.Sprintf("pcm_%d", cfg.SampleRate))
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", e.endpoint, url.PathEscape(cfg.Voice), q.Encode())
}

func (e *ElevenLabs) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	headers := http.Header{}
	headers.Set("xi-api-key", e.apiKey)
	conn, resp, err := e.dialer.DialContext(ctx, e.streamURL(cfg), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	voiceSettings := map[string]any{
		"stability":        cfg.Stability,
		"similarity_boost": cfg.Similarity,
	}
	if cfg.SpeakingRate > 0 {
		voiceSettings["speed"] = min(max(cfg.SpeakingRate, 0.7), 1.2)
	}
	bos := map[string]any{
		"text":           " ",
		"voice_settings": voiceSettings,
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := conn.WriteJSON(bos); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send BOS: %w", err)
	}

	s := &elevenLabsSession{conn: conn, audioPipe: newAudioPipe()}
	go s.readLoop()
	return s, nil
}

type elevenLabsSession struct {
	*audioPipe
	conn    *websocket.Conn
	writeMu sync.Mutex
	sentEOS bool
}

// Send forwards text. An empty string becomes a single space, since an empty text message
// ends the stream on this API.
func (s *elevenLabsSession) Send(_ context.Context, text string) error {
	if text == "" {
		text = " "
	}
	return s.write(map[string]any{"text": text})
}

func (s *elevenLabsSession) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.sentEOS {
		return nil
	}
	s.sentEOS = true
	if err := s.conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return fmt.Errorf("send EOS: %w", err)
	}
	return nil
}

func (s *elevenLabsSession) write(msg map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.sentEOS || s.stopped() {
		return ErrSessionClosed
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (s *elevenLabsSession) readLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.finish(nil)
				return
			}
			s.finish(fmt.Errorf("websocket read: %w", err))
			return
		}
		var resp elevenLabsResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			s.finish(fmt.Errorf("decode response: %w", err))
			return
		}
		if resp.Error != "" {
			s.finish(fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message))
			return
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				s.finish(fmt.Errorf("decode audio: %w", err))
				return
			}
			if !s.deliver(pcm) {
				s.finish(nil)
				return
			}
		}
		if resp.IsFinal {
			s.finish(nil)
			return
		}
	}
}

func (s *elevenLabsSession) Close() error {
	s.stop()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
