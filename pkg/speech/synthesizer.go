package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Synthesizer turns a text body into spoken MP3 bytes.
type Synthesizer interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// OpenAISynthesizer calls the OpenAI speech endpoint with a fixed model and
// voice profile.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

// NewOpenAISynthesizer builds a synthesizer. baseURL overrides the API host
// (used by tests and proxies); empty model/voice fall back to tts-1/alloy.
func NewOpenAISynthesizer(apiKey, baseURL, model, voice string) *OpenAISynthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if strings.TrimSpace(model) == "" {
		model = string(openai.TTSModel1)
	}
	if strings.TrimSpace(voice) == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.SpeechModel(model),
		voice:  openai.SpeechVoice(voice),
	}
}

// Speak synthesizes the text and returns the MP3 bytes.
func (s *OpenAISynthesizer) Speak(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	return data, nil
}
