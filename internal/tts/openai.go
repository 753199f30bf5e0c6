package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: the public OpenAI endpoint
	Model   string // default: "tts-1"
}

// OpenAIProvider synthesizes speech through the OpenAI audio API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
}

var openAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// NewOpenAIProvider creates an OpenAIProvider with defaults applied.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return "openai-tts" }

func (p *OpenAIProvider) Voices() []string {
	out := make([]string, len(openAIVoices))
	copy(out, openAIVoices)
	return out
}

// Synthesize converts one chunk of text to MP3 audio. Failures come back
// classified; the caller owns retries.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          p.model,
		Input:          req.Input,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, newTransient("failed to read audio from speech service", err)
	}
	if len(audio) == 0 {
		return nil, newTransient("speech service returned no audio", nil)
	}

	return &SynthesisResult{Audio: audio, ContentType: "audio/mpeg"}, nil
}

func classifyOpenAIError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyHTTP(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTP(reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newTransient("speech service timed out", err)
	}
	// Transport-level failure with no HTTP status: worth retrying.
	return newTransient("could not reach speech service", err)
}

func classifyHTTP(status int, cause error) *Error {
	kind := classifyStatus(status)
	if kind == Permanent {
		return newPermanent(fmt.Sprintf("speech service rejected the request (status %d)", status), cause)
	}
	return newTransient(fmt.Sprintf("speech service is unavailable (status %d)", status), cause)
}
