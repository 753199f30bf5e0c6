package tts

import "context"

// SynthesisRequest holds the parameters for one text-to-speech call. Input
// must already be within the provider's per-request character limit; the
// segmenter upstream takes care of that.
type SynthesisRequest struct {
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// SynthesisResult holds the generated audio and its content type.
type SynthesisResult struct {
	Audio       []byte
	ContentType string // "audio/mpeg" (OpenAI) or "audio/wav" (Piper)
}

// Provider is the interface for text-to-speech backends. Implementations
// never retry internally: they classify failures (see Error) and leave the
// retry decision to the job runner.
type Provider interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
	Name() string
	Voices() []string
}
