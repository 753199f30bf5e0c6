package tts

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"
)

// LocalConfig holds configuration for the local Piper backend.
type LocalConfig struct {
	PiperBinPath string            // default: "piper"
	VoiceModels  map[string]string // voice name -> .onnx model path
}

// LocalProvider synthesizes speech by running the Piper binary. Each voice
// maps to a model file; an unknown voice is a permanent error.
type LocalProvider struct {
	cfg LocalConfig
}

// NewLocalProvider creates a LocalProvider backed by a Piper binary.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	if cfg.PiperBinPath == "" {
		cfg.PiperBinPath = "piper"
	}
	return &LocalProvider{cfg: cfg}
}

func (p *LocalProvider) Name() string { return "local-piper" }

// Voices returns the configured voice names in a stable order.
func (p *LocalProvider) Voices() []string {
	voices := make([]string, 0, len(p.cfg.VoiceModels))
	for v := range p.cfg.VoiceModels {
		voices = append(voices, v)
	}
	sort.Strings(voices)
	return voices
}

// Synthesize pipes text into Piper via stdin and returns the WAV output.
func (p *LocalProvider) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	modelPath, ok := p.cfg.VoiceModels[req.Voice]
	if !ok {
		return nil, newPermanent("unknown voice for local synthesis", nil)
	}

	cmd := exec.CommandContext(ctx, p.cfg.PiperBinPath, "--model", modelPath, "--output-raw")
	cmd.Stdin = strings.NewReader(req.Input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, newTransient("local synthesis timed out", ctx.Err())
		}
		// Exit failures usually mean a broken model or bad input, neither of
		// which a retry fixes.
		return nil, newPermanent("local synthesis failed", err)
	}

	return &SynthesisResult{Audio: stdout.Bytes(), ContentType: "audio/wav"}, nil
}
