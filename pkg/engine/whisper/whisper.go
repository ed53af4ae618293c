// Package whisper implements [engine.Engine] backed by the whisper.cpp CGO
// bindings, eliminating any network hop — transcription runs entirely
// in-process. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all concurrent
// calls; each call creates its own whisper context, which is the unit of
// thread safety in whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxhollow/earshot/pkg/engine"
)

const defaultLanguage = "en"

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Engine transcribes PCM segments with a shared whisper.cpp model.
type Engine struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &Engine{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe implements [engine.Engine]. The input must be 16-bit
// little-endian mono PCM at 16 kHz (whisper's native rate).
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return engine.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		return engine.Result{}, fmt.Errorf("whisper: set language %q: %w", e.language, err)
	}

	if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
		return engine.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts   []string
		probSum float64
		probN   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return engine.Result{}, err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return engine.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		for _, tok := range seg.Tokens {
			probSum += float64(tok.P)
			probN++
		}
	}

	res := engine.Result{Text: strings.Join(parts, " ")}
	if probN > 0 {
		res.Confidence = probSum / float64(probN)
	}
	return res, nil
}

// pcmToFloat32 converts 16-bit little-endian mono PCM to normalised float32
// samples in [-1, 1], the input format whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
