// Package engine defines the Engine interface for local speech-to-text
// backends.
//
// An Engine wraps a heavy, variable-latency transcriber (e.g., whisper.cpp)
// behind a single blocking call. Concurrency limits, queueing, and deadlines
// are the scheduler's job: the engine only has to honour the context it is
// given and return typed failures instead of panicking.
//
// Implementations must be safe for concurrent use — the scheduler invokes
// Transcribe from multiple worker goroutines simultaneously.
package engine

import "context"

// Result is the output of a single transcription call.
type Result struct {
	// Text is the transcribed speech content. May be empty when the audio
	// contained no recognisable speech.
	Text string

	// Confidence is the engine's overall confidence in Text (0.0–1.0).
	// Engines that do not report confidence should return 0.
	Confidence float64
}

// Engine is the abstraction over any local speech-to-text backend.
type Engine interface {
	// Transcribe converts a complete speech segment of raw 16-bit
	// little-endian mono PCM into text. The caller supplies the deadline via
	// ctx; implementations must return promptly once it expires.
	//
	// Errors are ordinary typed failures (bad audio, model fault) — they
	// must never unwind the caller via panic.
	Transcribe(ctx context.Context, pcm []byte) (Result, error)
}
