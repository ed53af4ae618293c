// Package mock provides a scripted [engine.Engine] for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxhollow/earshot/pkg/engine"
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Engine is a test double whose behaviour is driven by the Fn callback or,
// when Fn is nil, by the Result/Err/Delay fields. It records every call.
// Safe for concurrent use.
type Engine struct {
	// Fn, when non-nil, fully controls each call. Calls are counted before
	// Fn is invoked, so Fn can vary behaviour by call index.
	Fn func(call int, pcm []byte) (engine.Result, error)

	// Result and Err are returned by every call when Fn is nil.
	Result engine.Result
	Err    error

	// Delay simulates inference latency. The call honours context
	// cancellation while waiting.
	Delay time.Duration

	mu    sync.Mutex
	calls [][]byte
}

// Transcribe implements [engine.Engine].
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) (engine.Result, error) {
	e.mu.Lock()
	call := len(e.calls)
	e.calls = append(e.calls, pcm)
	fn := e.Fn
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	if fn != nil {
		return fn(call, pcm)
	}
	return e.Result, e.Err
}

// Calls returns a copy of the PCM payloads passed to Transcribe so far.
func (e *Engine) Calls() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.calls))
	copy(out, e.calls)
	return out
}
