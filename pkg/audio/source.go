// Package audio defines the frame types and the Source interface that feed
// the earshot pipeline, plus a Source implementation that reads raw PCM from
// an io.Reader.
//
// A Source supplies fixed-duration frames with monotonic timestamps. The
// pipeline owns exactly one ingestion goroutine, so Source implementations
// need not be safe for concurrent use unless they document otherwise.
// Capture itself (microphone access, device management, restart) is an
// external collaborator's job: a Source adapts an already-open byte stream
// into frames and surfaces device loss as a typed error.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Source supplies audio frames to the pipeline.
type Source interface {
	// NextFrame returns the next frame from the stream. It returns io.EOF
	// when the stream has ended normally and a [DeviceLossError] when the
	// underlying device disappeared mid-stream. After either, the source is
	// exhausted and further calls return the same error.
	NextFrame(ctx context.Context) (Frame, error)
}

// DeviceLossError indicates that the capture device vanished mid-stream.
// The pipeline surfaces it as a system event and terminates; restarting
// capture is the supervisor's responsibility.
type DeviceLossError struct {
	Device string
	Err    error
}

func (e *DeviceLossError) Error() string {
	return fmt.Sprintf("audio: device %q lost: %v", e.Device, e.Err)
}

func (e *DeviceLossError) Unwrap() error { return e.Err }

// FrameBytes returns the byte length of one frame of 16-bit PCM with the
// given sample rate, channel count, and frame duration.
func FrameBytes(sampleRate, channels int, frameDur time.Duration) int {
	samples := int(frameDur * time.Duration(sampleRate) / time.Second)
	return samples * channels * 2
}
