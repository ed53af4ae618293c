package audio

import "time"

// Frame represents a single fixed-duration frame of raw audio flowing into
// the pipeline. Frames are the atomic unit of ingestion — produced by a
// [Source], scored by the activity classifier, and collected into segments.
type Frame struct {
	// Seq is the monotonic frame sequence number assigned by the source.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	// Timestamps are strictly increasing across a stream.
	Timestamp time.Duration

	// Duration is the frame length (e.g., 20ms or 30ms).
	Duration time.Duration

	// PCM holds raw 16-bit little-endian signed PCM samples. Sample rate and
	// channel count are determined by the pipeline config.
	PCM []byte
}

// End returns the timestamp of the first sample after this frame.
func (f Frame) End() time.Duration {
	return f.Timestamp + f.Duration
}
