package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ReaderSource adapts a raw 16-bit little-endian PCM byte stream (for
// example a pipe from an external capture process) into fixed-duration
// frames with synthetic monotonic timestamps.
//
// A trailing partial frame at end-of-stream is discarded; the boundary loss
// is at most one frame of audio.
type ReaderSource struct {
	r        io.Reader
	frameDur time.Duration
	frameLen int

	seq uint64
	ts  time.Duration
	err error
}

// NewReaderSource creates a ReaderSource producing frames of frameDur
// duration from 16-bit PCM at the given sample rate and channel count.
func NewReaderSource(r io.Reader, sampleRate, channels int, frameDur time.Duration) (*ReaderSource, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format: rate=%d channels=%d", sampleRate, channels)
	}
	if frameDur <= 0 {
		return nil, fmt.Errorf("audio: invalid frame duration %v", frameDur)
	}
	return &ReaderSource{
		r:        r,
		frameDur: frameDur,
		frameLen: FrameBytes(sampleRate, channels, frameDur),
	}, nil
}

// NextFrame reads exactly one frame worth of PCM from the underlying reader.
// Returns io.EOF once the stream is exhausted.
func (s *ReaderSource) NextFrame(ctx context.Context) (Frame, error) {
	if s.err != nil {
		return Frame{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	buf := make([]byte, s.frameLen)
	n, err := io.ReadFull(s.r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = io.EOF
		} else {
			s.err = fmt.Errorf("audio: read frame: %w", err)
		}
		return Frame{}, s.err
	}

	f := Frame{
		Seq:       s.seq,
		Timestamp: s.ts,
		Duration:  s.frameDur,
		PCM:       buf[:n],
	}
	s.seq++
	s.ts += s.frameDur
	return f, nil
}
