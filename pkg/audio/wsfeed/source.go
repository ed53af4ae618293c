// Package wsfeed provides an [audio.Source] that receives raw PCM frames
// from a remote sensor over a WebSocket connection. Each binary message
// carries exactly one frame of 16-bit little-endian PCM; the source assigns
// monotonic timestamps on arrival order.
//
// The feed is receive-only. Device loss on the sensor side shows up as an
// abnormal close, which the source reports as [audio.DeviceLossError] so the
// pipeline can surface it distinctly from a normal end-of-stream.
package wsfeed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/coder/websocket"

	"github.com/voxhollow/earshot/pkg/audio"
)

// Source reads PCM frames from a WebSocket feed. Not safe for concurrent
// use; the pipeline's ingestion goroutine is the only intended caller.
type Source struct {
	conn     *websocket.Conn
	url      string
	frameDur time.Duration
	frameLen int

	seq uint64
	ts  time.Duration
	err error
}

// Dial connects to the sensor feed at url. Frames shorter or longer than one
// frameDur worth of PCM at the given format are rejected as protocol errors.
func Dial(ctx context.Context, url string, sampleRate, channels int, frameDur time.Duration) (*Source, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsfeed: dial %q: %w", url, err)
	}
	// Frames are consumed one at a time; no need for a large read buffer.
	conn.SetReadLimit(int64(audio.FrameBytes(sampleRate, channels, frameDur)) + 64)

	return &Source{
		conn:     conn,
		url:      url,
		frameDur: frameDur,
		frameLen: audio.FrameBytes(sampleRate, channels, frameDur),
	}, nil
}

// NextFrame blocks until the next binary message arrives and returns it as a
// frame. A normal close maps to io.EOF; any other connection failure maps to
// [audio.DeviceLossError].
func (s *Source) NextFrame(ctx context.Context) (audio.Frame, error) {
	if s.err != nil {
		return audio.Frame{}, s.err
	}

	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.err = io.EOF
		} else {
			s.err = &audio.DeviceLossError{Device: s.url, Err: err}
		}
		return audio.Frame{}, s.err
	}
	if typ != websocket.MessageBinary {
		s.err = fmt.Errorf("wsfeed: unexpected %v message", typ)
		return audio.Frame{}, s.err
	}
	if len(data) != s.frameLen {
		s.err = fmt.Errorf("wsfeed: frame size %d, want %d", len(data), s.frameLen)
		return audio.Frame{}, s.err
	}

	f := audio.Frame{
		Seq:       s.seq,
		Timestamp: s.ts,
		Duration:  s.frameDur,
		PCM:       data,
	}
	s.seq++
	s.ts += s.frameDur
	return f, nil
}

// Close closes the underlying WebSocket connection.
func (s *Source) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "feed closed")
}
