// Package opusfeed provides an [audio.Source] that decodes a stream of Opus
// packets into PCM frames. It suits sensors that encode on-device to keep
// their uplink cheap; the pipeline itself always operates on raw PCM.
//
// Packets are read length-prefixed (big-endian uint16) from an io.Reader.
// Each packet must decode to exactly one frame of the configured duration.
package opusfeed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"layeh.com/gopus"

	"github.com/voxhollow/earshot/pkg/audio"
)

// maxPacketLen bounds a single Opus packet read so a corrupt length prefix
// cannot trigger a huge allocation.
const maxPacketLen = 8 * 1024

// Source decodes length-prefixed Opus packets into [audio.Frame] values.
// Not safe for concurrent use; the pipeline's single ingestion goroutine is
// the only intended caller.
type Source struct {
	r        io.Reader
	dec      *gopus.Decoder
	channels int
	frameDur time.Duration
	// samples per channel per frame, fixed by sample rate and frame duration
	frameSize int

	seq uint64
	ts  time.Duration
	err error
}

// New creates a Source decoding Opus packets to 16-bit PCM at the given
// sample rate and channel count, producing frames of frameDur duration.
func New(r io.Reader, sampleRate, channels int, frameDur time.Duration) (*Source, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opusfeed: create decoder: %w", err)
	}
	return &Source{
		r:         r,
		dec:       dec,
		channels:  channels,
		frameDur:  frameDur,
		frameSize: int(frameDur * time.Duration(sampleRate) / time.Second),
	}, nil
}

// NextFrame reads and decodes the next Opus packet. Returns io.EOF at the
// end of the stream. A decode failure is terminal: an Opus decoder's state
// is unreliable after a corrupt packet.
func (s *Source) NextFrame(ctx context.Context) (audio.Frame, error) {
	if s.err != nil {
		return audio.Frame{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			s.err = io.EOF
		} else {
			s.err = fmt.Errorf("opusfeed: read packet length: %w", err)
		}
		return audio.Frame{}, s.err
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n == 0 || n > maxPacketLen {
		s.err = fmt.Errorf("opusfeed: invalid packet length %d", n)
		return audio.Frame{}, s.err
	}

	packet := make([]byte, n)
	if _, err := io.ReadFull(s.r, packet); err != nil {
		s.err = fmt.Errorf("opusfeed: read packet body: %w", err)
		return audio.Frame{}, s.err
	}

	pcm, err := s.dec.Decode(packet, s.frameSize, false)
	if err != nil {
		s.err = fmt.Errorf("opusfeed: decode packet: %w", err)
		return audio.Frame{}, s.err
	}

	f := audio.Frame{
		Seq:       s.seq,
		Timestamp: s.ts,
		Duration:  s.frameDur,
		PCM:       int16sToBytes(pcm),
	}
	s.seq++
	s.ts += s.frameDur
	return f, nil
}

// int16sToBytes converts PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
