package opusfeed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"layeh.com/gopus"

	"github.com/voxhollow/earshot/pkg/audio"
)

const (
	testRate     = 16000
	testFrameDur = 20 * time.Millisecond
)

// encodeStream renders n silent frames as a length-prefixed Opus packet
// stream.
func encodeStream(t *testing.T, n int) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(testRate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	frameSize := int(testFrameDur * testRate / time.Second)
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		packet, err := enc.Encode(make([]int16, frameSize), frameSize, 4000)
		if err != nil {
			t.Fatalf("Encode frame %d: %v", i, err)
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(packet)))
		buf.Write(lenBuf[:])
		buf.Write(packet)
	}
	return buf.Bytes()
}

func TestSource_DecodesPackets(t *testing.T) {
	src, err := New(bytes.NewReader(encodeStream(t, 3)), testRate, 1, testFrameDur)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wantLen := audio.FrameBytes(testRate, 1, testFrameDur)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f, err := src.NextFrame(ctx)
		if err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("frame %d seq = %d", i, f.Seq)
		}
		if want := time.Duration(i) * testFrameDur; f.Timestamp != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, f.Timestamp, want)
		}
		if len(f.PCM) != wantLen {
			t.Errorf("frame %d pcm len = %d, want %d", i, len(f.PCM), wantLen)
		}
	}

	if _, err := src.NextFrame(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("err after stream end = %v, want io.EOF", err)
	}
}

func TestSource_RejectsInvalidPacketLength(t *testing.T) {
	// A zero length prefix is a protocol error, not a short read.
	stream := []byte{0x00, 0x00}
	src, err := New(bytes.NewReader(stream), testRate, 1, testFrameDur)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = src.NextFrame(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want invalid-length error", err)
	}
	// The failure is terminal.
	if _, err2 := src.NextFrame(context.Background()); err2 == nil {
		t.Fatal("source kept reading after terminal error")
	}
}

func TestSource_TruncatedPacketBody(t *testing.T) {
	stream := []byte{0x00, 0x10, 0x01, 0x02}
	src, err := New(bytes.NewReader(stream), testRate, 1, testFrameDur)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := src.NextFrame(context.Background()); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want read error", err)
	}
}
