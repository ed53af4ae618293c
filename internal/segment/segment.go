// Package segment assembles classified audio frames into bounded speech
// segments, the unit of work handed to the transcription scheduler.
package segment

import (
	"time"

	"github.com/voxhollow/earshot/pkg/audio"
)

// State is a segment's lifecycle state.
type State int

const (
	// StateOpen means the segment is still accumulating frames. Open
	// segments are owned exclusively by the assembler.
	StateOpen State = iota

	// StateClosed means the segment is complete and ready for
	// transcription. Ownership transfers to the scheduler on hand-off; the
	// assembler must not touch it afterwards.
	StateClosed

	// StateDiscarded means the segment was shorter than the minimum viable
	// duration. Discarded segments are never transcribed but remain
	// observable for metrics.
	StateDiscarded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Segment is a contiguous run of speech frames plus retained trailing
// silence. The frame list is contiguous and timestamp-monotonic by
// construction.
type Segment struct {
	// ID is the monotonic segment identifier, assigned in open order.
	ID uint64

	// Start is the capture timestamp of the first frame.
	Start time.Duration

	// End is the end timestamp of the last appended frame. Only meaningful
	// once the segment leaves StateOpen.
	End time.Duration

	// Frames is the ordered list of frames belonging to the segment.
	Frames []audio.Frame

	// State is the lifecycle state.
	State State
}

// Duration returns the segment's audio duration.
func (s *Segment) Duration() time.Duration {
	return s.End - s.Start
}

// PCM concatenates the frames' payloads into a single buffer for the
// transcription engine.
func (s *Segment) PCM() []byte {
	var n int
	for _, f := range s.Frames {
		n += len(f.PCM)
	}
	out := make([]byte, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.PCM...)
	}
	return out
}

func (s *Segment) append(f audio.Frame) {
	if len(s.Frames) == 0 {
		s.Start = f.Timestamp
	}
	s.Frames = append(s.Frames, f)
	s.End = f.End()
}
