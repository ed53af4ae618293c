package segment

import (
	"testing"
	"time"

	"github.com/voxhollow/earshot/internal/vad"
	"github.com/voxhollow/earshot/pkg/audio"
)

const frameDur = 20 * time.Millisecond

func frame(seq uint64) audio.Frame {
	return audio.Frame{
		Seq:       seq,
		Timestamp: time.Duration(seq) * frameDur,
		Duration:  frameDur,
		PCM:       make([]byte, 640),
	}
}

func newTestAssembler(t *testing.T, min, max time.Duration) *Assembler {
	t.Helper()
	a, err := NewAssembler(Config{MinSegment: min, MaxSegment: max})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

func TestNewAssembler_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := NewAssembler(Config{MinSegment: -time.Second, MaxSegment: time.Second}); err == nil {
		t.Error("expected error for negative min")
	}
	if _, err := NewAssembler(Config{MinSegment: time.Second, MaxSegment: time.Second}); err == nil {
		t.Error("expected error for max <= min")
	}
}

func TestAssembler_CandidateFramesIncludedOnConfirm(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, 40*time.Millisecond, time.Minute)

	// Frame 0 is candidate, frame 1 confirms speech.
	if ev := a.Process(frame(0), vad.Decision{Phase: vad.PhaseCandidate}); ev != nil {
		t.Fatalf("candidate frame produced events: %v", ev)
	}
	ev := a.Process(frame(1), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	if len(ev) != 1 || ev[0].Kind != EventOpened {
		t.Fatalf("expected single opened event, got %+v", ev)
	}

	seg := ev[0].Segment
	if len(seg.Frames) != 2 {
		t.Fatalf("expected 2 frames (candidate + confirming), got %d", len(seg.Frames))
	}
	if seg.Start != 0 {
		t.Errorf("segment start = %v, want 0 (first candidate frame)", seg.Start)
	}
	if seg.ID != 1 {
		t.Errorf("segment ID = %d, want 1", seg.ID)
	}
}

func TestAssembler_OnsetAbortDropsCandidates(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, 40*time.Millisecond, time.Minute)

	a.Process(frame(0), vad.Decision{Phase: vad.PhaseCandidate})
	if ev := a.Process(frame(1), vad.Decision{Phase: vad.PhaseSilence, Event: vad.EventOnsetAborted}); ev != nil {
		t.Fatalf("abort produced events: %v", ev)
	}

	// A later confirmed utterance must not inherit the aborted frames.
	ev := a.Process(frame(5), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	if len(ev) != 1 {
		t.Fatalf("expected opened event, got %+v", ev)
	}
	if got := len(ev[0].Segment.Frames); got != 1 {
		t.Errorf("expected 1 frame in new segment, got %d", got)
	}
}

func TestAssembler_CloseAndContiguity(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, 40*time.Millisecond, time.Minute)

	a.Process(frame(0), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	a.Process(frame(1), vad.Decision{Phase: vad.PhaseSpeech})
	a.Process(frame(2), vad.Decision{Phase: vad.PhaseTrailing})
	ev := a.Process(frame(3), vad.Decision{Phase: vad.PhaseTrailing, Event: vad.EventSpeechEnd})

	if len(ev) != 1 || ev[0].Kind != EventClosed {
		t.Fatalf("expected closed event, got %+v", ev)
	}
	seg := ev[0].Segment
	if seg.State != StateClosed {
		t.Errorf("state = %v, want closed", seg.State)
	}
	if want := 4 * frameDur; seg.Duration() != want {
		t.Errorf("duration = %v, want %v", seg.Duration(), want)
	}
	if seg.End != frame(3).End() {
		t.Errorf("end = %v, want %v", seg.End, frame(3).End())
	}

	// Frames are contiguous and timestamp-monotonic.
	for i := 1; i < len(seg.Frames); i++ {
		if seg.Frames[i].Timestamp != seg.Frames[i-1].End() {
			t.Errorf("frame %d not contiguous: %v after %v", i, seg.Frames[i].Timestamp, seg.Frames[i-1].End())
		}
	}
}

func TestAssembler_ShortSegmentDiscarded(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, 100*time.Millisecond, time.Minute)

	a.Process(frame(0), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	ev := a.Process(frame(1), vad.Decision{Phase: vad.PhaseTrailing, Event: vad.EventSpeechEnd})

	if len(ev) != 1 || ev[0].Kind != EventDiscarded {
		t.Fatalf("expected discarded event, got %+v", ev)
	}
	if ev[0].Segment.State != StateDiscarded {
		t.Errorf("state = %v, want discarded", ev[0].Segment.State)
	}
}

func TestAssembler_MaxCapSplitsIntoContinuation(t *testing.T) {
	t.Parallel()

	// Cap at 3 frames.
	a := newTestAssembler(t, frameDur, 3*frameDur)

	a.Process(frame(0), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	a.Process(frame(1), vad.Decision{Phase: vad.PhaseSpeech})
	ev := a.Process(frame(2), vad.Decision{Phase: vad.PhaseSpeech})

	if len(ev) != 2 || ev[0].Kind != EventClosed || ev[1].Kind != EventOpened {
		t.Fatalf("expected closed+opened on cap, got %+v", ev)
	}
	full, cont := ev[0].Segment, ev[1].Segment
	if full.Duration() != 3*frameDur {
		t.Errorf("full segment duration = %v, want %v", full.Duration(), 3*frameDur)
	}
	if cont.ID != full.ID+1 {
		t.Errorf("continuation ID = %d, want %d", cont.ID, full.ID+1)
	}

	// The continuation picks up where the full segment ended.
	ev = a.Process(frame(3), vad.Decision{Phase: vad.PhaseSpeech})
	if ev != nil {
		t.Fatalf("unexpected events: %+v", ev)
	}
	ev = a.Process(frame(4), vad.Decision{Phase: vad.PhaseTrailing, Event: vad.EventSpeechEnd})
	if len(ev) != 1 || ev[0].Kind != EventClosed {
		t.Fatalf("expected closed continuation, got %+v", ev)
	}
	if ev[0].Segment.Start != full.End {
		t.Errorf("continuation start = %v, want %v", ev[0].Segment.Start, full.End)
	}
}

func TestAssembler_FlushForceCloses(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, frameDur, time.Minute)

	a.Process(frame(0), vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	a.Process(frame(1), vad.Decision{Phase: vad.PhaseSpeech})

	ev := a.Flush()
	if len(ev) != 1 || ev[0].Kind != EventClosed {
		t.Fatalf("expected closed on flush, got %+v", ev)
	}
	if ev := a.Flush(); ev != nil {
		t.Fatalf("second flush produced events: %+v", ev)
	}
}

// pcmFrame builds a frame filled with a constant 16-bit sample value, so
// its RMS energy is amp/32768.
func pcmFrame(seq uint64, amp int16) audio.Frame {
	f := frame(seq)
	for i := 0; i < len(f.PCM); i += 2 {
		f.PCM[i] = byte(amp)
		f.PCM[i+1] = byte(amp >> 8)
	}
	return f
}

func TestAssembler_SustainedOperation(t *testing.T) {
	t.Parallel()

	// A compressed day of periodic utterances: each cycle is one speech
	// burst followed by silence. Every burst must yield exactly one closed
	// segment with contiguous frames; nothing fragments, nothing is
	// discarded.
	cases := []struct {
		name         string
		cycles       int
		speechFrames int
		quietFrames  int
	}{
		{"short utterances", 4000, 10, 8},
		{"long utterances", 1500, 50, 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			class, err := vad.New(vad.Config{
				SpeechThreshold:  0.1,
				SilenceThreshold: 0.05,
				Onset:            frameDur,
				Hangover:         2 * frameDur,
				WindowFrames:     1,
			})
			if err != nil {
				t.Fatalf("vad.New: %v", err)
			}
			a := newTestAssembler(t, 2*frameDur, time.Minute)

			var opened, closed, discarded int
			var lastEnd time.Duration
			var seq uint64

			feed := func(amp int16) {
				f := pcmFrame(seq, amp)
				seq++
				for _, ev := range a.Process(f, class.Classify(f)) {
					switch ev.Kind {
					case EventOpened:
						opened++
					case EventDiscarded:
						discarded++
					case EventClosed:
						closed++
						seg := ev.Segment
						if seg.Start < lastEnd {
							t.Fatalf("segment %d starts at %v before previous end %v", seg.ID, seg.Start, lastEnd)
						}
						lastEnd = seg.End
						if want := tc.speechFrames + 2; len(seg.Frames) != want {
							t.Fatalf("segment %d has %d frames, want %d", seg.ID, len(seg.Frames), want)
						}
						for i := 1; i < len(seg.Frames); i++ {
							if seg.Frames[i].Timestamp != seg.Frames[i-1].End() {
								t.Fatalf("segment %d frame %d not contiguous", seg.ID, i)
							}
						}
					}
				}
			}

			for c := 0; c < tc.cycles; c++ {
				for i := 0; i < tc.speechFrames; i++ {
					feed(8000)
				}
				for i := 0; i < tc.quietFrames; i++ {
					feed(0)
				}
			}

			if opened != tc.cycles {
				t.Errorf("opened = %d, want %d", opened, tc.cycles)
			}
			if closed != tc.cycles {
				t.Errorf("closed = %d, want %d", closed, tc.cycles)
			}
			if discarded != 0 {
				t.Errorf("discarded = %d, want 0", discarded)
			}
			if ev := a.Flush(); ev != nil {
				t.Errorf("segment left open after final silence: %+v", ev)
			}
		})
	}
}

func TestAssembler_PCMConcatenation(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, frameDur, time.Minute)

	f0, f1 := frame(0), frame(1)
	f0.PCM = []byte{1, 2}
	f1.PCM = []byte{3, 4}

	a.Process(f0, vad.Decision{Phase: vad.PhaseSpeech, Event: vad.EventSpeechStart})
	ev := a.Process(f1, vad.Decision{Phase: vad.PhaseTrailing, Event: vad.EventSpeechEnd})

	got := ev[0].Segment.PCM()
	want := []byte{1, 2, 3, 4}
	if string(got) != string(want) {
		t.Errorf("PCM = %v, want %v", got, want)
	}
}
