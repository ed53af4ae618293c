package segment

import (
	"fmt"
	"time"

	"github.com/voxhollow/earshot/internal/vad"
	"github.com/voxhollow/earshot/pkg/audio"
)

// EventKind discriminates assembler events.
type EventKind int

const (
	// EventOpened means a new segment started accumulating frames.
	EventOpened EventKind = iota

	// EventClosed means a segment completed and is ready for transcription.
	// Ownership of the segment transfers to the receiver.
	EventClosed

	// EventDiscarded means a segment ended below the minimum viable
	// duration. It will not be transcribed but the event keeps it
	// observable.
	EventDiscarded
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Event is an assembler output: a segment changing lifecycle state.
type Event struct {
	Kind    EventKind
	Segment *Segment
}

// Config holds the assembler duration bounds.
type Config struct {
	// MinSegment is the minimum viable segment duration; shorter segments
	// are discarded instead of transcribed.
	MinSegment time.Duration

	// MaxSegment caps a single segment. Longer speech is force-split into
	// continuation segments to bound memory and transcription latency.
	MaxSegment time.Duration
}

// Assembler turns classifier decisions into segments. It buffers frames
// during onset debounce so a confirmed utterance starts at the threshold
// crossing, not at confirmation.
//
// Not safe for concurrent use; it lives on the pipeline's single ingestion
// goroutine.
type Assembler struct {
	cfg Config

	nextID    uint64
	candidate []audio.Frame
	current   *Segment
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg Config) (*Assembler, error) {
	if cfg.MinSegment < 0 {
		return nil, fmt.Errorf("segment: min duration %v is negative", cfg.MinSegment)
	}
	if cfg.MaxSegment <= cfg.MinSegment {
		return nil, fmt.Errorf("segment: max duration %v must exceed min %v", cfg.MaxSegment, cfg.MinSegment)
	}
	return &Assembler{cfg: cfg, nextID: 1}, nil
}

// Process consumes one frame with its classification and returns any
// resulting lifecycle events, in order.
func (a *Assembler) Process(f audio.Frame, d vad.Decision) []Event {
	switch d.Event {
	case vad.EventOnsetAborted:
		a.candidate = nil
		return nil

	case vad.EventSpeechStart:
		seg := &Segment{ID: a.nextID, State: StateOpen}
		a.nextID++
		for _, cf := range a.candidate {
			seg.append(cf)
		}
		a.candidate = nil
		seg.append(f)
		a.current = seg
		events := []Event{{Kind: EventOpened, Segment: seg}}
		return append(events, a.splitIfOverCap()...)

	case vad.EventSpeechEnd:
		if a.current == nil {
			return nil
		}
		a.current.append(f)
		return a.close()
	}

	switch d.Phase {
	case vad.PhaseCandidate:
		a.candidate = append(a.candidate, f)
		return nil

	case vad.PhaseSpeech, vad.PhaseTrailing:
		if a.current == nil {
			return nil
		}
		a.current.append(f)
		return a.splitIfOverCap()
	}

	return nil
}

// Flush force-closes any open segment, e.g. when the stream ends or the
// pipeline drains. Pending candidate frames never reached confirmed speech
// and are dropped.
func (a *Assembler) Flush() []Event {
	a.candidate = nil
	if a.current == nil {
		return nil
	}
	return a.close()
}

// close finalises the current segment, releases ownership, and reports it
// as closed or discarded depending on the minimum duration.
func (a *Assembler) close() []Event {
	seg := a.current
	a.current = nil

	if seg.Duration() < a.cfg.MinSegment {
		seg.State = StateDiscarded
		return []Event{{Kind: EventDiscarded, Segment: seg}}
	}
	seg.State = StateClosed
	return []Event{{Kind: EventClosed, Segment: seg}}
}

// splitIfOverCap force-closes the current segment once it reaches the cap
// and opens an empty continuation so unusually long speech stays bounded.
func (a *Assembler) splitIfOverCap() []Event {
	if a.current == nil || a.current.Duration() < a.cfg.MaxSegment {
		return nil
	}

	full := a.current
	full.State = StateClosed

	cont := &Segment{ID: a.nextID, State: StateOpen, Start: full.End, End: full.End}
	a.nextID++
	a.current = cont

	return []Event{
		{Kind: EventClosed, Segment: full},
		{Kind: EventOpened, Segment: cont},
	}
}
