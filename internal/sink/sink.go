// Package sink defines where pipeline output lands: transcripts and system
// events go to a knowledge sink, segment metadata goes to the storage
// manager that owns tiering and retention.
package sink

import (
	"context"
	"log/slog"
	"time"
)

// TranscriptRecord is one ordered transcript as written to the knowledge
// sink. Start and End are stream time, offsets from the beginning of the
// audio stream.
type TranscriptRecord struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64

	// Activation is set for any transcript that engaged the matcher's
	// activation path, matched or ambiguous.
	Activation bool

	// Ambiguous marks a near-miss: the activation keyword led the utterance
	// but no phrase cleared the threshold.
	Ambiguous bool

	// Command is the matched command identifier, empty otherwise.
	Command string
}

// SystemEvent is a lifecycle or error event the pipeline surfaces for
// operators.
type SystemEvent struct {
	Kind        string
	Description string
	Severity    slog.Level
	Metadata    map[string]any
}

// KnowledgeSink persists transcripts and system events. Implementations
// must tolerate being called from a single consumer goroutine at high rate.
type KnowledgeSink interface {
	WriteTranscript(ctx context.Context, rec TranscriptRecord) error
	WriteSystemEvent(ctx context.Context, ev SystemEvent) error
}

// SegmentRecord is the per-segment metadata handed to the storage manager
// for externally-owned tiering and pruning decisions.
type SegmentRecord struct {
	SegmentID uint64
	Start     time.Duration
	End       time.Duration

	// Permanent is set when a retention command marked the surrounding
	// capture window for permanent retention.
	Permanent bool
}

// StorageNotifier receives segment metadata. The pipeline never manages
// file lifetime itself.
type StorageNotifier interface {
	NotifySegment(ctx context.Context, rec SegmentRecord) error
}
