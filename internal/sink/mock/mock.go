// Package mock provides recording sink doubles for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxhollow/earshot/internal/sink"
)

// Compile-time assertions.
var (
	_ sink.KnowledgeSink   = (*Sink)(nil)
	_ sink.StorageNotifier = (*Notifier)(nil)
)

// Sink records every write. Err, when set, is returned by all writes.
// Safe for concurrent use.
type Sink struct {
	Err error

	mu          sync.Mutex
	transcripts []sink.TranscriptRecord
	events      []sink.SystemEvent
}

// WriteTranscript implements [sink.KnowledgeSink].
func (s *Sink) WriteTranscript(ctx context.Context, rec sink.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.transcripts = append(s.transcripts, rec)
	return nil
}

// WriteSystemEvent implements [sink.KnowledgeSink].
func (s *Sink) WriteSystemEvent(ctx context.Context, ev sink.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

// Transcripts returns a copy of the recorded transcripts.
func (s *Sink) Transcripts() []sink.TranscriptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sink.TranscriptRecord, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// Events returns a copy of the recorded system events.
func (s *Sink) Events() []sink.SystemEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sink.SystemEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Notifier records segment notifications. Safe for concurrent use.
type Notifier struct {
	Err error

	mu   sync.Mutex
	recs []sink.SegmentRecord
}

// NotifySegment implements [sink.StorageNotifier].
func (n *Notifier) NotifySegment(ctx context.Context, rec sink.SegmentRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.recs = append(n.recs, rec)
	return nil
}

// Segments returns a copy of the recorded segment notifications.
func (n *Notifier) Segments() []sink.SegmentRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sink.SegmentRecord, len(n.recs))
	copy(out, n.recs)
	return out
}
