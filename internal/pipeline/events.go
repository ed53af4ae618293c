package pipeline

import (
	"context"
	"log/slog"

	"github.com/voxhollow/earshot/internal/sink"
)

// System event kinds the pipeline emits.
const (
	EventStarted         = "pipeline_started"
	EventStopped         = "pipeline_stopped"
	EventDeviceLost      = "audio_device_lost"
	EventSourceError     = "audio_source_error"
	EventResultTimeout   = "transcription_timeout"
	EventResultFailed    = "transcription_failed"
	EventResultDropped   = "segment_dropped"
	EventOverload        = "sustained_overload"
	EventDispatchFailed  = "dispatch_failed"
	EventGrammarReloaded = "grammar_reloaded"
)

// overloadStreak is the consecutive-drop count that escalates queue
// eviction from routine shedding to a sustained-overload event an external
// supervisor can act on.
const overloadStreak = 5

// systemEvent writes one event to the knowledge sink, logging at the
// event's severity. Sink write failures are logged, never propagated: no
// observability failure may stop frame consumption.
func (p *Pipeline) systemEvent(ctx context.Context, kind, description string, severity slog.Level, meta map[string]any) {
	p.log.Log(ctx, severity, description, "event", kind)
	ev := sink.SystemEvent{
		Kind:        kind,
		Description: description,
		Severity:    severity,
		Metadata:    meta,
	}
	if err := p.snk.WriteSystemEvent(ctx, ev); err != nil {
		p.log.Warn("system event write failed", "event", kind, "error", err)
	}
}
