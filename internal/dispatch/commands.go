package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxhollow/earshot/internal/match"
	"github.com/voxhollow/earshot/internal/sink"
)

// RegisterDefaults wires the built-in command set into the registry using
// the supplied collaborators.
func RegisterDefaults(reg *Registry, c Collaborators) error {
	entries := []struct {
		cmd match.Command
		h   Handler
	}{
		{match.CmdStartHighQualityCapture, NewCaptureModeHandler(c.SetHighQuality, true)},
		{match.CmdPauseCapture, NewCaptureModeHandler(c.SetPaused, true)},
		{match.CmdMarkPermanentRetention, NewMarkRetentionHandler(c.MarkRetention)},
		{match.CmdAnalyzeRecentContent, NewAnalyzeHandler(c.Analyze)},
		{match.CmdReportStatus, NewStatusHandler(c.Status, c.Sink)},
	}
	for _, e := range entries {
		if err := reg.Register(e.cmd, e.h); err != nil {
			return err
		}
	}
	return nil
}

// Collaborators are the external capabilities the built-in handlers act on.
// Nil fields make the corresponding handler a logged no-op.
type Collaborators struct {
	// SetHighQuality switches the external capture process into or out of
	// high-quality mode.
	SetHighQuality func(ctx context.Context, on bool) error

	// SetPaused pauses or resumes capture.
	SetPaused func(ctx context.Context, on bool) error

	// MarkRetention flags the capture window around the given stream time
	// for permanent retention.
	MarkRetention func(ctx context.Context, at time.Duration) error

	// Analyze triggers analysis of recently captured content.
	Analyze func(ctx context.Context, at time.Duration) error

	// Status produces a snapshot of pipeline health counters.
	Status func(ctx context.Context) (map[string]any, error)

	// Sink receives the status report as a system event.
	Sink sink.KnowledgeSink
}

// NewCaptureModeHandler returns a handler that toggles a capture mode.
func NewCaptureModeHandler(set func(ctx context.Context, on bool) error, on bool) Handler {
	return func(ctx context.Context, inv Invocation) error {
		if set == nil {
			slog.Info("capture mode change ignored, no controller wired", "command", inv.Command)
			return nil
		}
		if err := set(ctx, on); err != nil {
			return fmt.Errorf("dispatch: set capture mode: %w", err)
		}
		return nil
	}
}

// NewMarkRetentionHandler returns a handler that marks the activation's
// capture window permanent.
func NewMarkRetentionHandler(mark func(ctx context.Context, at time.Duration) error) Handler {
	return func(ctx context.Context, inv Invocation) error {
		if mark == nil {
			slog.Info("retention mark ignored, no storage notifier wired", "at", inv.At)
			return nil
		}
		if err := mark(ctx, inv.At); err != nil {
			return fmt.Errorf("dispatch: mark retention: %w", err)
		}
		return nil
	}
}

// NewAnalyzeHandler returns a handler that triggers recent-content analysis.
func NewAnalyzeHandler(analyze func(ctx context.Context, at time.Duration) error) Handler {
	return func(ctx context.Context, inv Invocation) error {
		if analyze == nil {
			slog.Info("analysis ignored, no analyzer wired", "at", inv.At)
			return nil
		}
		if err := analyze(ctx, inv.At); err != nil {
			return fmt.Errorf("dispatch: analyze: %w", err)
		}
		return nil
	}
}

// NewStatusHandler returns a handler that snapshots pipeline status and
// writes it to the knowledge sink as a system event.
func NewStatusHandler(status func(ctx context.Context) (map[string]any, error), snk sink.KnowledgeSink) Handler {
	return func(ctx context.Context, inv Invocation) error {
		if status == nil || snk == nil {
			slog.Info("status report ignored, no status source wired")
			return nil
		}
		meta, err := status(ctx)
		if err != nil {
			return fmt.Errorf("dispatch: snapshot status: %w", err)
		}
		ev := sink.SystemEvent{
			Kind:        "status_report",
			Description: "status requested by voice command",
			Severity:    slog.LevelInfo,
			Metadata:    meta,
		}
		if err := snk.WriteSystemEvent(ctx, ev); err != nil {
			return fmt.Errorf("dispatch: write status report: %w", err)
		}
		return nil
	}
}
