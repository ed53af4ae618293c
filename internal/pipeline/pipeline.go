// Package pipeline owns the audio-to-action flow: frames from the source
// are classified and assembled into segments on a single ingestion
// goroutine, transcribed on the scheduler's worker pool, restored to
// capture order, matched against the activation grammar, and dispatched or
// written to the knowledge sink.
//
// Lifecycle: [Pipeline.Run] blocks until the source ends, the context is
// cancelled, or the source reports device loss. Shutdown drains: admission
// stops, in-flight transcriptions finish within the grace period, the
// ordering buffer flushes, and every admitted segment still resolves to
// exactly one terminal emission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/voxhollow/earshot/internal/dispatch"
	"github.com/voxhollow/earshot/internal/match"
	"github.com/voxhollow/earshot/internal/observe"
	"github.com/voxhollow/earshot/internal/order"
	"github.com/voxhollow/earshot/internal/sched"
	"github.com/voxhollow/earshot/internal/segment"
	"github.com/voxhollow/earshot/internal/sink"
	"github.com/voxhollow/earshot/internal/vad"
	"github.com/voxhollow/earshot/pkg/audio"
	"github.com/voxhollow/earshot/pkg/engine"
)

// Config holds the pipeline stage parameters.
type Config struct {
	VAD       vad.Config
	Segment   segment.Config
	Scheduler sched.Config
	Ordering  order.Config

	// MinConfidence discards transcripts below this engine confidence
	// before matching. They still reach the sink as plain transcripts.
	MinConfidence float64

	// DrainGrace bounds how long shutdown waits for in-flight
	// transcriptions. Default: 15s.
	DrainGrace time.Duration

	// ExpireInterval is how often the consumer checks the ordering buffer
	// for overdue positions. Default: 250ms.
	ExpireInterval time.Duration
}

// Deps are the pipeline's collaborators. Source, Engine, Matcher,
// Dispatcher, and Sink are required; Notifier, Metrics, and Logger are
// optional.
type Deps struct {
	Source     audio.Source
	Engine     engine.Engine
	Matcher    *match.Matcher
	Dispatcher *dispatch.Dispatcher
	Sink       sink.KnowledgeSink
	Notifier   sink.StorageNotifier
	Metrics    *observe.Metrics
	Logger     *slog.Logger
}

// stats are the pipeline's cumulative counters, snapshot by [Pipeline.Status].
type stats struct {
	frames            atomic.Int64
	segmentsClosed    atomic.Int64
	segmentsDiscarded atomic.Int64
	resultsOK         atomic.Int64
	resultsTimeout    atomic.Int64
	resultsFailed     atomic.Int64
	resultsDropped    atomic.Int64
	commands          atomic.Int64
	ambiguous         atomic.Int64
	suppressed        atomic.Int64
	dropStreak        atomic.Int64
}

// Pipeline wires the stages together and owns their lifecycle.
type Pipeline struct {
	cfg Config

	src      audio.Source
	class    *vad.Classifier
	asm      *segment.Assembler
	sched    *sched.Scheduler
	buffer   *order.Buffer
	matcher  *match.Matcher
	disp     *dispatch.Dispatcher
	snk      sink.KnowledgeSink
	notifier sink.StorageNotifier
	met      *observe.Metrics
	log      *slog.Logger

	// admittedAt maps segment ID to admission wall time for the emission
	// lag histogram. Written by ingestion, cleared by the consumer.
	mu         sync.Mutex
	admittedAt map[uint64]time.Time

	// quit aborts the consumer if the scheduler fails to drain.
	quit     chan struct{}
	quitOnce sync.Once

	stats stats
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Engine == nil || deps.Matcher == nil ||
		deps.Dispatcher == nil || deps.Sink == nil {
		return nil, errors.New("pipeline: source, engine, matcher, dispatcher, and sink are required")
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 15 * time.Second
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = 250 * time.Millisecond
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	met := deps.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}

	class, err := vad.New(cfg.VAD)
	if err != nil {
		return nil, err
	}
	asm, err := segment.NewAssembler(cfg.Segment)
	if err != nil {
		return nil, err
	}

	eng := timedEngine{inner: deps.Engine, met: met}

	return &Pipeline{
		cfg:        cfg,
		src:        deps.Source,
		class:      class,
		asm:        asm,
		sched:      sched.New(cfg.Scheduler, eng, log),
		buffer:     order.NewBuffer(cfg.Ordering),
		matcher:    deps.Matcher,
		disp:       deps.Dispatcher,
		snk:        deps.Sink,
		notifier:   deps.Notifier,
		met:        met,
		log:        log,
		admittedAt: make(map[uint64]time.Time),
		quit:       make(chan struct{}),
	}, nil
}

// Run processes the stream until it ends or ctx is cancelled, then drains.
// Device loss and source failures return as errors; end-of-stream and
// cancellation drain cleanly and return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.systemEvent(ctx, EventStarted, "pipeline started", slog.LevelInfo, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.consume)
	g.Go(func() error {
		err := p.ingest(gctx)

		dctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainGrace)
		defer cancel()
		if derr := p.sched.Drain(dctx); derr != nil {
			p.log.Error("scheduler drain timed out, aborting consumer", "error", derr)
			p.quitOnce.Do(func() { close(p.quit) })
			if err == nil {
				err = derr
			}
		}
		return err
	})

	err := g.Wait()

	dctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainGrace)
	defer cancel()
	if cerr := p.disp.Close(dctx); cerr != nil && !errors.Is(cerr, dispatch.ErrClosed) {
		p.log.Warn("dispatcher close", "error", cerr)
	}

	p.systemEvent(context.Background(), EventStopped, "pipeline stopped", slog.LevelInfo, p.Status())
	return err
}

// Status returns a snapshot of the pipeline counters, served by the
// report_status command and the stop event.
func (p *Pipeline) Status() map[string]any {
	return map[string]any{
		"frames_ingested":    p.stats.frames.Load(),
		"segments_closed":    p.stats.segmentsClosed.Load(),
		"segments_discarded": p.stats.segmentsDiscarded.Load(),
		"results_ok":         p.stats.resultsOK.Load(),
		"results_timeout":    p.stats.resultsTimeout.Load(),
		"results_failed":     p.stats.resultsFailed.Load(),
		"results_dropped":    p.stats.resultsDropped.Load(),
		"commands":           p.stats.commands.Load(),
		"ambiguous":          p.stats.ambiguous.Load(),
		"suppressed":         p.stats.suppressed.Load(),
		"engine_degraded":    p.sched.Degraded(),
	}
}

// Degraded reports whether the transcription engine is in a failure streak.
func (p *Pipeline) Degraded() bool {
	return p.sched.Degraded()
}

// ingest is the single producer loop: classification and assembly run
// inline so segment boundaries are strictly deterministic from frame order.
func (p *Pipeline) ingest(ctx context.Context) error {
	for {
		f, err := p.src.NextFrame(ctx)
		if err != nil {
			var lost *audio.DeviceLossError
			switch {
			case errors.Is(err, io.EOF):
				p.log.Info("audio stream ended", "frames", p.stats.frames.Load())
				p.finishAssembly(ctx)
				return nil
			case errors.As(err, &lost):
				p.systemEvent(ctx, EventDeviceLost, "audio device lost: "+lost.Error(),
					slog.LevelError, map[string]any{"device": lost.Device})
				p.finishAssembly(ctx)
				return fmt.Errorf("pipeline: %w", err)
			case errors.Is(err, context.Canceled):
				p.finishAssembly(context.Background())
				return nil
			default:
				p.systemEvent(ctx, EventSourceError, "audio source failed: "+err.Error(),
					slog.LevelError, nil)
				p.finishAssembly(ctx)
				return fmt.Errorf("pipeline: source: %w", err)
			}
		}

		p.stats.frames.Add(1)
		p.met.FramesIngested.Add(ctx, 1)

		d := p.class.Classify(f)
		p.handleSegmentEvents(ctx, p.asm.Process(f, d))
	}
}

// finishAssembly force-closes any open segment at end of stream.
func (p *Pipeline) finishAssembly(ctx context.Context) {
	p.handleSegmentEvents(ctx, p.asm.Flush())
}

func (p *Pipeline) handleSegmentEvents(ctx context.Context, events []segment.Event) {
	for _, ev := range events {
		seg := ev.Segment
		switch ev.Kind {
		case segment.EventOpened:
			p.log.Debug("segment opened", "segment_id", seg.ID, "start", seg.Start)

		case segment.EventClosed:
			p.stats.segmentsClosed.Add(1)
			p.met.RecordSegment(ctx, "closed")
			p.met.SegmentAudioDuration.Record(ctx, seg.Duration().Seconds())
			p.admit(ctx, seg)

		case segment.EventDiscarded:
			p.stats.segmentsDiscarded.Add(1)
			p.met.RecordSegment(ctx, "discarded")
			p.log.Debug("segment discarded below minimum duration",
				"segment_id", seg.ID,
				"duration", seg.Duration())
		}
	}
}

// admit registers a closed segment with the ordering buffer and submits it
// for transcription. Registration precedes submission so the buffer's
// expectations are complete before any result can arrive.
func (p *Pipeline) admit(ctx context.Context, seg *segment.Segment) {
	now := time.Now()
	p.mu.Lock()
	p.admittedAt[seg.ID] = now
	p.buffer.Expect(seg.ID, seg.Start, seg.End, now)
	p.mu.Unlock()

	if err := p.sched.Submit(seg); err != nil {
		p.log.Warn("segment rejected at admission", "segment_id", seg.ID, "error", err)
	}
	p.met.QueueDepth.Add(ctx, 1)

	if p.notifier != nil {
		if err := p.notifier.NotifySegment(ctx, sink.SegmentRecord{
			SegmentID: seg.ID,
			Start:     seg.Start,
			End:       seg.End,
		}); err != nil {
			p.log.Warn("storage notification failed", "segment_id", seg.ID, "error", err)
		}
	}
}

// consume is the single consumer loop: reordering, matching, and dispatch
// run sequentially here so output ordering stays simple to reason about.
func (p *Pipeline) consume() error {
	ticker := time.NewTicker(p.cfg.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-p.sched.Results():
			if !ok {
				p.emitAll(p.flushBuffer())
				return nil
			}
			p.emitAll(p.offerBuffer(r))

		case <-ticker.C:
			p.emitAll(p.expireBuffer(time.Now()))

		case <-p.quit:
			p.emitAll(p.flushBuffer())
			return errors.New("pipeline: consumer aborted after failed drain")
		}
	}
}

func (p *Pipeline) offerBuffer(r sched.Result) []sched.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.Offer(r)
}

func (p *Pipeline) expireBuffer(now time.Time) []sched.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := p.buffer.Forced()
	out := p.buffer.Expire(now)
	if forced := p.buffer.Forced() - before; forced > 0 {
		p.met.ForcedReleases.Add(context.Background(), int64(forced))
	}
	return out
}

func (p *Pipeline) flushBuffer() []sched.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.Flush()
}

// emitAll processes ordered results one at a time.
func (p *Pipeline) emitAll(results []sched.Result) {
	for _, r := range results {
		p.emit(r)
	}
}

func (p *Pipeline) emit(r sched.Result) {
	ctx := context.Background()
	p.met.RecordResult(ctx, r.Status.String())
	p.met.QueueDepth.Add(ctx, -1)

	p.mu.Lock()
	if admitted, ok := p.admittedAt[r.SegmentID]; ok {
		p.met.EmissionLag.Record(ctx, time.Since(admitted).Seconds())
		delete(p.admittedAt, r.SegmentID)
	}
	p.mu.Unlock()

	switch r.Status {
	case sched.StatusOK:
		p.stats.resultsOK.Add(1)
		p.stats.dropStreak.Store(0)
		p.handleTranscript(ctx, r)

	case sched.StatusTimeout:
		p.stats.resultsTimeout.Add(1)
		p.systemEvent(ctx, EventResultTimeout, "transcription timed out",
			slog.LevelWarn, map[string]any{"segment_id": r.SegmentID, "start": r.Start.String()})

	case sched.StatusFailed:
		p.stats.resultsFailed.Add(1)
		p.systemEvent(ctx, EventResultFailed, "transcription failed: "+errString(r.Err),
			slog.LevelWarn, map[string]any{"segment_id": r.SegmentID})

	case sched.StatusDropped:
		p.stats.resultsDropped.Add(1)
		p.systemEvent(ctx, EventResultDropped, "segment dropped under overload",
			slog.LevelWarn, map[string]any{"segment_id": r.SegmentID})
		if p.stats.dropStreak.Add(1) == overloadStreak {
			p.systemEvent(ctx, EventOverload,
				fmt.Sprintf("%d consecutive segments dropped, pipeline is overloaded", overloadStreak),
				slog.LevelError, nil)
		}
	}
}

// handleTranscript matches one ordered OK transcript and routes it to the
// dispatcher and the sink.
func (p *Pipeline) handleTranscript(ctx context.Context, r sched.Result) {
	if r.Text == "" {
		return
	}

	rec := sink.TranscriptRecord{
		Text:       r.Text,
		Start:      r.Start,
		End:        r.End,
		Confidence: r.Confidence,
	}

	if r.Confidence < p.cfg.MinConfidence {
		p.log.Debug("transcript below confidence floor",
			"segment_id", r.SegmentID,
			"confidence", r.Confidence)
		p.writeTranscript(ctx, rec)
		return
	}

	m := p.matcher.Match(r.Text, r.Start)
	p.met.RecordMatch(ctx, m.Kind.String())

	switch m.Kind {
	case match.KindCommand:
		p.stats.commands.Add(1)
		rec.Activation = true
		rec.Command = string(m.Command)
		err := p.disp.Dispatch(dispatch.Invocation{
			Command:    m.Command,
			Phrase:     m.Phrase,
			Text:       r.Text,
			Confidence: r.Confidence,
			Ratio:      m.Ratio,
			At:         r.Start,
		})
		status := "ok"
		if err != nil {
			status = "rejected"
			p.log.Warn("dispatch rejected", "command", m.Command, "error", err)
		}
		p.met.RecordDispatch(ctx, string(m.Command), status)

	case match.KindSuppressed:
		p.stats.suppressed.Add(1)
		rec.Activation = true
		rec.Command = string(m.Command)
		p.log.Debug("activation suppressed by cooldown",
			"command", m.Command,
			"at", r.Start)

	case match.KindAmbiguous:
		p.stats.ambiguous.Add(1)
		rec.Activation = true
		rec.Ambiguous = true
		p.log.Info("ambiguous activation, no phrase above threshold",
			"transcript", r.Text,
			"segment_id", r.SegmentID)
	}

	p.writeTranscript(ctx, rec)
}

func (p *Pipeline) writeTranscript(ctx context.Context, rec sink.TranscriptRecord) {
	if err := p.snk.WriteTranscript(ctx, rec); err != nil {
		p.log.Warn("transcript write failed", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// timedEngine starts a span and records transcription latency around the
// wrapped engine.
type timedEngine struct {
	inner engine.Engine
	met   *observe.Metrics
}

func (e timedEngine) Transcribe(ctx context.Context, pcm []byte) (engine.Result, error) {
	ctx, span := observe.StartSpan(ctx, "engine.Transcribe",
		trace.WithAttributes(attribute.Int("pcm_bytes", len(pcm))),
	)
	defer span.End()

	start := time.Now()
	out, err := e.inner.Transcribe(ctx, pcm)
	e.met.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}
