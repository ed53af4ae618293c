// Package sched runs segment transcription on a bounded worker pool.
//
// The central type is [Scheduler]. Admission is non-blocking: when the
// pending queue is full the oldest waiting segment is evicted and reported
// with [StatusDropped], so a slow engine sheds the oldest backlog instead of
// stalling audio ingestion. Every admitted segment produces exactly one
// terminal [Result] — completed, timed out, failed, or dropped.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhollow/earshot/internal/segment"
	"github.com/voxhollow/earshot/pkg/engine"
)

// ErrDraining is returned by [Scheduler.Submit] once [Scheduler.Drain] has
// been called.
var ErrDraining = errors.New("scheduler is draining")

// Status is the terminal outcome of a scheduled segment.
type Status int

const (
	// StatusOK means transcription completed.
	StatusOK Status = iota

	// StatusTimeout means the per-job timeout elapsed before the engine
	// returned.
	StatusTimeout

	// StatusFailed means the engine returned an error or panicked.
	StatusFailed

	// StatusDropped means the segment was evicted from the pending queue
	// under backpressure, or was still queued when the scheduler drained.
	StatusDropped
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome for one segment. Text and Confidence are
// only meaningful for [StatusOK].
type Result struct {
	SegmentID  uint64
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float64
	Status     Status
	Err        error
}

// Config holds the scheduler's concurrency bounds.
type Config struct {
	// Workers is the number of concurrent transcription calls. Default: 2.
	Workers int

	// QueueDepth is the maximum number of segments waiting for a worker
	// before the oldest is evicted. Default: 8.
	QueueDepth int

	// JobTimeout bounds a single engine call. Default: 30s.
	JobTimeout time.Duration
}

// Scheduler fans segments out to a fixed pool of transcription workers.
// Submit is safe to call from one goroutine while workers run; all other
// state is internally synchronised.
type Scheduler struct {
	cfg     Config
	eng     engine.Engine
	log     *slog.Logger
	degrade *Degrade

	results chan Result

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*segment.Segment
	draining bool

	wg     sync.WaitGroup
	emitWG sync.WaitGroup
}

// New creates a Scheduler and starts its workers. Zero-value config fields
// are replaced with defaults.
func New(cfg Config, eng engine.Engine, log *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		cfg:     cfg,
		eng:     eng,
		log:     log,
		degrade: NewDegrade(DegradeConfig{}, log),
		results: make(chan Result, cfg.QueueDepth+cfg.Workers),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker()
	}
	return s
}

// Results delivers terminal results. The channel is closed by a successful
// [Scheduler.Drain]. Delivery order is completion order, not segment order.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Degraded reports whether the engine failure streak has crossed the
// degradation threshold.
func (s *Scheduler) Degraded() bool {
	return s.degrade.Degraded()
}

// Submit queues a closed segment for transcription without blocking. When
// the queue is full the oldest pending segment is evicted and reported as
// dropped before the new one is admitted.
func (s *Scheduler) Submit(seg *segment.Segment) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrDraining
	}

	var evicted *segment.Segment
	if len(s.pending) >= s.cfg.QueueDepth {
		evicted = s.pending[0]
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, seg)
	s.cond.Signal()
	s.mu.Unlock()

	if evicted != nil {
		s.log.Warn("segment evicted under backpressure",
			"segment_id", evicted.ID,
			"start", evicted.Start,
			"queue_depth", s.cfg.QueueDepth)
		s.emit(dropped(evicted, errors.New("evicted under backpressure")))
	}
	return nil
}

// Drain stops admission, reports still-queued segments as dropped, waits for
// in-flight transcriptions to finish, and closes the results channel. If ctx
// expires first the channel stays open and the context error is returned.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrDraining
	}
	s.draining = true
	queued := s.pending
	s.pending = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, seg := range queued {
		s.emit(dropped(seg, errors.New("scheduler drained")))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.emitWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(s.results)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sched: drain: %w", ctx.Err())
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.draining {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		seg := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.results <- s.run(seg)
	}
}

// run executes one engine call with the job timeout and converts the outcome
// into a terminal result. Engine panics are contained here so a single bad
// segment cannot take down the pool.
func (s *Scheduler) run(seg *segment.Segment) (res Result) {
	res = Result{SegmentID: seg.ID, Start: seg.Start, End: seg.End}

	defer func() {
		if r := recover(); r != nil {
			s.degrade.RecordFailure()
			res.Status = StatusFailed
			res.Err = fmt.Errorf("sched: engine panic: %v", r)
			s.log.Error("engine panicked",
				"segment_id", seg.ID,
				"panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	out, err := s.eng.Transcribe(ctx, seg.PCM())
	if err != nil {
		s.degrade.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			res.Status = StatusTimeout
			res.Err = fmt.Errorf("sched: segment %d timed out after %v: %w", seg.ID, s.cfg.JobTimeout, err)
		} else {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("sched: segment %d: %w", seg.ID, err)
		}
		s.log.Warn("transcription failed",
			"segment_id", seg.ID,
			"status", res.Status,
			"error", err)
		return res
	}

	s.degrade.RecordSuccess()
	res.Status = StatusOK
	res.Text = out.Text
	res.Confidence = out.Confidence
	s.log.Debug("segment transcribed",
		"segment_id", seg.ID,
		"audio", seg.Duration(),
		"elapsed", time.Since(started),
		"confidence", out.Confidence)
	return res
}

// emit delivers a result without ever blocking the caller. Submit runs on
// the ingestion goroutine, which must not stall behind a slow consumer.
func (s *Scheduler) emit(r Result) {
	select {
	case s.results <- r:
	default:
		s.emitWG.Add(1)
		go func() {
			defer s.emitWG.Done()
			s.results <- r
		}()
	}
}

func dropped(seg *segment.Segment, err error) Result {
	return Result{
		SegmentID: seg.ID,
		Start:     seg.Start,
		End:       seg.End,
		Status:    StatusDropped,
		Err:       err,
	}
}
