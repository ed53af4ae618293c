// Package order restores chronological order to transcription results.
//
// The scheduler completes segments in whatever order the engine finishes
// them; downstream phrase matching needs them back in capture order. The
// [Buffer] holds out-of-order results until every earlier segment has
// resolved, bounded by a reorder deadline: a segment that stays missing past
// the deadline is force-released as a synthetic timeout so one stuck job can
// never dam the stream, and its late result (if it ever arrives) is
// discarded.
package order

import (
	"container/heap"
	"errors"
	"time"

	"github.com/voxhollow/earshot/internal/sched"
)

// errReorderTimeout is carried by synthetic results for segments whose real
// result missed the reorder deadline.
var errReorderTimeout = errors.New("order: result missed reorder deadline")

// errShutdown is carried by synthetic results for segments still unresolved
// when the buffer flushes.
var errShutdown = errors.New("order: unresolved at shutdown")

type expectation struct {
	segmentID uint64
	start     time.Duration
	end       time.Duration
	deadline  time.Time
}

// Config holds the buffer's release bound.
type Config struct {
	// MaxReorder is how long a released position may wait for its result
	// before a synthetic timeout takes its place. Default: 5s.
	MaxReorder time.Duration
}

// Buffer reorders completed results into segment capture order.
//
// Callers pass the current time explicitly, which keeps replay of a recorded
// stream deterministic and the tests clock-free. Not safe for concurrent
// use; the pipeline's single consumer goroutine owns it.
type Buffer struct {
	cfg Config

	expected      []expectation
	arrived       resultHeap
	forceReleased map[uint64]struct{}
	forced        int
}

// NewBuffer creates a Buffer. Zero-value config fields are replaced with
// defaults.
func NewBuffer(cfg Config) *Buffer {
	if cfg.MaxReorder <= 0 {
		cfg.MaxReorder = 5 * time.Second
	}
	return &Buffer{
		cfg:           cfg,
		forceReleased: make(map[uint64]struct{}),
	}
}

// Expect registers an admitted segment. Segments must be registered in
// capture order, which the assembler's monotonic IDs guarantee. The reorder
// deadline for the segment starts at now.
func (b *Buffer) Expect(segmentID uint64, start, end time.Duration, now time.Time) {
	b.expected = append(b.expected, expectation{
		segmentID: segmentID,
		start:     start,
		end:       end,
		deadline:  now.Add(b.cfg.MaxReorder),
	})
}

// Offer accepts one completed result and returns every result that is now
// releasable in capture order. A result whose position was already
// force-released is discarded.
func (b *Buffer) Offer(r sched.Result) []sched.Result {
	if _, gone := b.forceReleased[r.SegmentID]; gone {
		delete(b.forceReleased, r.SegmentID)
		return nil
	}
	heap.Push(&b.arrived, r)
	return b.release()
}

// Expire force-releases every head-of-line position whose deadline has
// passed without a result, emitting a synthetic timeout in its place, then
// returns those plus any results unblocked by the removal. Call it
// periodically from the consumer loop.
func (b *Buffer) Expire(now time.Time) []sched.Result {
	var out []sched.Result
	for len(b.expected) > 0 {
		head := b.expected[0]
		if b.headArrived() {
			out = append(out, b.popHead())
			continue
		}
		if now.Before(head.deadline) {
			break
		}
		b.forceReleased[head.segmentID] = struct{}{}
		b.expected = b.expected[1:]
		b.forced++
		out = append(out, syntheticResult(head, sched.StatusTimeout, errReorderTimeout))
	}
	return out
}

// Flush releases everything still held, in capture order. Positions with no
// result get a synthetic dropped entry so every admitted segment still
// yields exactly one output. The buffer is empty afterwards.
func (b *Buffer) Flush() []sched.Result {
	var out []sched.Result
	for len(b.expected) > 0 {
		if b.headArrived() {
			out = append(out, b.popHead())
			continue
		}
		head := b.expected[0]
		b.expected = b.expected[1:]
		out = append(out, syntheticResult(head, sched.StatusDropped, errShutdown))
	}
	b.arrived = nil
	b.forceReleased = make(map[uint64]struct{})
	return out
}

// Pending returns the number of admitted segments awaiting release.
func (b *Buffer) Pending() int {
	return len(b.expected)
}

// Forced returns the cumulative count of positions force-released past their
// reorder deadline.
func (b *Buffer) Forced() int {
	return b.forced
}

// release pops results while the earliest arrived result is the next
// expected segment.
func (b *Buffer) release() []sched.Result {
	var out []sched.Result
	for b.headArrived() {
		out = append(out, b.popHead())
	}
	return out
}

func (b *Buffer) headArrived() bool {
	return len(b.expected) > 0 && b.arrived.Len() > 0 &&
		b.arrived[0].SegmentID == b.expected[0].segmentID
}

func (b *Buffer) popHead() sched.Result {
	b.expected = b.expected[1:]
	return heap.Pop(&b.arrived).(sched.Result)
}

func syntheticResult(e expectation, status sched.Status, err error) sched.Result {
	return sched.Result{
		SegmentID: e.segmentID,
		Start:     e.start,
		End:       e.end,
		Status:    status,
		Err:       err,
	}
}
