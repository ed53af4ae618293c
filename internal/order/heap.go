package order

import "github.com/voxhollow/earshot/internal/sched"

// resultHeap is a min-heap of transcription results ordered by segment start
// time, with segment ID as the tie-breaker. It implements heap.Interface.
type resultHeap []sched.Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].Start != h[j].Start {
		return h[i].Start < h[j].Start
	}
	return h[i].SegmentID < h[j].SegmentID
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(sched.Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}
