package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxhollow/earshot/internal/match"
	sinkmock "github.com/voxhollow/earshot/internal/sink/mock"
)

func TestRegistry_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	h := func(ctx context.Context, inv Invocation) error { return nil }
	if err := reg.Register(match.CmdReportStatus, h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(match.CmdReportStatus, h); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := reg.Register("", h); err == nil {
		t.Error("empty command accepted")
	}
}

func TestDispatcher_InvokesHandler(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []Invocation
	)
	reg := NewRegistry()
	reg.Register(match.CmdReportStatus, func(ctx context.Context, inv Invocation) error {
		mu.Lock()
		got = append(got, inv)
		mu.Unlock()
		return nil
	})

	d := New(Config{}, reg, nil)
	inv := Invocation{
		Command:    match.CmdReportStatus,
		Phrase:     "computer show status",
		Text:       "computer show status",
		Confidence: 0.9,
		At:         42 * time.Second,
	}
	if err := d.Dispatch(inv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != inv {
		t.Fatalf("handler saw %+v, want %+v", got, inv)
	}
}

func TestDispatcher_HandlerFailureReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	reg := NewRegistry()
	reg.Register(match.CmdPauseCapture, func(ctx context.Context, inv Invocation) error {
		return boom
	})
	reg.Register(match.CmdAnalyzeRecentContent, func(ctx context.Context, inv Invocation) error {
		panic("handler bug")
	})

	var (
		mu       sync.Mutex
		failures []error
	)
	d := New(Config{OnFailure: func(inv Invocation, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}}, reg, nil)

	d.Dispatch(Invocation{Command: match.CmdPauseCapture})
	d.Dispatch(Invocation{Command: match.CmdAnalyzeRecentContent})
	d.Dispatch(Invocation{Command: "unregistered"})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 3 {
		t.Fatalf("got %d failures, want 3: %v", len(failures), failures)
	}
	if !errors.Is(failures[0], boom) {
		t.Errorf("failure[0] = %v, want wrapped boom", failures[0])
	}
}

func TestDispatcher_FullQueueSheds(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register(match.CmdReportStatus, func(ctx context.Context, inv Invocation) error {
		<-release
		return nil
	})

	var (
		mu   sync.Mutex
		shed []error
	)
	d := New(Config{QueueDepth: 1, OnFailure: func(inv Invocation, err error) {
		mu.Lock()
		shed = append(shed, err)
		mu.Unlock()
	}}, reg, nil)

	// First invocation occupies the worker, second fills the queue; the
	// worker may drain the queue slot at any moment, so keep dispatching
	// until one is shed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		d.Dispatch(Invocation{Command: match.CmdReportStatus})
		mu.Lock()
		n := len(shed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never overflowed")
		}
	}
	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(shed[0], ErrQueueFull) {
		t.Errorf("shed error = %v, want ErrQueueFull", shed[0])
	}
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	t.Parallel()

	d := New(Config{}, NewRegistry(), nil)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Dispatch(Invocation{Command: match.CmdReportStatus}); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch after close = %v, want ErrClosed", err)
	}
}

func TestStatusHandler_WritesReport(t *testing.T) {
	t.Parallel()

	snk := &sinkmock.Sink{}
	h := NewStatusHandler(func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"segments_total": 12}, nil
	}, snk)

	if err := h(context.Background(), Invocation{Command: match.CmdReportStatus}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	events := snk.Events()
	if len(events) != 1 || events[0].Kind != "status_report" {
		t.Fatalf("events = %+v, want one status_report", events)
	}
	if events[0].Metadata["segments_total"] != 12 {
		t.Errorf("metadata = %v", events[0].Metadata)
	}
}

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterDefaults(reg, Collaborators{}); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	want := []match.Command{
		match.CmdAnalyzeRecentContent,
		match.CmdMarkPermanentRetention,
		match.CmdPauseCapture,
		match.CmdReportStatus,
		match.CmdStartHighQualityCapture,
	}
	got := reg.Commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commands[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
