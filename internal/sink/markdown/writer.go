// Package markdown writes the knowledge sink as append-only daily markdown
// notes, one file per day, human-readable without tooling.
package markdown

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/voxhollow/earshot/internal/sink"
)

// Compile-time assertion that Writer satisfies sink.KnowledgeSink.
var _ sink.KnowledgeSink = (*Writer)(nil)

// Writer appends transcripts and system events to notes-YYYY-MM-DD.md files
// under a directory. Safe for concurrent use.
type Writer struct {
	dir   string
	epoch time.Time

	mu  sync.Mutex
	f   *os.File
	day string
}

// NewWriter creates the notes directory if needed. epoch is the wall-clock
// time the audio stream started; stream-time offsets are rendered relative
// to it.
func NewWriter(dir string, epoch time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("markdown: create notes dir: %w", err)
	}
	if epoch.IsZero() {
		epoch = time.Now()
	}
	return &Writer{dir: dir, epoch: epoch}, nil
}

// WriteTranscript implements [sink.KnowledgeSink].
func (w *Writer) WriteTranscript(ctx context.Context, rec sink.TranscriptRecord) error {
	at := w.epoch.Add(rec.Start)

	var b strings.Builder
	fmt.Fprintf(&b, "- **%s** (conf %.2f) %s", at.Format("15:04:05"), rec.Confidence, rec.Text)
	switch {
	case rec.Command != "":
		fmt.Fprintf(&b, " → `%s`", rec.Command)
	case rec.Ambiguous:
		b.WriteString(" → _ambiguous activation_")
	}
	b.WriteByte('\n')

	return w.append(ctx, at, b.String())
}

// WriteSystemEvent implements [sink.KnowledgeSink].
func (w *Writer) WriteSystemEvent(ctx context.Context, ev sink.SystemEvent) error {
	at := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "- **%s** [%s/%s] %s", at.Format("15:04:05"), ev.Severity, ev.Kind, ev.Description)
	for k, v := range ev.Metadata {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return w.append(context.Background(), at, b.String())
}

// Close flushes and closes the current day's file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// append writes one line to the file for at's calendar day, rolling over at
// midnight.
func (w *Writer) append(ctx context.Context, at time.Time, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := at.Format("2006-01-02")
	if w.f == nil || day != w.day {
		if w.f != nil {
			w.f.Close()
		}
		path := filepath.Join(w.dir, "notes-"+day+".md")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("markdown: open %s: %w", path, err)
		}
		if st, err := f.Stat(); err == nil && st.Size() == 0 {
			fmt.Fprintf(f, "# Transcript log %s\n\n", day)
		}
		w.f, w.day = f, day
	}

	if _, err := w.f.WriteString(line); err != nil {
		return fmt.Errorf("markdown: write: %w", err)
	}
	return nil
}
