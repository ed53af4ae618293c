package match

import (
	"sync"
	"testing"
	"time"
)

func testMatcher(t *testing.T) *Matcher {
	t.Helper()
	g, err := NewGrammar("computer", DefaultPhrases(), 0.8)
	if err != nil {
		t.Fatalf("NewGrammar: %v", err)
	}
	m, err := New(Config{Threshold: 0.8, Cooldown: 2 * time.Second}, g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"Computer, Show Status!", "computer show status"},
		{"  computer   pause\trecording ", "computer pause recording"},
		{"...", ""},
		{"Don't panic", "don t panic"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatcher_ExactPhrase(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	got := m.Match("Computer, show status.", 0)
	if got.Kind != KindCommand || got.Command != CmdReportStatus {
		t.Fatalf("got %+v, want report_status command", got)
	}
	if got.Ratio != 1 || got.Distance != 0 {
		t.Errorf("ratio/distance = %v/%d, want 1/0", got.Ratio, got.Distance)
	}
}

func TestMatcher_OneEditStillMatches(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	got := m.Match("computer show statu", 0)
	if got.Kind != KindCommand || got.Command != CmdReportStatus {
		t.Fatalf("got %+v, want report_status despite one edit", got)
	}
	if got.Distance != 1 {
		t.Errorf("distance = %d, want 1", got.Distance)
	}
}

func TestMatcher_PlainSpeechPassesThrough(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	for _, text := range []string{
		"the weather is nice",
		"let me compute this later",
		"",
	} {
		if got := m.Match(text, 0); got.Kind != KindTranscript {
			t.Errorf("Match(%q) = %v, want plain transcript", text, got.Kind)
		}
	}
}

func TestMatcher_TrailingSpeechAfterPhrase(t *testing.T) {
	t.Parallel()

	// The phrase leads the utterance; trailing words must not dilute the
	// score.
	m := testMatcher(t)
	got := m.Match("computer start recording and make it quick", 0)
	if got.Kind != KindCommand || got.Command != CmdStartHighQualityCapture {
		t.Fatalf("got %+v, want start_high_quality_capture", got)
	}
}

func TestMatcher_KeywordWithoutPhraseIsAmbiguous(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	got := m.Match("computer do a barrel roll", 0)
	if got.Kind != KindAmbiguous {
		t.Fatalf("got %v, want ambiguous activation", got.Kind)
	}
}

func TestMatcher_CooldownSuppressesRepeat(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)

	if got := m.Match("computer pause recording", 10*time.Second); got.Kind != KindCommand {
		t.Fatalf("first activation = %v, want command", got.Kind)
	}
	got := m.Match("computer pause recording", 11*time.Second)
	if got.Kind != KindSuppressed || got.Command != CmdPauseCapture {
		t.Fatalf("repeat within cooldown = %+v, want suppressed pause_capture", got)
	}
	if got := m.Match("computer pause recording", 13*time.Second); got.Kind != KindCommand {
		t.Fatalf("after cooldown = %v, want command again", got.Kind)
	}
}

func TestMatcher_CooldownIsPerCommand(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	if got := m.Match("computer pause recording", 0); got.Kind != KindCommand {
		t.Fatalf("first = %v, want command", got.Kind)
	}
	if got := m.Match("computer show status", time.Second); got.Kind != KindCommand {
		t.Errorf("different command within window = %v, want command", got.Kind)
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	t.Parallel()

	texts := []string{
		"computer show status",
		"computer show status",
		"something else entirely",
		"computer mark important",
	}
	run := func() []Match {
		m := testMatcher(t)
		out := make([]Match, len(texts))
		for i, s := range texts {
			out[i] = m.Match(s, time.Duration(i)*10*time.Second)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("decision %d differs between identical runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestNewGrammar_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		keyword string
		phrases map[string]Command
	}{
		{"empty keyword", "", map[string]Command{"computer show status": CmdReportStatus}},
		{"no phrases", "computer", nil},
		{"missing keyword prefix", "computer", map[string]Command{"show status": CmdReportStatus}},
		{"duplicate normalised", "computer", map[string]Command{
			"computer show status":  CmdReportStatus,
			"Computer show status!": CmdPauseCapture,
		}},
		{"ambiguous pair", "computer", map[string]Command{
			"computer pause recordings": CmdPauseCapture,
			"computer cause recordings": CmdStartHighQualityCapture,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewGrammar(tc.keyword, tc.phrases, 0.8); err == nil {
				t.Errorf("NewGrammar accepted %v", tc.phrases)
			}
		})
	}
}

func TestMatcher_Reload(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	g, err := NewGrammar("computer", map[string]Command{
		"computer take a note": CmdAnalyzeRecentContent,
	}, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(g); err != nil {
		t.Fatal(err)
	}

	if got := m.Match("computer take a note", 0); got.Kind != KindCommand || got.Command != CmdAnalyzeRecentContent {
		t.Fatalf("new grammar phrase = %+v, want analyze_recent_content", got)
	}
	if got := m.Match("computer show status", time.Minute); got.Kind != KindAmbiguous {
		t.Errorf("old phrase after reload = %v, want ambiguous", got.Kind)
	}
}

func TestMatcher_ConcurrentMatchAndReload(t *testing.T) {
	t.Parallel()

	m := testMatcher(t)
	g, err := NewGrammar("computer", DefaultPhrases(), 0.8)
	if err != nil {
		t.Fatal(err)
	}

	// Match mutates cooldown state, so scoring must hold the same lock as
	// reloads. Run both hot under the race detector.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				at := time.Duration(w*1000+i) * time.Second
				if got := m.Match("computer show status", at); got.Kind == KindTranscript {
					t.Errorf("phrase scored as plain transcript at %v", at)
					return
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := m.Reload(g); err != nil {
				t.Errorf("Reload: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}
