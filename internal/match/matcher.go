package match

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// Kind classifies a matcher outcome.
type Kind int

const (
	// KindTranscript means the text is plain speech with no activation
	// intent. It still flows to the knowledge sink.
	KindTranscript Kind = iota

	// KindCommand means an activation phrase matched and the command should
	// be dispatched.
	KindCommand

	// KindAmbiguous means the text leads with the activation keyword but no
	// phrase cleared the threshold. Logged distinctly so operators can tell
	// "didn't hear you" from "heard but misclassified".
	KindAmbiguous

	// KindSuppressed means a phrase matched but the command fired within its
	// cooldown window, so no action is dispatched.
	KindSuppressed
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTranscript:
		return "transcript"
	case KindCommand:
		return "command"
	case KindAmbiguous:
		return "ambiguous"
	case KindSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Match is the outcome of scoring one transcript. Command, Phrase, Ratio
// and Distance are set for [KindCommand] and [KindSuppressed].
type Match struct {
	Kind       Kind
	Command    Command
	Phrase     string
	Ratio      float64
	Distance   int
	Normalized string
}

// Config holds the matcher's tuning knobs.
type Config struct {
	// Threshold is the minimum edit-distance similarity ratio for an
	// activation match, tolerant of one or two word-level slips.
	// Default: 0.8.
	Threshold float64

	// Cooldown suppresses repeated activations of the same command within
	// the window. Measured in stream time, not wall time, so replaying a
	// recorded stream reproduces the same decisions. Default: 2s.
	Cooldown time.Duration
}

// Matcher scores ordered transcripts against the grammar. Match mutates
// cooldown state, so both scoring and reload take the same lock. Safe for
// concurrent use.
type Matcher struct {
	cfg Config

	mu        sync.Mutex
	grammar   *Grammar
	lastFired map[Command]time.Duration
}

// New creates a Matcher over a validated grammar.
func New(cfg Config, g *Grammar) (*Matcher, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.Threshold > 1 {
		return nil, fmt.Errorf("match: threshold %.2f out of range (0, 1]", cfg.Threshold)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if g == nil {
		return nil, fmt.Errorf("match: grammar is nil")
	}
	return &Matcher{
		cfg:       cfg,
		grammar:   g,
		lastFired: make(map[Command]time.Duration),
	}, nil
}

// Reload atomically replaces the grammar. Cooldown state carries over so a
// reload cannot re-arm a command mid-window.
func (m *Matcher) Reload(g *Grammar) error {
	if g == nil {
		return fmt.Errorf("match: grammar is nil")
	}
	m.mu.Lock()
	m.grammar = g
	m.mu.Unlock()
	return nil
}

// Match scores one transcript. at is the transcript's stream-time start,
// used for cooldown accounting.
func (m *Matcher) Match(text string, at time.Duration) Match {
	norm := Normalize(text)
	out := Match{Kind: KindTranscript, Normalized: norm}
	if norm == "" {
		return out
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.grammar
	words := strings.Fields(norm)

	best := -1
	var bestRatio float64
	var bestDist int
	for i, p := range g.phrases {
		ratio, dist := prefixScore(words, p)
		if ratio < m.cfg.Threshold {
			continue
		}
		// Highest ratio wins; equal ratios go to the longer, more specific
		// phrase. Grammar validation rules out full ties.
		if best < 0 || ratio > bestRatio ||
			(ratio == bestRatio && len(p.text) > len(g.phrases[best].text)) {
			best, bestRatio, bestDist = i, ratio, dist
		}
	}

	if best < 0 {
		if words[0] == g.keyword || Ratio(words[0], g.keyword) >= m.cfg.Threshold {
			out.Kind = KindAmbiguous
		}
		return out
	}

	p := g.phrases[best]
	out.Command = p.command
	out.Phrase = p.text
	out.Ratio = bestRatio
	out.Distance = bestDist

	if last, fired := m.lastFired[p.command]; fired && at-last < m.cfg.Cooldown {
		out.Kind = KindSuppressed
		return out
	}
	m.lastFired[p.command] = at
	out.Kind = KindCommand
	return out
}

// prefixScore scores a phrase against the leading words of the transcript.
// Activation phrases are designed to lead the utterance, so the phrase is
// compared against windows of phrase-length ± 1 words and the best ratio is
// taken — a near-prefix with a split or merged word still qualifies.
func prefixScore(words []string, p phrase) (float64, int) {
	bestRatio, bestDist := 0.0, 0
	for _, n := range []int{p.words - 1, p.words, p.words + 1} {
		if n < 1 {
			continue
		}
		if n > len(words) {
			n = len(words)
		}
		candidate := strings.Join(words[:n], " ")
		r := Ratio(candidate, p.text)
		if r > bestRatio {
			bestRatio = r
			bestDist = matchr.Levenshtein(candidate, p.text)
		}
	}
	return bestRatio, bestDist
}
