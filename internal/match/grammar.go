// Package match recognises activation phrases in ordered transcripts.
//
// A [Grammar] maps lead phrases ("computer show status") to command
// identifiers. The [Matcher] scores each transcript against the grammar with
// a normalised edit-distance ratio, so one or two transcription slips still
// activate, and applies a per-command cooldown so overlapping near-duplicate
// transcriptions fire an action once.
package match

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Command identifies an action a matched activation phrase triggers.
// New commands require an explicit dispatcher registry entry.
type Command string

// The built-in command set.
const (
	CmdStartHighQualityCapture Command = "start_high_quality_capture"
	CmdMarkPermanentRetention  Command = "mark_permanent_retention"
	CmdAnalyzeRecentContent    Command = "analyze_recent_content"
	CmdReportStatus            Command = "report_status"
	CmdPauseCapture            Command = "pause_capture"
)

// phrase is a normalised activation phrase bound to its command.
type phrase struct {
	text    string
	words   int
	command Command
}

// Grammar is the immutable, validated activation-phrase set. Build one with
// [NewGrammar]; replace it atomically via [Matcher.Reload].
type Grammar struct {
	keyword string
	phrases []phrase
}

// NewGrammar validates and normalises a phrase set. keyword is the
// activation lead word every phrase must start with; phrases maps spoken
// phrase to command. threshold is the match ratio the grammar must stay
// unambiguous under: two distinct phrases of equal length similar enough to
// tie at that threshold are rejected here, at config time, rather than
// resolved by an arbitrary runtime precedence.
func NewGrammar(keyword string, phrases map[string]Command, threshold float64) (*Grammar, error) {
	keyword = Normalize(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("match: activation keyword is empty")
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("match: grammar has no phrases")
	}

	g := &Grammar{keyword: keyword}
	seen := make(map[string]string, len(phrases))
	for raw, cmd := range phrases {
		norm := Normalize(raw)
		if norm == "" {
			return nil, fmt.Errorf("match: phrase %q normalises to nothing", raw)
		}
		if !strings.HasPrefix(norm, keyword+" ") && norm != keyword {
			return nil, fmt.Errorf("match: phrase %q does not start with keyword %q", raw, keyword)
		}
		if prev, dup := seen[norm]; dup {
			return nil, fmt.Errorf("match: phrases %q and %q normalise identically", prev, raw)
		}
		if cmd == "" {
			return nil, fmt.Errorf("match: phrase %q has no command", raw)
		}
		seen[norm] = raw
		g.phrases = append(g.phrases, phrase{
			text:    norm,
			words:   len(strings.Fields(norm)),
			command: cmd,
		})
	}

	// Two equal-length phrases that can both clear the threshold against
	// the same utterance would tie after the longest-phrase rule. Reject
	// such grammars up front.
	for i := 0; i < len(g.phrases); i++ {
		for j := i + 1; j < len(g.phrases); j++ {
			a, b := g.phrases[i], g.phrases[j]
			if len(a.text) != len(b.text) {
				continue
			}
			if Ratio(a.text, b.text) >= threshold {
				return nil, fmt.Errorf("match: phrases %q and %q are ambiguous at threshold %.2f",
					a.text, b.text, threshold)
			}
		}
	}
	return g, nil
}

// DefaultPhrases is the built-in activation-phrase set.
func DefaultPhrases() map[string]Command {
	return map[string]Command{
		"computer start recording": CmdStartHighQualityCapture,
		"computer mark important":  CmdMarkPermanentRetention,
		"computer analyze this":    CmdAnalyzeRecentContent,
		"computer show status":     CmdReportStatus,
		"computer pause recording": CmdPauseCapture,
	}
}

// Keyword returns the normalised activation lead word.
func (g *Grammar) Keyword() string { return g.keyword }

// Normalize case-folds text, strips punctuation, and collapses whitespace
// runs, so matching is insensitive to transcription formatting.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteRune(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Ratio is the normalised edit-distance similarity of two strings in
// [0, 1]: 1 means identical, 0 means nothing in common.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := matchr.Levenshtein(a, b)
	return 1 - float64(d)/float64(longest)
}
