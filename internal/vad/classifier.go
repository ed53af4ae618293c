// Package vad implements frame-level voice activity classification with
// hysteresis.
//
// The classifier scores each frame by RMS energy smoothed over a short
// rolling window and runs a four-phase state machine:
//
//	SILENCE → CANDIDATE → SPEECH → TRAILING → SILENCE
//
// CANDIDATE debounces onset: the energy must stay above the speech threshold
// for at least the configured onset duration before speech is confirmed,
// otherwise the classifier reverts to SILENCE. TRAILING counts down the
// hangover after energy drops below the silence threshold; if speech
// re-crosses the threshold before the hangover elapses the same utterance
// continues. This keeps single-frame flicker from fragmenting an utterance
// and keeps trailing word-endings from being truncated.
//
// The classifier is a pure function of its frame sequence and configuration:
// identical input produces identical decisions. It is not safe for
// concurrent use — the pipeline's single ingestion goroutine owns it.
package vad

import (
	"fmt"
	"math"
	"time"

	"github.com/voxhollow/earshot/pkg/audio"
)

// Phase is the classifier's state for a frame.
type Phase int

const (
	// PhaseSilence indicates no speech activity.
	PhaseSilence Phase = iota

	// PhaseCandidate indicates energy crossed the speech threshold but the
	// onset has not yet been sustained long enough to confirm speech.
	PhaseCandidate

	// PhaseSpeech indicates confirmed, ongoing speech.
	PhaseSpeech

	// PhaseTrailing indicates the hangover window after energy dropped below
	// the silence threshold. Trailing frames still belong to the utterance.
	PhaseTrailing
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSilence:
		return "silence"
	case PhaseCandidate:
		return "candidate"
	case PhaseSpeech:
		return "speech"
	case PhaseTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

// Event marks a phase-machine transition the segment assembler must act on.
type Event int

const (
	// EventNone means no transition of interest occurred.
	EventNone Event = iota

	// EventSpeechStart means onset was sustained and speech is confirmed.
	// The frames buffered during CANDIDATE belong to the utterance.
	EventSpeechStart

	// EventSpeechEnd means the hangover elapsed with this frame. The frame is
	// the final trailing frame of the utterance.
	EventSpeechEnd

	// EventOnsetAborted means a CANDIDATE run fell back below the threshold
	// before the onset was sustained; buffered candidate frames are noise.
	EventOnsetAborted
)

// Decision is the classification result for a single frame.
type Decision struct {
	// Phase is the frame's phase after processing.
	Phase Phase

	// Event is the transition triggered by this frame, if any.
	Event Event

	// Energy is the smoothed RMS score in [0, 1] used for the decision.
	Energy float64
}

// Config holds the classifier thresholds. Energies are normalised RMS values
// in [0, 1] (1.0 = full-scale 16-bit signal).
type Config struct {
	// SpeechThreshold is the smoothed energy above which a frame counts as
	// speech. Must be > SilenceThreshold.
	SpeechThreshold float64

	// SilenceThreshold is the smoothed energy below which an active
	// utterance is considered ended (hysteresis lower bound).
	SilenceThreshold float64

	// Onset is the duration energy must stay above SpeechThreshold before
	// speech is confirmed. Zero confirms on the first frame.
	Onset time.Duration

	// Hangover is the trailing-silence duration retained after energy drops
	// before the utterance is closed.
	Hangover time.Duration

	// WindowFrames is the rolling-mean window length in frames. Values < 1
	// default to 3.
	WindowFrames int
}

// Classifier is the per-frame speech/silence decision engine.
type Classifier struct {
	cfg Config

	phase       Phase
	window      []float64
	windowPos   int
	windowLen   int
	candidateFor time.Duration
	trailingFor  time.Duration
}

// New creates a Classifier. Returns an error when the thresholds are not a
// valid hysteresis pair.
func New(cfg Config) (*Classifier, error) {
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("vad: speech threshold %.3f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("vad: silence threshold %.3f must be in [0, speech threshold %.3f]",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.WindowFrames < 1 {
		cfg.WindowFrames = 3
	}
	return &Classifier{
		cfg:    cfg,
		window: make([]float64, cfg.WindowFrames),
	}, nil
}

// Classify scores one frame and advances the phase machine.
func (c *Classifier) Classify(f audio.Frame) Decision {
	score := c.smooth(rms(f.PCM))

	switch c.phase {
	case PhaseSilence:
		if score >= c.cfg.SpeechThreshold {
			if c.cfg.Onset <= f.Duration {
				c.phase = PhaseSpeech
				return Decision{Phase: PhaseSpeech, Event: EventSpeechStart, Energy: score}
			}
			c.phase = PhaseCandidate
			c.candidateFor = f.Duration
			return Decision{Phase: PhaseCandidate, Energy: score}
		}
		return Decision{Phase: PhaseSilence, Energy: score}

	case PhaseCandidate:
		if score < c.cfg.SpeechThreshold {
			c.phase = PhaseSilence
			c.candidateFor = 0
			return Decision{Phase: PhaseSilence, Event: EventOnsetAborted, Energy: score}
		}
		c.candidateFor += f.Duration
		if c.candidateFor >= c.cfg.Onset {
			c.phase = PhaseSpeech
			c.candidateFor = 0
			return Decision{Phase: PhaseSpeech, Event: EventSpeechStart, Energy: score}
		}
		return Decision{Phase: PhaseCandidate, Energy: score}

	case PhaseSpeech:
		if score < c.cfg.SilenceThreshold {
			if c.cfg.Hangover <= f.Duration {
				c.phase = PhaseSilence
				return Decision{Phase: PhaseTrailing, Event: EventSpeechEnd, Energy: score}
			}
			c.phase = PhaseTrailing
			c.trailingFor = f.Duration
			return Decision{Phase: PhaseTrailing, Energy: score}
		}
		return Decision{Phase: PhaseSpeech, Energy: score}

	case PhaseTrailing:
		if score >= c.cfg.SpeechThreshold {
			c.phase = PhaseSpeech
			c.trailingFor = 0
			return Decision{Phase: PhaseSpeech, Energy: score}
		}
		c.trailingFor += f.Duration
		if c.trailingFor >= c.cfg.Hangover {
			c.phase = PhaseSilence
			c.trailingFor = 0
			// The frame completing the hangover is still part of the
			// retained trailing silence.
			return Decision{Phase: PhaseTrailing, Event: EventSpeechEnd, Energy: score}
		}
		return Decision{Phase: PhaseTrailing, Energy: score}
	}

	return Decision{Phase: c.phase, Energy: score}
}

// Reset clears all accumulated state. Use when the audio stream restarts so
// stale window contents do not bleed into the new stream.
func (c *Classifier) Reset() {
	c.phase = PhaseSilence
	c.windowPos = 0
	c.windowLen = 0
	c.candidateFor = 0
	c.trailingFor = 0
	for i := range c.window {
		c.window[i] = 0
	}
}

// smooth pushes one frame energy into the rolling window and returns the
// current window mean.
func (c *Classifier) smooth(e float64) float64 {
	c.window[c.windowPos] = e
	c.windowPos = (c.windowPos + 1) % len(c.window)
	if c.windowLen < len(c.window) {
		c.windowLen++
	}
	var sum float64
	for i := 0; i < c.windowLen; i++ {
		sum += c.window[i]
	}
	return sum / float64(c.windowLen)
}

// rms computes the normalised root-mean-square energy of 16-bit
// little-endian PCM in [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
