package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxhollow/earshot/internal/match"
)

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Invalid configuration
// is fatal at startup and rejected on hot reload.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: reader, opus, websocket", cfg.Audio.Source))
	}
	switch cfg.Audio.Source {
	case SourceReader, SourceOpus:
		if cfg.Audio.Path == "" {
			errs = append(errs, fmt.Errorf("audio.path is required for source %q", cfg.Audio.Source))
		}
	case SourceWebsocket:
		if cfg.Audio.URL == "" {
			errs = append(errs, errors.New("audio.url is required for source \"websocket\""))
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}

	if cfg.Engine.MinConfidence < 0 || cfg.Engine.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("engine.min_confidence %.2f out of range [0, 1]", cfg.Engine.MinConfidence))
	}

	if cfg.VAD.SpeechThreshold <= 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.3f out of range (0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f must be in [0, speech_threshold]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.OnsetMs < 0 {
		errs = append(errs, fmt.Errorf("vad.onset_ms %d must not be negative", cfg.VAD.OnsetMs))
	}
	if cfg.VAD.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_ms %d must not be negative", cfg.VAD.HangoverMs))
	}

	if cfg.Segment.MinSegmentMs < 0 {
		errs = append(errs, fmt.Errorf("segment.min_segment_ms %d must not be negative", cfg.Segment.MinSegmentMs))
	}
	if cfg.Segment.MaxSegmentMs <= cfg.Segment.MinSegmentMs {
		errs = append(errs, fmt.Errorf("segment.max_segment_ms %d must exceed min_segment_ms %d",
			cfg.Segment.MaxSegmentMs, cfg.Segment.MinSegmentMs))
	}

	if cfg.Scheduler.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrency %d must be positive", cfg.Scheduler.MaxConcurrency))
	}
	if cfg.Scheduler.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.queue_capacity %d must be positive", cfg.Scheduler.QueueCapacity))
	}
	if cfg.Scheduler.TranscribeTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.transcribe_timeout_ms %d must be positive", cfg.Scheduler.TranscribeTimeoutMs))
	}

	if cfg.Ordering.MaxReorderMs <= 0 {
		errs = append(errs, fmt.Errorf("ordering.max_reorder_ms %d must be positive", cfg.Ordering.MaxReorderMs))
	}

	if cfg.Matcher.MatchThreshold <= 0 || cfg.Matcher.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.match_threshold %.2f out of range (0, 1]", cfg.Matcher.MatchThreshold))
	}
	if cfg.Matcher.CooldownMs < 0 {
		errs = append(errs, fmt.Errorf("matcher.cooldown_ms %d must not be negative", cfg.Matcher.CooldownMs))
	}
	// Building the grammar runs the full phrase validation, including the
	// ambiguity check, so a bad grammar is rejected here rather than at
	// match time.
	if _, err := cfg.Grammar(); err != nil {
		errs = append(errs, fmt.Errorf("matcher.phrases: %w", err))
	}

	if !cfg.Sink.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: markdown, postgres", cfg.Sink.Kind))
	}
	if cfg.Sink.Kind == SinkMarkdown && cfg.Sink.NotesDir == "" {
		errs = append(errs, errors.New("sink.notes_dir is required for the markdown sink"))
	}
	if cfg.Sink.Kind == SinkPostgres && cfg.Sink.PostgresDSN == "" {
		errs = append(errs, errors.New("sink.postgres_dsn is required for the postgres sink"))
	}

	return errors.Join(errs...)
}

// Grammar builds the validated activation grammar from the matcher section,
// falling back to the built-in phrase set when none is configured.
func (c *Config) Grammar() (*match.Grammar, error) {
	phrases := match.DefaultPhrases()
	if len(c.Matcher.Phrases) > 0 {
		phrases = make(map[string]match.Command, len(c.Matcher.Phrases))
		for p, cmd := range c.Matcher.Phrases {
			phrases[p] = match.Command(cmd)
		}
	}
	return match.NewGrammar(c.Matcher.Keyword, phrases, c.Matcher.MatchThreshold)
}
