package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
audio:
  source: reader
  path: /tmp/audio.pcm
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 20 {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
	if cfg.VAD.SpeechThreshold != 0.1 || cfg.VAD.HangoverMs != 400 {
		t.Errorf("vad defaults = %+v", cfg.VAD)
	}
	if cfg.Scheduler.MaxConcurrency != 2 || cfg.Scheduler.TranscribeTimeout() != 30*time.Second {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Matcher.Keyword != "computer" || cfg.Matcher.MatchThreshold != 0.8 {
		t.Errorf("matcher defaults = %+v", cfg.Matcher)
	}
	if cfg.Sink.Kind != SinkMarkdown {
		t.Errorf("sink default = %+v", cfg.Sink)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":8088"
  log_level: debug
audio:
  source: websocket
  url: ws://localhost:7000/audio
  sample_rate: 48000
  frame_ms: 10
engine:
  model_path: /models/ggml-base.en.bin
  language: en
  min_confidence: 0.4
vad:
  speech_threshold: 0.15
  silence_threshold: 0.08
  onset_ms: 60
  hangover_ms: 300
segment:
  min_segment_ms: 250
  max_segment_ms: 20000
scheduler:
  max_concurrency: 4
  queue_capacity: 16
  transcribe_timeout_ms: 15000
ordering:
  max_reorder_ms: 3000
matcher:
  keyword: jarvis
  match_threshold: 0.85
  cooldown_ms: 1500
  phrases:
    jarvis show status: report_status
    jarvis pause recording: pause_capture
dispatch:
  queue_depth: 32
sink:
  kind: postgres
  postgres_dsn: postgres://earshot@localhost/earshot
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8088" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.Source != SourceWebsocket || cfg.Audio.SampleRate != 48000 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Engine.MinConfidence != 0.4 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.VAD.Onset() != 60*time.Millisecond {
		t.Errorf("vad onset = %v", cfg.VAD.Onset())
	}
	if cfg.Ordering.MaxReorder() != 3*time.Second {
		t.Errorf("ordering = %+v", cfg.Ordering)
	}

	g, err := cfg.Grammar()
	if err != nil {
		t.Fatalf("Grammar: %v", err)
	}
	if g.Keyword() != "jarvis" {
		t.Errorf("grammar keyword = %q", g.Keyword())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
audio:
  source: reader
  path: /tmp/audio.pcm
  bitrate: 128
`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "server.log_level"},
		{"missing audio path", func(c *Config) { c.Audio.Path = "" }, "audio.path"},
		{"missing ws url", func(c *Config) { c.Audio.Source = SourceWebsocket; c.Audio.URL = "" }, "audio.url"},
		{"bad source", func(c *Config) { c.Audio.Source = "pulseaudio" }, "audio.source"},
		{"silence above speech", func(c *Config) { c.VAD.SilenceThreshold = 0.5 }, "vad.silence_threshold"},
		{"max below min segment", func(c *Config) { c.Segment.MaxSegmentMs = 100 }, "segment.max_segment_ms"},
		{"zero workers", func(c *Config) { c.Scheduler.MaxConcurrency = 0 }, "scheduler.max_concurrency"},
		{"zero reorder", func(c *Config) { c.Ordering.MaxReorderMs = 0 }, "ordering.max_reorder_ms"},
		{"threshold above one", func(c *Config) { c.Matcher.MatchThreshold = 1.2 }, "matcher.match_threshold"},
		{"min confidence above one", func(c *Config) { c.Engine.MinConfidence = 1.5 }, "engine.min_confidence"},
		{"phrase without keyword", func(c *Config) {
			c.Matcher.Phrases = map[string]string{"show status": "report_status"}
		}, "matcher.phrases"},
		{"ambiguous phrases", func(c *Config) {
			c.Matcher.Phrases = map[string]string{
				"computer pause recordings": "pause_capture",
				"computer cause recordings": "start_high_quality_capture",
			}
		}, "matcher.phrases"},
		{"postgres without dsn", func(c *Config) { c.Sink.Kind = SinkPostgres }, "sink.postgres_dsn"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.Audio.Path = "/tmp/audio.pcm"
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
