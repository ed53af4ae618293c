package config

import "reflect"

// Diff summarises which sections changed between two configs. Only the
// matcher section applies live; every other change requires a restart and
// is reported so operators know the running process diverges from disk.
type Diff struct {
	Matcher bool
	Static  []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.Matcher && len(d.Static) == 0
}

// Compare returns the section-level differences between old and new.
func Compare(old, new *Config) Diff {
	var d Diff
	if !reflect.DeepEqual(old.Matcher, new.Matcher) {
		d.Matcher = true
	}
	static := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"audio", old.Audio, new.Audio},
		{"engine", old.Engine, new.Engine},
		{"vad", old.VAD, new.VAD},
		{"segment", old.Segment, new.Segment},
		{"scheduler", old.Scheduler, new.Scheduler},
		{"ordering", old.Ordering, new.Ordering},
		{"dispatch", old.Dispatch, new.Dispatch},
		{"sink", old.Sink, new.Sink},
	}
	for _, s := range static {
		if !reflect.DeepEqual(s.old, s.new) {
			d.Static = append(d.Static, s.name)
		}
	}
	return d
}
