// Package diagnostics describes operator-facing events about the panel network.
package diagnostics

import (
	"time"

	"github.com/rs/zerolog"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

// Level maps a severity onto the log level it is recorded at.
func (s Severity) Level() zerolog.Level {
	switch s {
	case Warn:
		return zerolog.WarnLevel
	case Err:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Log writes d to l at its severity's level.
func (d Diagnostic) Log(l zerolog.Logger) {
	ev := l.WithLevel(d.Severity.Level()).Str("code", d.Code)
	if d.Detail != "" {
		ev = ev.Str("detail", d.Detail)
	}
	if len(d.Evidence) > 0 {
		ev = ev.Fields(d.Evidence)
	}
	ev.Msg(d.Summary)
}
