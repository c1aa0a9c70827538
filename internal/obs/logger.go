package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogConfig struct {
	Level  string
	Pretty bool
	App    string
	Out    io.Writer
}

// NewLogger builds a text logger when Pretty is set and a JSON one
// otherwise. Unknown levels fall back to info.
func NewLogger(c LogConfig) *slog.Logger {
	out := c.Out
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}

	var h slog.Handler
	if c.Pretty {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	l := slog.New(h)
	if c.App != "" {
		l = l.With(slog.String("service", c.App))
	}
	return l
}

func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
