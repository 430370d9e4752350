// Package logging provides the structured logger every hyperstream
// component logs through, replacing the ad-hoc debug-file-and-callback
// pattern of earlier P2P tools with a single slog.Logger.
package logging

import (
	"crypto/rand"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Default is the package-level logger used by any component constructed
// without an explicit *slog.Logger. Components never write to a file of
// their own; swap Default (or pass a logger explicitly) to redirect
// output.
var Default = New(os.Stderr, slog.LevelInfo)

// New builds a colorized, timestamped slog.Logger writing to w.
func New(w *os.File, level slog.Level) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return slog.New(handler)
}

// OrDefault returns l if non-nil, otherwise Default.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Default
}

// SessionID returns a short hex identifier suitable for correlating log
// lines from a single transfer session.
func SessionID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	const hextable = "0123456789abcdef"
	out := make([]byte, 8)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
