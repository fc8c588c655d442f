package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog logger configured for console output on stdout at info level.
func NewLogger() zerolog.Logger {
	return New(os.Stdout, zerolog.InfoLevel)
}

var callerOnce sync.Once

// shortCaller renders file:line with the directory stripped, padded to 28
// columns so messages line up.
func shortCaller(_ uintptr, file string, line int) string {
	return fmt.Sprintf("%-28s", filepath.Base(file)+":"+strconv.Itoa(line))
}

// New returns a console logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	callerOnce.Do(func() { zerolog.CallerMarshalFunc = shortCaller })
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
}

// ParseLevel maps a flag value like "debug" or "WARN" to a zerolog level.
// An empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}
