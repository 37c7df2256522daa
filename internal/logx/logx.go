package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Options controls logger construction.
type Options struct {
	// Level is a charmbracelet/log level name; empty means info.
	Level string
	// Dir, when set, receives a timestamped log file in addition to
	// Stderr.
	Dir    string
	Stderr io.Writer
	// RunID correlates every line of one invocation; generated when empty.
	RunID string
}

// New creates a logger writing to stderr and, when Options.Dir is set, to a
// timestamped file inside that directory. The returned closer should be
// closed when logging is no longer needed.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure logs directory: %w", err)
		}
		filename := time.Now().Format("20060102-150405") + ".log"
		file, err := os.OpenFile(filepath.Join(opts.Dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000",
		Prefix:          "packager",
	})
	return logger.With("run", runID), closer, nil
}

// NewRunID returns a fresh invocation identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OrDiscard substitutes Discard for a nil logger.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
