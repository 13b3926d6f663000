package shared

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "whisparr-sync.log"

// LogSink owns the writers behind the application logger: the console stream
// and an optional size-rotated log file.
type LogSink struct {
	cfg     LoggingConfig
	writer  io.Writer
	closers []io.Closer
}

// OpenLogSink builds the writers described by cfg. With both outputs disabled
// the sink discards everything.
func OpenLogSink(cfg LoggingConfig, console io.Writer) (*LogSink, error) {
	if console == nil {
		console = os.Stderr
	}

	sink := &LogSink{cfg: cfg}
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, console)
	}

	if cfg.File {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := sink.rotatingFile(logFileName)
		writers = append(writers, rotating)
		sink.closers = append(sink.closers, rotating)
	}

	switch len(writers) {
	case 0:
		sink.writer = io.Discard
	case 1:
		sink.writer = writers[0]
	default:
		sink.writer = io.MultiWriter(writers...)
	}
	return sink, nil
}

func (s *LogSink) rotatingFile(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(s.cfg.Dir, name),
		MaxSize:    s.cfg.MaxSizeMB,
		MaxBackups: s.cfg.MaxBackups,
		MaxAge:     s.cfg.MaxAgeDays,
	}
}

// Writer returns the combined output stream.
func (s *LogSink) Writer() io.Writer {
	return s.writer
}

// Logger returns a [log.Logger] writing to the sink at the configured level.
func (s *LogSink) Logger() *log.Logger {
	l := NewLogger(s.writer)
	SetLogLevel(l, ParseLogLevel(s.cfg.Level))
	return l
}

// ForScene returns a logger tagged with the scene id. When per-scene files are
// enabled its output is also copied to scene_<id>.log in the log directory; the
// returned closer releases that file. Path elements in the id never leave the
// log directory.
func (s *LogSink) ForScene(base *log.Logger, sceneID string) (*log.Logger, io.Closer) {
	if !s.cfg.File || !s.cfg.PerScene {
		return WithLogger(base, "scene", sceneID), noopCloser{}
	}

	f := s.rotatingFile(sceneLogName(sceneID))
	l := NewLogger(io.MultiWriter(s.writer, f))
	SetLogLevel(l, base.GetLevel())
	return WithLogger(l, "scene", sceneID), f
}

var sceneIDReplacer = strings.NewReplacer("/", "_", `\`, "_", "..", "_")

func sceneLogName(sceneID string) string {
	return filepath.Base(fmt.Sprintf("scene_%s.log", sceneIDReplacer.Replace(sceneID)))
}

// Close flushes and closes any log files.
func (s *LogSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
