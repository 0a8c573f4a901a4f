// Package logging configures the process-wide logrus logger.
//
// Output goes to stderr with the nested formatter and caller information.
// When Options.File is set, entries are also written to a size-rotated log
// file. Package-level helpers take a Fields map first, so call sites read
// like:
//
//	logging.Info(logging.Fields{"patient": id, "level": lvl}, "[experiment] level accepted")
//
// The helpers are usable before Setup is called; they then log at info level
// to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvLevel names the environment variable holding the log level.
const EnvLevel = "NODULE_WS_LOG_LEVEL"

// Fields is a set of structured log fields.
type Fields = logrus.Fields

// Options controls logger setup.
type Options struct {
	// Level is a logrus level name ("debug", "info", "warn", ...). Empty
	// falls back to the NODULE_WS_LOG_LEVEL environment variable, then info.
	Level string

	// File, when non-empty, is a log file rotated by size.
	File string

	// NoColors disables ANSI colours, for redirected output.
	NoColors bool

	// Output overrides stderr. Used by tests.
	Output io.Writer
}

var (
	mu     sync.Mutex
	logger *logrus.Logger
)

// Setup (re)configures the process-wide logger.
func Setup(opts Options) (*logrus.Logger, error) {
	levelName := opts.Level
	if levelName == "" {
		levelName = os.Getenv(EnvLevel)
	}
	level := logrus.InfoLevel
	if levelName != "" {
		parsed, err := logrus.ParseLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
		}
		level = parsed
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	writers := []io.Writer{out}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     14,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(true)

	mu.Lock()
	logger = l
	mu.Unlock()
	return l, nil
}

// Logger returns the configured logger, creating a default one on first use.
func Logger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
	}
	return logger
}

func entry(fields Fields) *logrus.Entry {
	if fields == nil {
		fields = Fields{}
	}
	return Logger().WithFields(fields)
}

// Debug logs msg at debug level.
func Debug(fields Fields, msg string) { entry(fields).Debug(msg) }

// Info logs msg at info level.
func Info(fields Fields, msg string) { entry(fields).Info(msg) }

// Warn logs msg at warning level.
func Warn(fields Fields, msg string) { entry(fields).Warn(msg) }

// Error logs msg at error level.
func Error(fields Fields, msg string) { entry(fields).Error(msg) }

// IsDebug reports whether debug entries are emitted.
func IsDebug() bool {
	return Logger().IsLevelEnabled(logrus.DebugLevel)
}
