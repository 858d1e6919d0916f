package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options select the level and the optional rotated log file directory.
type Options struct {
	Level string
	Dir   string
}

// NewLogger builds the process logger on first use and returns it afterwards.
// An unknown level falls back to info.
func NewLogger(opts Options) *logrus.Logger {
	once.Do(func() {
		l, err := Build(opts, os.Stderr)
		if err != nil {
			l, _ = Build(Options{Level: "info", Dir: opts.Dir}, os.Stderr)
			l.WithError(err).Warn("invalid log level, using info")
		}
		logger = l
	})
	return logger
}

// Build returns a fresh logger writing to out and, when opts.Dir is set, to a
// rotated file in that directory.
func Build(opts Options, out io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetFormatter(&formatter.Formatter{
		NoColors:        !isTerminal(out),
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})
	l.SetReportCaller(true)

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)

	writers := []io.Writer{out}
	if opts.Dir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "facenote.log"),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// get goes through once so that helpers called before or during setup
// never read logger unsynchronized.
func get() *logrus.Logger { return NewLogger(Options{}) }

func Debug(fields Fields, msg string) {
	get().WithFields(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	get().WithFields(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	get().WithFields(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	get().WithFields(fields).Error(msg)
}
