package logger

import (
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelInfo
	LogLevelDebug
)

func ParseLevel(s string) LogLevel {
	switch s {
	case "none":
		return LogLevelNone
	case "info":
		return LogLevelInfo
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelErrOnly
	}
}

var logLevel = LogLevelErrOnly

func Level() LogLevel { return logLevel }

func SetLogLevel(level LogLevel) {
	logLevel = level

	switch level {
	case LogLevelNone:
		infoLogger.SetOutput(io.Discard)
		errorLogger.SetOutput(io.Discard)
		warnLogger.SetOutput(io.Discard)
		debugLogger.SetOutput(io.Discard)
	case LogLevelErrOnly:
		errorLogger.SetOutput(os.Stderr)

		infoLogger.SetOutput(io.Discard)
		warnLogger.SetOutput(io.Discard)
		debugLogger.SetOutput(io.Discard)
	case LogLevelInfo:
		errorLogger.SetOutput(os.Stderr)
		warnLogger.SetOutput(os.Stderr)
		infoLogger.SetOutput(os.Stdout)

		debugLogger.SetOutput(io.Discard)
	case LogLevelDebug:
		errorLogger.SetOutput(os.Stderr)
		warnLogger.SetOutput(os.Stderr)
		infoLogger.SetOutput(os.Stdout)
		debugLogger.SetOutput(os.Stdout)
	}
}

// SetOutput redirects every level to w, used by tests to capture logs.
func SetOutput(w io.Writer) {
	infoLogger.SetOutput(w)
	errorLogger.SetOutput(w)
	warnLogger.SetOutput(w)
	debugLogger.SetOutput(w)
}

func prefix(c *color.Color, tag string) string {
	return c.Sprint(tag) + " "
}

var (
	infoLogger  = log.New(io.Discard, prefix(color.New(color.FgGreen), "INFO:"), log.Lshortfile|log.LstdFlags)
	errorLogger = log.New(os.Stderr, prefix(color.New(color.FgRed, color.Bold), "ERROR:"), log.Lshortfile|log.LstdFlags)
	warnLogger  = log.New(io.Discard, prefix(color.New(color.FgYellow), "WARN:"), log.Lshortfile|log.LstdFlags)
	debugLogger = log.New(io.Discard, prefix(color.New(color.FgCyan), "DEBUG:"), log.Lshortfile|log.LstdFlags)
)

var (
	InfoLog  = infoLogger.Println
	ErrorLog = errorLogger.Println
	WarnLog  = warnLogger.Println
	DebugLog = debugLogger.Println

	Infof  = infoLogger.Printf
	Errorf = errorLogger.Printf
	Warnf  = warnLogger.Printf
	Debugf = debugLogger.Printf
)
