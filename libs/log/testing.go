package log

import (
	"testing"
)

// NewTestingLogger converts a testing.T into a logging interface to make test
// failures and verbose provide better feedback associated with test failures.
// This logging instance is safe for concurrent use from multiple goroutines.
//
// By default it collects only ERROR messages, or DEBUG messages if the
// verbose flag is set.
func NewTestingLogger(t *testing.T) Logger {
	level := "error"
	if testing.Verbose() {
		level = "debug"
	}

	return NewTestingLoggerWithLevel(t, level)
}

// NewTestingLoggerWithLevel creates a testing logger instance at a specific
// level that wraps the behavior of testing.T.Log().
func NewTestingLoggerWithLevel(t *testing.T, level string) Logger {
	logger, err := NewLogger(testingWriter{t}, LogFormatPlain, level)
	if err != nil {
		t.Fatalf("setting up test logger: %v", err)
	}

	return logger
}

type testingWriter struct {
	t *testing.T
}

func (tw testingWriter) Write(in []byte) (int, error) {
	tw.t.Log(string(in))
	return len(in), nil
}
