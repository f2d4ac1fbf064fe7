// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a minimal logging interface so components never depend on a
// concrete logging backend
type Logger interface {
	Debug(msg string, keyValuePairs ...any)
	Info(msg string, keyValuePairs ...any)
	Warn(msg string, keyValuePairs ...any)
	Error(msg string, keyValuePairs ...any)
	With(keyValuePairs ...any) Logger
}

type logrusAdapter struct {
	entry *logrus.Entry
}

// New creates a Logger writing JSON-formatted lines to w at the given level.
// Unknown level strings fall back to info.
func New(w io.Writer, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// NewDefault creates a Logger with sensible defaults for the assistant server.
func NewDefault() Logger {
	return New(os.Stderr, "info")
}

// NewNop creates a Logger that discards everything. Useful in tests.
func NewNop() Logger {
	return New(io.Discard, "panic")
}

func (a *logrusAdapter) Debug(msg string, keyValuePairs ...any) {
	a.entry.WithFields(keyValuePairsToFields(keyValuePairs)).Debug(msg)
}

func (a *logrusAdapter) Info(msg string, keyValuePairs ...any) {
	a.entry.WithFields(keyValuePairsToFields(keyValuePairs)).Info(msg)
}

func (a *logrusAdapter) Warn(msg string, keyValuePairs ...any) {
	a.entry.WithFields(keyValuePairsToFields(keyValuePairs)).Warn(msg)
}

func (a *logrusAdapter) Error(msg string, keyValuePairs ...any) {
	a.entry.WithFields(keyValuePairsToFields(keyValuePairs)).Error(msg)
}

func (a *logrusAdapter) With(keyValuePairs ...any) Logger {
	return &logrusAdapter{entry: a.entry.WithFields(keyValuePairsToFields(keyValuePairs))}
}

// keyValuePairsToFields converts key-value pairs to logrus fields, skipping
// keys that are not strings
func keyValuePairsToFields(keyValuePairs []any) logrus.Fields {
	fields := make(logrus.Fields, len(keyValuePairs)/2)
	for i := 0; i < len(keyValuePairs)-1; i += 2 {
		key, ok := keyValuePairs[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyValuePairs[i+1]
	}
	return fields
}
