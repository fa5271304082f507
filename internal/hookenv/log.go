// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"context"
	"fmt"

	"github.com/juju/loggo"
)

// LogWriter is a loggo.Writer that forwards log records to juju-log, so
// that they appear in the unit log with their level intact.
type LogWriter struct {
	tools *Tools
	// Fallback receives the records juju-log could not take, typically
	// when the agent is run outside a hook context.
	fallback loggo.Writer
}

// NewLogWriter returns a LogWriter over tools.
func NewLogWriter(tools *Tools, fallback loggo.Writer) *LogWriter {
	return &LogWriter{tools: tools, fallback: fallback}
}

// Write is part of loggo.Writer.
func (w *LogWriter) Write(entry loggo.Entry) {
	msg := fmt.Sprintf("%s %s", entry.Module, entry.Message)
	if err := w.tools.JujuLog(context.Background(), jujuLogLevel(entry.Level), msg); err != nil && w.fallback != nil {
		w.fallback.Write(entry)
	}
}

func jujuLogLevel(level loggo.Level) string {
	switch level {
	case loggo.TRACE, loggo.DEBUG:
		return "DEBUG"
	case loggo.WARNING:
		return "WARNING"
	case loggo.ERROR, loggo.CRITICAL:
		return "ERROR"
	}
	return "INFO"
}
