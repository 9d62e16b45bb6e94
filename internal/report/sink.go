// Package report renders readings as text lines and delivers them to sinks.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives report lines, one call per line.
type Sink interface {
	Emit(line string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(line string)

func (f SinkFunc) Emit(line string) { f(line) }

// Discard drops every line.
var Discard Sink = SinkFunc(func(string) {})

// LogSink emits lines through logrus at info level.
type LogSink struct {
	Entry *logrus.Entry
}

// NewLogSink returns a sink logging under component "report".
func NewLogSink() *LogSink {
	return &LogSink{Entry: logrus.WithField("component", "report")}
}

func (s *LogSink) Emit(line string) { s.Entry.Info(line) }

// WriterSink writes each line followed by a newline.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// Collector keeps every line in memory.
type Collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *Collector) Emit(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

// Lines returns a copy of the collected lines.
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Multi fans lines out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multi []Sink

func (m multi) Emit(line string) {
	for _, s := range m {
		s.Emit(line)
	}
}
