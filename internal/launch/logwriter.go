package launch

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// logSink appends to one bottle log file. Both output streams of a
// launch share the sink, so the mutex keeps interleaved lines whole.
type logSink struct {
	mu      sync.Mutex
	file    *os.File
	streams []*streamWriter
}

func openLogSink(path string) (*logSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &logSink{file: file}, nil
}

// Banner records the invocation header so repeated launches appending to
// the same file stay attributable.
func (s *logSink) Banner(start time.Time, executable string, args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := "=== " + start.Format(time.RFC3339) + " " + executable
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	fmt.Fprintln(s.file, line)
}

// Stream returns a writer that tags every line with the given label.
func (s *logSink) Stream(label string) *streamWriter {
	w := &streamWriter{sink: s, label: label}
	s.streams = append(s.streams, w)
	return w
}

func (s *logSink) writeLine(label, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.file, "[%s] %s\n", label, line)
}

// Close flushes any buffered partial lines and closes the file.
func (s *logSink) Close() error {
	for _, w := range s.streams {
		w.flush()
	}
	return s.file.Close()
}

// streamWriter splits a raw output stream into lines and forwards them,
// tagged, to the sink. Partial lines are buffered until the next write or
// flush.
type streamWriter struct {
	mu     sync.Mutex
	sink   *logSink
	label  string
	buffer string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer += string(p)
	lines := strings.Split(w.buffer, "\n")
	w.buffer = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		w.sink.writeLine(w.label, strings.TrimSuffix(line, "\r"))
	}
	return len(p), nil
}

func (w *streamWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buffer == "" {
		return
	}
	w.sink.writeLine(w.label, strings.TrimSuffix(w.buffer, "\r"))
	w.buffer = ""
}
