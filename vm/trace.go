package vm

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Trace writers
// ---------------------------------------------------------------------------

const indentUnit = "  "

// IndentingWriter writes trace lines to an io.Writer, prefixed by the
// current indentation.
type IndentingWriter struct {
	mu     sync.Mutex
	out    io.Writer
	depth  int
	prefix string
}

// NewIndentingWriter creates a trace writer over out.
func NewIndentingWriter(out io.Writer) *IndentingWriter {
	return &IndentingWriter{out: out}
}

// WriteLn writes one line.
func (w *IndentingWriter) WriteLn(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s%s\n", w.prefix, s)
}

// Indent increases the indentation by one level.
func (w *IndentingWriter) Indent() {
	w.mu.Lock()
	w.depth++
	w.prefix = strings.Repeat(indentUnit, w.depth)
	w.mu.Unlock()
}

// Outdent decreases the indentation by one level.
func (w *IndentingWriter) Outdent() {
	w.mu.Lock()
	if w.depth > 0 {
		w.depth--
	}
	w.prefix = strings.Repeat(indentUnit, w.depth)
	w.mu.Unlock()
}

// LogTraceWriter forwards trace lines to a commonlog logger at debug level.
type LogTraceWriter struct {
	log   commonlog.Logger
	depth int
}

// NewLogTraceWriter creates a trace writer over log.
func NewLogTraceWriter(log commonlog.Logger) *LogTraceWriter {
	return &LogTraceWriter{log: log}
}

func (w *LogTraceWriter) WriteLn(s string) {
	w.log.Debug(s, "depth", w.depth)
}

func (w *LogTraceWriter) Indent() { w.depth++ }

func (w *LogTraceWriter) Outdent() {
	if w.depth > 0 {
		w.depth--
	}
}

// MultiTraceWriter fans each line out to several writers.
type MultiTraceWriter []TraceWriter

func (m MultiTraceWriter) WriteLn(s string) {
	for _, w := range m {
		w.WriteLn(s)
	}
}

func (m MultiTraceWriter) Indent() {
	for _, w := range m {
		w.Indent()
	}
}

func (m MultiTraceWriter) Outdent() {
	for _, w := range m {
		w.Outdent()
	}
}
