package cli

import "io"

// MaxConsoleInput caps a single console line.
const MaxConsoleInput = 1024

// InputAccumulator gathers console bytes across poll iterations until a
// line ending arrives. It is an explicit object passed around the polling
// loop rather than process-wide storage, so two loops never share a
// buffer. The reader is expected to be non-blocking; a read with nothing
// pending simply reports no line yet.
type InputAccumulator struct {
	r   io.Reader
	buf []byte
	n   int
}

func NewInputAccumulator(r io.Reader, max int) *InputAccumulator {
	if max <= 0 {
		max = MaxConsoleInput
	}
	return &InputAccumulator{
		r:   r,
		buf: make([]byte, max),
	}
}

// Line polls for more input and returns a completed line, terminator
// included, once one has accumulated. A full buffer with no terminator is
// flushed as-is so input can never wedge the loop.
func (a *InputAccumulator) Line() (string, bool) {
	free := len(a.buf) - a.n
	if free <= 0 {
		return a.flush(), true
	}

	n, _ := a.r.Read(a.buf[a.n : a.n+free])
	if n <= 0 {
		return "", false
	}
	a.n += n

	last := a.buf[a.n-1]
	if last == '\n' || last == '\r' {
		return a.flush(), true
	}
	return "", false
}

func (a *InputAccumulator) flush() string {
	line := string(a.buf[:a.n])
	a.n = 0
	return line
}
