package cli

import (
	"strings"
	"testing"
)

// chunkReader hands back one scripted chunk per Read call, mimicking a
// non-blocking descriptor that fills across poll iterations.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func TestAccumulatorWaitsForLineEnding(t *testing.T) {
	r := &chunkReader{chunks: []string{"hel", "lo wor", "ld\n"}}
	acc := NewInputAccumulator(r, 64)

	if line, ok := acc.Line(); ok {
		t.Fatalf("partial input returned early: %q", line)
	}
	if line, ok := acc.Line(); ok {
		t.Fatalf("partial input returned early: %q", line)
	}
	line, ok := acc.Line()
	if !ok {
		t.Fatal("completed line not returned")
	}
	if line != "hello world\n" {
		t.Fatalf("line = %q", line)
	}
}

func TestAccumulatorResetsBetweenLines(t *testing.T) {
	r := &chunkReader{chunks: []string{"first\n", "second\n"}}
	acc := NewInputAccumulator(r, 64)

	line, ok := acc.Line()
	if !ok || line != "first\n" {
		t.Fatalf("first line = %q ok=%v", line, ok)
	}
	line, ok = acc.Line()
	if !ok || line != "second\n" {
		t.Fatalf("second line = %q ok=%v", line, ok)
	}
	if line, ok := acc.Line(); ok {
		t.Fatalf("idle accumulator produced %q", line)
	}
}

func TestAccumulatorFlushesFullBuffer(t *testing.T) {
	r := &chunkReader{chunks: []string{strings.Repeat("x", 8)}}
	acc := NewInputAccumulator(r, 8)

	if line, ok := acc.Line(); ok {
		t.Fatalf("flush happened during fill: %q", line)
	}
	line, ok := acc.Line()
	if !ok {
		t.Fatal("full buffer must flush rather than wedge the loop")
	}
	if line != strings.Repeat("x", 8) {
		t.Fatalf("flushed line = %q", line)
	}
}

func TestAccumulatorAcceptsCarriageReturn(t *testing.T) {
	r := &chunkReader{chunks: []string{"dos style\r"}}
	acc := NewInputAccumulator(r, 64)

	line, ok := acc.Line()
	if !ok || line != "dos style\r" {
		t.Fatalf("line = %q ok=%v", line, ok)
	}
}
