package transfer

import (
	"io"
	"sync/atomic"
)

// countingReader counts bytes as they are read from r and reports the
// running total, used by the receiver to track bytes read from the
// socket after the preamble.
type countingReader struct {
	r        io.Reader
	total    *atomic.Int64
	onUpdate func(uint64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		t := c.total.Add(int64(n))
		if c.onUpdate != nil {
			c.onUpdate(uint64(t))
		}
	}
	return n, err
}

// countingWriter counts bytes as they are successfully written to w, used
// by the sender to track post-encryption bytes actually written to the
// socket.
type countingWriter struct {
	w        io.Writer
	total    *atomic.Int64
	onUpdate func(uint64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		t := c.total.Add(int64(n))
		if c.onUpdate != nil {
			c.onUpdate(uint64(t))
		}
	}
	return n, err
}
