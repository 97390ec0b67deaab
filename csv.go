package main

import "io"

// Some bank exports backslash-escape quotes and newlines inside quoted fields,
// which encoding/csv rejects. escapeReader rewrites those sequences into the
// RFC 4180 forms ("" and a literal newline) on the fly.

type escState int

const (
	// outside of a quoted field
	escStart escState = iota
	// inside a quoted field
	escQuoted
	// inside a quoted field, previous character was a backslash
	escSlash
)

type escapeReader struct {
	delegate  io.Reader
	buf       []byte // place we read into
	remaining []byte // what is still left to be read from
	pending   []byte // if non-empty, raw bytes ready to be copied out first
	s         escState
}

func newEscapeReader(r io.Reader) *escapeReader {
	return &escapeReader{
		delegate: r,
		buf:      make([]byte, 4092),
	}
}

func (c *escapeReader) Read(p []byte) (n int, err error) {
	if len(c.pending) != 0 {
		n = copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}

	if len(c.remaining) == 0 {
		n, err = c.delegate.Read(c.buf)
		if n == 0 {
			return n, err
		}
		c.remaining = c.buf[:n]
	}

	i := 0 // cursor to p
	for i < len(p) && len(c.remaining) != 0 {
		next := c.remaining[0]
		c.remaining = c.remaining[1:]
		switch c.s {
		case escStart:
			p[i] = next
			i++
			if next == '"' {
				c.s = escQuoted
			}
		case escQuoted:
			switch next {
			case '"':
				p[i] = next
				i++
				c.s = escStart
			case '\\':
				c.s = escSlash
			default:
				p[i] = next
				i++
			}
		case escSlash:
			switch next {
			case '"':
				c.pending = []byte{'"', '"'}
			case 'n':
				c.pending = []byte{'\n'}
			default:
				c.pending = []byte{next}
			}
			c.s = escQuoted
			return i, err
		}
	}

	return i, err
}
