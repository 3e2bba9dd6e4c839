package spill

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// countingReader tracks the exact number of bytes consumed from the
// underlying buffered reader, so the cursor can compute the byte offset of
// the first unread record when it closes.
type countingReader struct {
	r    *bufio.Reader
	read int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.read += int64(n)
	return n, err
}

// Cursor reads a spill file from its persisted position, one record ahead.
// Peek exposes the next unconsumed record; Advance commits it as consumed
// and decodes the following one. Closing the cursor writes the position back
// into the File, so the next pass resumes exactly where this one stopped and
// never re-reads emitted data.
type Cursor struct {
	file *File
	src  *os.File
	cr   *countingReader

	next    record.Record
	hasNext bool

	// Position relative to the file start. committed is the byte offset of
	// the first unconsumed record; nextSize is the encoded size of the
	// currently peeked record.
	committed int64
	nextSize  int64
	consumed  int
}

// OpenCursor opens f at its persisted offset and primes the first unread
// record. The caller must Close the cursor to persist progress, even when a
// pass aborts.
func OpenCursor(f *File, readBufSize int) (*Cursor, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return nil, readFailed(err, "open spill file")
	}
	if _, err := src.Seek(f.Offset, io.SeekStart); err != nil {
		src.Close()
		return nil, readFailed(err, "seek to cursor offset")
	}
	if readBufSize <= 0 {
		readBufSize = 64 << 10
	}

	c := &Cursor{
		file:      f,
		src:       src,
		cr:        &countingReader{r: bufio.NewReaderSize(src, readBufSize)},
		committed: f.Offset,
	}
	if err := c.fill(); err != nil {
		src.Close()
		return nil, err
	}
	return c, nil
}

// fill decodes the next record if any remain unconsumed.
func (c *Cursor) fill() error {
	if c.file.Consumed+c.consumed >= c.file.Count {
		c.hasNext = false
		return nil
	}
	before := c.cr.read
	rec, err := record.Decode(c.cr)
	if err != nil {
		// The registry says records remain, so any failure here, EOF
		// included, means the file is shorter or more damaged than its
		// metadata claims.
		c.hasNext = false
		return readFailed(err, "decode record")
	}
	c.next = rec
	c.nextSize = c.cr.read - before
	c.hasNext = true
	return nil
}

// Peek returns the next unconsumed record without consuming it.
func (c *Cursor) Peek() (record.Record, bool) {
	return c.next, c.hasNext
}

// Advance consumes the peeked record and decodes the following one. If that
// decode fails, the already-consumed prefix stays consumed and the failed
// record remains unread for the next pass.
func (c *Cursor) Advance() error {
	if !c.hasNext {
		return nil
	}
	c.committed += c.nextSize
	c.consumed++
	c.nextSize = 0
	return c.fill()
}

// Close persists the cursor position into the File and releases the file
// handle. It is safe to call after a failed Advance; only successfully
// consumed records are committed.
func (c *Cursor) Close() error {
	c.file.Offset = c.committed
	c.file.Consumed += c.consumed
	c.file.NextTS = c.next.Timestamp
	c.file.NextValid = c.hasNext
	c.consumed = 0
	return c.src.Close()
}

func readFailed(err error, action string) error {
	return errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrMergeRead, err),
		"Cursor", "read", action,
	)
}
