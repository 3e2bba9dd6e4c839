// Package file provides the file-backed output sink for merged records and
// the paired reader consumers use to walk the sorted output.
package file

import (
	"bufio"
	"log/slog"
	"os"
	"sync"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// Writer appends merged records to a single output file in the order the
// engine emits them. It implements merge.Sink and engine.Flusher; the engine
// flushes once per completed pass, so everything announced through the
// availability signal is readable from the file.
type Writer struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	written uint64
}

// NewWriter creates (or truncates) the output file at path.
func NewWriter(path string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Writer", "NewWriter", "open output file")
	}
	return &Writer{
		path:   path,
		logger: logger,
		file:   f,
		w:      bufio.NewWriter(f),
	}, nil
}

// Emit writes one record. Records arrive in final ascending order; the
// writer does not reorder.
func (w *Writer) Emit(rec record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "Writer", "Emit", "write after close")
	}
	if err := record.Encode(w.w, rec); err != nil {
		return errors.WrapTransient(err, "Writer", "Emit", "encode record")
	}
	w.written++
	return nil
}

// Flush pushes buffered records to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return errors.WrapTransient(err, "Writer", "Flush", "flush output file")
	}
	return nil
}

// Written returns the number of records emitted so far.
func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes and closes the file. Further emits fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.w.Flush()
	closeErr := w.file.Close()
	w.file = nil

	w.logger.Info("output file closed", "path", w.path, "records", w.written)
	if flushErr != nil {
		return errors.WrapTransient(flushErr, "Writer", "Close", "flush output file")
	}
	if closeErr != nil {
		return errors.WrapTransient(closeErr, "Writer", "Close", "close output file")
	}
	return nil
}

// Reader walks the sorted output file sequentially. It may trail a live
// Writer: Read returns io.EOF at the current end of file, and succeeds again
// once the writer has flushed more records. The engine flushes whole merge
// passes, so a reader paced by availability signals always sees complete
// frames.
type Reader struct {
	f *os.File
	r *bufio.Reader
}

// NewReader opens the output file at path for sequential reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Reader", "NewReader", "open output file")
	}
	return &Reader{f: f, r: bufio.NewReader(f)}, nil
}

// Read decodes the next record. io.EOF means no more records are available
// at the current position.
func (r *Reader) Read() (record.Record, error) {
	return record.Decode(r.r)
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
