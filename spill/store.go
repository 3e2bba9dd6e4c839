package spill

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// File describes one spill file: an immutable, internally sorted sequence of
// encoded records on disk. Offset and Consumed track how far merge passes
// have read; they are the resumable cursor state, keyed by ID in the store's
// registry. Sequence ids are never reused.
type File struct {
	ID           uint64
	Path         string
	Count        int
	MinTimestamp record.Timestamp
	MaxTimestamp record.Timestamp

	// Cursor state persisted between merge passes. Offset is the byte
	// position of the first unread record; Consumed is how many records
	// before it have been emitted.
	Offset   int64
	Consumed int

	// NextTS is the timestamp of the first unread record, when known. After
	// a read failure the next record's key is unknown and NextValid is
	// false; callers must fall back to MinTimestamp, which can only be
	// pessimistic.
	NextTS    record.Timestamp
	NextValid bool
}

// Remaining returns how many records have not yet been consumed.
func (f *File) Remaining() int { return f.Count - f.Consumed }

// Exhausted reports whether every record has been consumed.
func (f *File) Exhausted() bool { return f.Consumed >= f.Count }

// Store owns the set of active spill files. Creation is append-only with a
// monotonically increasing sequence id; fully consumed files are deleted and
// their ids retired. The registry is in-memory only: spill bookkeeping does
// not survive a process restart.
type Store struct {
	dir    string
	logger *slog.Logger

	seq atomic.Uint64

	mu    sync.Mutex
	files map[uint64]*File
}

// NewStore creates a store writing spill files under dir, creating the
// directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Store", "NewStore", "create spill directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		files:  make(map[uint64]*File),
	}, nil
}

// Write persists an ascending-sorted sequence of records to a new spill file
// and registers it. The sequence must be pre-sorted (buffer drains are, by
// heap pop order); an unsorted sequence is rejected before any I/O. Write
// failures are fatal to the caller: the drained records were already evicted
// from memory, so the caller must hold them until a write succeeds.
func (s *Store) Write(records []record.Record) (*File, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for i := 1; i < len(records); i++ {
		if records[i].Less(records[i-1]) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("record %d orders before its predecessor", i),
				"Store", "Write", "sort check",
			)
		}
	}

	id := s.seq.Add(1)
	path := filepath.Join(s.dir, fmt.Sprintf("spill-%08d.dat", id))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, s.writeFailed(err, path)
	}

	w := bufio.NewWriter(f)
	for _, rec := range records {
		if err := record.Encode(w, rec); err != nil {
			f.Close()
			os.Remove(path)
			return nil, s.writeFailed(err, path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, s.writeFailed(err, path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, s.writeFailed(err, path)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, s.writeFailed(err, path)
	}

	file := &File{
		ID:           id,
		Path:         path,
		Count:        len(records),
		MinTimestamp: records[0].Timestamp,
		MaxTimestamp: records[len(records)-1].Timestamp,
		NextTS:       records[0].Timestamp,
		NextValid:    true,
	}

	s.mu.Lock()
	s.files[id] = file
	active := len(s.files)
	s.mu.Unlock()

	s.logger.Debug("spill file written",
		"id", id,
		"records", file.Count,
		"min_ts", uint64(file.MinTimestamp),
		"max_ts", uint64(file.MaxTimestamp),
		"active_files", active)

	return file, nil
}

func (s *Store) writeFailed(err error, path string) error {
	s.logger.Error("spill write failed", "path", path, "error", err)
	return errors.WrapFatal(
		fmt.Errorf("%w: %w", errors.ErrSpillWrite, err),
		"Store", "Write", "persist drained buffer",
	)
}

// Delete removes a fully consumed spill file from the registry and from
// disk. Deleting an unknown file is a no-op.
func (s *Store) Delete(f *File) error {
	s.mu.Lock()
	_, known := s.files[f.ID]
	delete(s.files, f.ID)
	s.mu.Unlock()

	if !known {
		return nil
	}
	if err := os.Remove(f.Path); err != nil {
		return errors.WrapTransient(err, "Store", "Delete", "remove spill file")
	}
	s.logger.Debug("spill file deleted", "id", f.ID, "records", f.Count)
	return nil
}

// ListActive returns all non-deleted spill files ordered by sequence id.
// Sequence order does not imply timestamp order; files may overlap in range.
func (s *Store) ListActive() []*File {
	s.mu.Lock()
	out := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns the number of live spill files.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Close deletes every remaining spill file. Buffered records that were never
// safe to emit are intentionally discarded with them.
func (s *Store) Close() error {
	var firstErr error
	for _, f := range s.ListActive() {
		if err := s.Delete(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
