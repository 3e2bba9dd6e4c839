package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/timemerge/buffer"
	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/merge"
	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/notify"
	"github.com/c360/timemerge/record"
	"github.com/c360/timemerge/spill"
	"github.com/c360/timemerge/watermark"
)

// Config holds the engine's construction-time settings.
type Config struct {
	// Capacity is the bounded buffer size C, in records. Fixed for the
	// engine's lifetime.
	Capacity int `json:"capacity"`

	// SpillDir is where overflow files are written.
	SpillDir string `json:"spill_dir"`

	// ReadBufferSize is the per-cursor read buffer in bytes during merge
	// passes. Zero selects a default.
	ReadBufferSize int `json:"read_buffer_size"`

	// Channels optionally pre-registers the expected channel ids. Until
	// every registered channel has submitted at least once, nothing is safe
	// to emit. Channels not listed here are discovered on first submit.
	Channels []string `json:"channels"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Capacity < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"capacity must be at least 1")
	}
	if c.SpillDir == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"spill_dir is required")
	}
	if c.ReadBufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"read_buffer_size cannot be negative")
	}
	return nil
}

// Flusher is optionally implemented by sinks that buffer writes. The engine
// flushes once per merge pass, completed or aborted, before raising the
// availability signal, so a notified count is always readable.
type Flusher interface {
	Flush() error
}

// Stats is a point-in-time snapshot of engine state for health reporting.
type Stats struct {
	BufferLen        int
	BufferCap        int
	ActiveSpillFiles int
	Channels         []watermark.ChannelState
	Submitted        uint64
	Emitted          uint64
	Degraded         bool
}

// Engine merges records arriving concurrently from multiple independent
// channels, each internally time-ordered, into a single globally
// time-ordered output, under a fixed memory ceiling. Overflow spills to
// disk; a resumable k-way merge across spill files and the live buffer
// extracts the safe prefix (records at or below the global watermark)
// whenever the watermark advances.
//
// Locking: mu guards the watermark tracker and the buffer together, because
// an insert that overflows must observe both consistently. mergeMu gates
// spill writes and merge passes so at most one draining phase runs at a time
// and a pass never observes drained records that are in neither the buffer
// nor the store. mergeMu is always acquired before mu.
type Engine struct {
	id       string
	cfg      Config
	logger   *slog.Logger
	sink     merge.Sink
	notifier notify.Notifier
	metrics  *engineMetrics

	seq     atomic.Uint64 // arrival sequence, allocated at submission
	emitted atomic.Uint64

	mergeMu sync.Mutex // gate: spill writes and merge passes

	mu           sync.Mutex // state: tracker, buffer, earliest, degraded, closed
	tracker      *watermark.Tracker
	buf          *buffer.Buffer
	earliest     record.Timestamp
	hasEarliest  bool
	pendingSpill []record.Record
	degraded     bool
	closed       bool

	store *spill.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotifier sets the availability notifier signalled after every
// completed merge pass.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics registers the engine's metrics with the given registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(e *Engine) {
		m, err := newEngineMetrics(registry)
		if err != nil {
			e.logger.Error("failed to initialize engine metrics", "error", err)
			return
		}
		e.metrics = m
	}
}

// New creates an engine emitting merged records to sink.
func New(cfg Config, sink merge.Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		id:       uuid.NewString(),
		cfg:      cfg,
		logger:   slog.Default(),
		sink:     sink,
		notifier: notify.Nop{},
		tracker:  watermark.NewTracker(cfg.Channels...),
		buf:      buffer.New(cfg.Capacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("engine_id", e.id)

	store, err := spill.NewStore(cfg.SpillDir, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = store

	e.logger.Info("engine created",
		"capacity", cfg.Capacity,
		"spill_dir", cfg.SpillDir,
		"expected_channels", len(cfg.Channels))
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() string { return e.id }

// Submit ingests one record from a channel. Timestamps must be
// non-decreasing within a channel; a regression is rejected with
// ErrOutOfOrder and leaves all engine state unchanged. Submit may block for
// the duration of a spill or a merge pass it triggers.
//
// A spill-write failure is returned to the caller and degrades the engine:
// the drained records are held in memory, never dropped, and every
// subsequent Submit fails with ErrEngineDegraded until Recover succeeds.
// Merge-side failures do not surface here; they reach the notifier.
func (e *Engine) Submit(channel string, ts record.Timestamp, payload []byte) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return errors.WrapFatal(errors.ErrEngineClosed, "Engine", "Submit", "accept record")
		}
		if e.degraded {
			e.mu.Unlock()
			return errors.WrapFatal(errors.ErrEngineDegraded, "Engine", "Submit", "accept record")
		}
		// Validate before any spill work: a rejected submission must not
		// evict other channels' records.
		if err := e.tracker.Check(channel, ts); err != nil {
			e.mu.Unlock()
			e.metrics.recordRejected(channel)
			return err
		}
		if e.buf.Len() < e.buf.Cap() {
			break // room available, mu still held
		}
		// Buffer full before this record fits: drain it first so the
		// capacity bound holds at all times.
		e.mu.Unlock()
		if err := e.spillIfFull(); err != nil {
			return err
		}
	}

	if err := e.tracker.Update(channel, ts); err != nil {
		e.mu.Unlock()
		e.metrics.recordRejected(channel)
		return err
	}

	rec := record.Record{Channel: channel, Timestamp: ts, Seq: e.seq.Add(1), Payload: payload}
	full := e.buf.Insert(rec)
	if !e.hasEarliest || ts < e.earliest {
		e.earliest, e.hasEarliest = ts, true
	}
	bufLen := e.buf.Len()
	wm, wmOK := e.tracker.Watermark()
	e.mu.Unlock()

	e.metrics.recordSubmitted(channel, bufLen, wm, wmOK)

	if full {
		if err := e.spillIfFull(); err != nil {
			return err
		}
	}
	if wmOK {
		e.maybeMerge()
	}
	return nil
}

// spillIfFull drains the buffer to a new spill file if it is still at
// capacity by the time the gate is acquired. Another submitter may have
// spilled in the meantime, which makes this a no-op.
func (e *Engine) spillIfFull() error {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	e.mu.Lock()
	if e.degraded {
		e.mu.Unlock()
		return errors.WrapFatal(errors.ErrEngineDegraded, "Engine", "spillIfFull", "accept record")
	}
	if e.buf.Len() < e.buf.Cap() {
		e.mu.Unlock()
		return nil
	}
	batch := e.buf.DrainSorted()
	e.mu.Unlock()

	return e.writeSpill(batch)
}

// writeSpill persists a sorted batch that has already been evicted from the
// buffer. On failure the batch is held and the engine degrades; the records
// must not be dropped. Caller must hold mergeMu.
func (e *Engine) writeSpill(batch []record.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if _, err := e.store.Write(batch); err != nil {
		e.mu.Lock()
		e.pendingSpill = append(e.pendingSpill, batch...)
		e.degraded = true
		e.mu.Unlock()
		e.metrics.setDegraded(true)
		e.logger.Error("engine degraded: spill batch held in memory",
			"held_records", len(batch), "error", err)
		return err
	}
	e.metrics.recordSpill(len(batch), e.store.ActiveCount())
	return nil
}

// maybeMerge runs one merge pass if anything buffered or spilled could be at
// or below the current watermark. The check is repeated once the gate is
// held, because a competing pass may already have drained the safe prefix.
func (e *Engine) maybeMerge() {
	e.mu.Lock()
	runnable := e.passRunnableLocked()
	e.mu.Unlock()
	if !runnable {
		return
	}

	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	e.mu.Lock()
	if !e.passRunnableLocked() {
		e.mu.Unlock()
		return
	}
	wm, _ := e.tracker.Watermark()
	snapshot := e.buf.DrainSafe(wm)
	e.mu.Unlock()

	start := time.Now()
	emitted, err := e.runPass(wm, snapshot)
	e.emitted.Add(uint64(emitted))
	e.metrics.recordPass(emitted, err, time.Since(start))

	if err != nil {
		e.logger.Error("merge pass failed", "error", err, "emitted", emitted)
		if emitted > 0 {
			e.notifier.Available(emitted)
		}
		e.notifier.Failed(err)
		return
	}
	e.logger.Debug("merge pass completed", "emitted", emitted, "watermark", uint64(wm))
	e.notifier.Available(emitted)
}

func (e *Engine) passRunnableLocked() bool {
	if e.degraded || e.closed || !e.hasEarliest {
		return false
	}
	wm, ok := e.tracker.Watermark()
	return ok && e.earliest <= wm
}

// runPass performs one draining phase: a k-way merge across every active
// spill file cursor plus the buffer's safe snapshot, emitting records with
// timestamp at or below wm in ascending order. Caller must hold mergeMu.
func (e *Engine) runPass(wm record.Timestamp, snapshot []record.Record) (int, error) {
	files := e.store.ListActive()
	cursors := make([]*spill.Cursor, 0, len(files))
	sources := make([]merge.Source, 0, len(files)+1)

	var openErr error
	for _, f := range files {
		c, err := spill.OpenCursor(f, e.cfg.ReadBufferSize)
		if err != nil {
			openErr = err
			break
		}
		cursors = append(cursors, c)
		sources = append(sources, c)
	}
	if openErr != nil {
		for _, c := range cursors {
			c.Close()
		}
		// The snapshot was already evicted from the buffer; persist it so
		// nothing is lost.
		if err := e.writeSpill(snapshot); err != nil {
			return 0, err
		}
		e.recomputeEarliest()
		return 0, openErr
	}

	bufSrc := &sliceSource{recs: snapshot}
	sources = append(sources, bufSrc)

	emitted, passErr := merge.Pass(wm, sources, e.sink)

	// Persist cursor positions whatever happened; only consumed records
	// were committed.
	for _, c := range cursors {
		if err := c.Close(); err != nil && passErr == nil {
			passErr = errors.WrapTransient(err, "Engine", "runPass", "close cursor")
		}
	}

	// An aborted pass leaves part of the snapshot unconsumed; it is already
	// sorted, so it becomes a spill file rather than being lost.
	if rest := bufSrc.rest(); len(rest) > 0 {
		if err := e.writeSpill(rest); err != nil && passErr == nil {
			passErr = err
		}
	}

	for _, f := range files {
		if f.Exhausted() {
			if err := e.store.Delete(f); err != nil {
				e.logger.Warn("failed to delete exhausted spill file",
					"id", f.ID, "error", err)
			}
		}
	}
	e.metrics.setActiveFiles(e.store.ActiveCount())

	// Flush even after an aborted pass: the availability signal follows, and
	// an announced count must be readable by a consumer paced on it.
	if fl, ok := e.sink.(Flusher); ok {
		if err := fl.Flush(); err != nil {
			if passErr == nil {
				passErr = errors.WrapTransient(err, "Engine", "runPass", "flush sink")
			} else {
				e.logger.Error("sink flush failed after aborted pass", "error", err)
			}
		}
	}

	e.recomputeEarliest()
	return emitted, passErr
}

// recomputeEarliest rebuilds the earliest-pending timestamp from the buffer
// head and the spill registry. For a file whose next record key is unknown
// (after a read failure) the file's minimum is used, which can only cause a
// futile pass, never a missed one.
func (e *Engine) recomputeEarliest() {
	files := e.store.ListActive()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.hasEarliest = false
	if r, ok := e.buf.PeekMin(); ok {
		e.earliest, e.hasEarliest = r.Timestamp, true
	}
	for _, f := range files {
		if f.Exhausted() {
			continue
		}
		ts := f.MinTimestamp
		if f.NextValid {
			ts = f.NextTS
		}
		if !e.hasEarliest || ts < e.earliest {
			e.earliest, e.hasEarliest = ts, true
		}
	}
}

// Recover retries persisting the spill batch held since the write failure
// that degraded the engine. On success the engine accepts submissions again.
func (e *Engine) Recover() error {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	e.mu.Lock()
	if !e.degraded {
		e.mu.Unlock()
		return nil
	}
	batch := e.pendingSpill
	e.mu.Unlock()

	f, err := e.store.Write(batch)
	if err != nil {
		e.logger.Error("recovery failed, engine still degraded",
			"held_records", len(batch), "error", err)
		return err
	}

	e.mu.Lock()
	e.pendingSpill = nil
	e.degraded = false
	if f != nil && (!e.hasEarliest || f.MinTimestamp < e.earliest) {
		e.earliest, e.hasEarliest = f.MinTimestamp, true
	}
	e.mu.Unlock()

	e.metrics.setDegraded(false)
	e.metrics.recordSpill(len(batch), e.store.ActiveCount())
	e.logger.Info("engine recovered", "persisted_records", len(batch))
	return nil
}

// RemoveChannel administratively forgets a channel so it no longer withholds
// the watermark, then attempts a merge pass with the unblocked watermark.
// Records already buffered from the channel still emit in order.
func (e *Engine) RemoveChannel(channel string) {
	e.mu.Lock()
	e.tracker.Remove(channel)
	e.mu.Unlock()
	e.logger.Info("channel removed", "channel", channel)
	e.maybeMerge()
}

// Watermark returns the current global watermark, if every known channel
// has reported.
func (e *Engine) Watermark() (record.Timestamp, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Watermark()
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		BufferLen:        e.buf.Len(),
		BufferCap:        e.buf.Cap(),
		ActiveSpillFiles: e.store.ActiveCount(),
		Channels:         e.tracker.Channels(),
		Submitted:        e.seq.Load(),
		Emitted:          e.emitted.Load(),
		Degraded:         e.degraded,
	}
}

// Close stops accepting submissions and deletes remaining spill files.
// Buffered records above the final watermark are never emitted; stopping the
// feeding transports first is the caller's responsibility.
func (e *Engine) Close() error {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.logger.Info("engine closed",
		"submitted", e.seq.Load(),
		"emitted", e.emitted.Load())
	return e.store.Close()
}

// sliceSource adapts the buffer's drained snapshot to a merge source.
type sliceSource struct {
	recs []record.Record
	pos  int
}

func (s *sliceSource) Peek() (record.Record, bool) {
	if s.pos >= len(s.recs) {
		return record.Record{}, false
	}
	return s.recs[s.pos], true
}

func (s *sliceSource) Advance() error {
	s.pos++
	return nil
}

func (s *sliceSource) rest() []record.Record {
	return s.recs[s.pos:]
}
