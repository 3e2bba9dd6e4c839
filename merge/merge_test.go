package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/timemerge/record"
)

// sliceSource is an in-memory Source over a pre-sorted slice.
type sliceSource struct {
	recs []record.Record
	pos  int
	// failAt, when >= 0, makes Advance fail after consuming recs[failAt].
	failAt int
}

func newSliceSource(recs ...record.Record) *sliceSource {
	return &sliceSource{recs: recs, failAt: -1}
}

func (s *sliceSource) Peek() (record.Record, bool) {
	if s.pos >= len(s.recs) {
		return record.Record{}, false
	}
	return s.recs[s.pos], true
}

func (s *sliceSource) Advance() error {
	consumed := s.pos
	s.pos++
	if s.failAt >= 0 && consumed == s.failAt {
		return fmt.Errorf("source failed after record %d", consumed)
	}
	return nil
}

type collectSink struct {
	recs []record.Record
	err  error
}

func (c *collectSink) Emit(rec record.Record) error {
	if c.err != nil {
		return c.err
	}
	c.recs = append(c.recs, rec)
	return nil
}

func rec(ch string, ts record.Timestamp, seq uint64) record.Record {
	return record.Record{Channel: ch, Timestamp: ts, Seq: seq}
}

func timestamps(recs []record.Record) []record.Timestamp {
	out := make([]record.Timestamp, len(recs))
	for i, r := range recs {
		out[i] = r.Timestamp
	}
	return out
}

func TestPassMergesOverlappingSources(t *testing.T) {
	a := newSliceSource(rec("a", 1, 1), rec("a", 4, 2), rec("a", 9, 3))
	b := newSliceSource(rec("b", 2, 4), rec("b", 3, 5), rec("b", 8, 6))
	sink := &collectSink{}

	n, err := Pass(10, []Source{a, b}, sink)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []record.Timestamp{1, 2, 3, 4, 8, 9}, timestamps(sink.recs))
}

func TestPassStopsAtWatermark(t *testing.T) {
	a := newSliceSource(rec("a", 1, 1), rec("a", 5, 2), rec("a", 7, 3))
	b := newSliceSource(rec("b", 2, 4), rec("b", 6, 5))
	sink := &collectSink{}

	n, err := Pass(5, []Source{a, b}, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []record.Timestamp{1, 2, 5}, timestamps(sink.recs))

	// The sources are left positioned at their first unsafe record.
	next, ok := a.Peek()
	require.True(t, ok)
	assert.EqualValues(t, 7, next.Timestamp)
	next, ok = b.Peek()
	require.True(t, ok)
	assert.EqualValues(t, 6, next.Timestamp)
}

func TestPassResumesAcrossPasses(t *testing.T) {
	a := newSliceSource(rec("a", 1, 1), rec("a", 6, 2))
	b := newSliceSource(rec("b", 3, 3), rec("b", 8, 4))
	sink := &collectSink{}

	n, err := Pass(4, []Source{a, b}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = Pass(8, []Source{a, b}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []record.Timestamp{1, 3, 6, 8}, timestamps(sink.recs))
}

func TestPassDeterministicTieBreak(t *testing.T) {
	// Same timestamps across channels: channel id, then arrival seq decide.
	a := newSliceSource(rec("b", 5, 2), rec("b", 5, 7))
	b := newSliceSource(rec("a", 5, 4))
	c := newSliceSource(rec("a", 5, 1))
	sink := &collectSink{}

	n, err := Pass(5, []Source{a, b, c}, sink)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	assert.Equal(t, "a", sink.recs[0].Channel)
	assert.EqualValues(t, 1, sink.recs[0].Seq)
	assert.Equal(t, "a", sink.recs[1].Channel)
	assert.EqualValues(t, 4, sink.recs[1].Seq)
	assert.Equal(t, "b", sink.recs[2].Channel)
	assert.EqualValues(t, 2, sink.recs[2].Seq)
	assert.Equal(t, "b", sink.recs[3].Channel)
	assert.EqualValues(t, 7, sink.recs[3].Seq)
}

func TestPassEmptySourcesEmitNothing(t *testing.T) {
	sink := &collectSink{}
	n, err := Pass(100, []Source{newSliceSource()}, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, sink.recs)
}

func TestPassAbortsOnSourceFailure(t *testing.T) {
	a := newSliceSource(rec("a", 1, 1), rec("a", 2, 2), rec("a", 3, 3))
	a.failAt = 1 // fail while consuming the second record
	sink := &collectSink{}

	n, err := Pass(10, []Source{a}, sink)
	require.Error(t, err)
	assert.Equal(t, 2, n, "records emitted before the failure stay emitted")
	assert.Equal(t, []record.Timestamp{1, 2}, timestamps(sink.recs))
}

func TestPassAbortsOnSinkFailure(t *testing.T) {
	a := newSliceSource(rec("a", 1, 1))
	sink := &collectSink{err: fmt.Errorf("disk full")}

	n, err := Pass(10, []Source{a}, sink)
	require.Error(t, err)
	assert.Equal(t, 0, n)

	// The record was not consumed and remains available.
	next, ok := a.Peek()
	require.True(t, ok)
	assert.EqualValues(t, 1, next.Timestamp)
}
