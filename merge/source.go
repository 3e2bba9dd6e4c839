package merge

import "github.com/c360/timemerge/record"

// Source is the uniform capability a merge pass needs from anything holding
// ordered records: spill file cursors and the live in-memory buffer both
// satisfy it. Peek must keep returning the same record until Advance
// consumes it; records must come out in ascending order.
type Source interface {
	// Peek returns the next unconsumed record, or false when exhausted.
	Peek() (record.Record, bool)
	// Advance consumes the peeked record. An error means the source could
	// not produce its following record; the consumed prefix stays consumed.
	Advance() error
}

// Sink receives merged records in final ascending order, one Emit per
// record. The sink owns durability of the merged output.
type Sink interface {
	Emit(rec record.Record) error
}
