package record

// Timestamp is the ordering key carried by every record. The engine never
// interprets it as wall-clock time; channels only promise that it is
// non-decreasing within a channel.
type Timestamp uint64

// Record is a single immutable entry from a channel. Payload bytes are opaque
// to the engine; Seq is the arrival sequence number assigned at submission
// and exists only to break timestamp ties deterministically.
type Record struct {
	Channel   string
	Timestamp Timestamp
	Seq       uint64
	Payload   []byte
}

// Less reports whether r orders before other. Ordering is by timestamp,
// then channel id, then arrival sequence, so merge output is reproducible
// across runs on identical input.
func (r Record) Less(other Record) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp < other.Timestamp
	}
	if r.Channel != other.Channel {
		return r.Channel < other.Channel
	}
	return r.Seq < other.Seq
}
