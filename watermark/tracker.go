package watermark

import (
	"fmt"
	"sort"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// ChannelState is a snapshot of one channel's progress.
type ChannelState struct {
	Channel  string
	Latest   record.Timestamp
	Reported bool
}

type state struct {
	latest   record.Timestamp
	reported bool
}

// Tracker records each channel's latest-seen timestamp and derives the
// global watermark, the minimum latest timestamp across channels. A channel
// becomes known either by pre-registration or on its first update; once
// known it is never forgotten except by administrative Remove.
//
// Tracker performs no synchronization of its own. The engine guards it with
// the same mutex that guards the buffer, because an overflow decision must
// observe both consistently.
type Tracker struct {
	channels map[string]*state
}

// NewTracker creates a tracker. Expected channels may be pre-registered;
// until every one of them has reported at least once, the watermark is
// absent and nothing is safe to emit.
func NewTracker(expected ...string) *Tracker {
	t := &Tracker{channels: make(map[string]*state)}
	for _, ch := range expected {
		t.Register(ch)
	}
	return t
}

// Register makes a channel known without an update. Registering an already
// known channel is a no-op.
func (t *Tracker) Register(channel string) {
	if _, ok := t.channels[channel]; !ok {
		t.channels[channel] = &state{}
	}
}

// Update records a new latest timestamp for the channel, creating the
// channel on first sight. A timestamp earlier than the channel's current
// latest is rejected with ErrOutOfOrder and leaves state unchanged; equal
// timestamps are allowed, since the per-channel contract is non-decreasing.
func (t *Tracker) Update(channel string, ts record.Timestamp) error {
	if err := t.Check(channel, ts); err != nil {
		return err
	}
	st, ok := t.channels[channel]
	if !ok {
		t.channels[channel] = &state{latest: ts, reported: true}
		return nil
	}
	st.latest = ts
	st.reported = true
	return nil
}

// Check reports whether a timestamp would be accepted for the channel,
// without recording it. Callers can validate a submission before doing any
// eviction work on its behalf, so a rejected record leaves no side effects.
func (t *Tracker) Check(channel string, ts record.Timestamp) error {
	st, ok := t.channels[channel]
	if !ok || !st.reported || ts >= st.latest {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("channel %q: timestamp %d < latest %d: %w",
			channel, ts, st.latest, errors.ErrOutOfOrder),
		"Tracker", "Check", "timestamp check",
	)
}

// Watermark returns the minimum latest timestamp over known channels. The
// second result is false while no channel has reported, or while any known
// channel has yet to report: a silent channel could still produce anything,
// so nothing is safe. A permanently silent channel therefore stalls emission
// indefinitely; the only remedy is Remove.
func (t *Tracker) Watermark() (record.Timestamp, bool) {
	if len(t.channels) == 0 {
		return 0, false
	}
	var min record.Timestamp
	first := true
	for _, st := range t.channels {
		if !st.reported {
			return 0, false
		}
		if first || st.latest < min {
			min = st.latest
			first = false
		}
	}
	return min, true
}

// Remove administratively forgets a channel so it no longer withholds the
// watermark. Records already buffered from the channel are unaffected.
func (t *Tracker) Remove(channel string) {
	delete(t.channels, channel)
}

// Len returns the number of known channels.
func (t *Tracker) Len() int {
	return len(t.channels)
}

// Channels returns a snapshot of all known channel states, sorted by
// channel id for stable output.
func (t *Tracker) Channels() []ChannelState {
	out := make([]ChannelState, 0, len(t.channels))
	for ch, st := range t.channels {
		out = append(out, ChannelState{Channel: ch, Latest: st.latest, Reported: st.reported})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
