// Package engine assembles the buffering, watermark, spill, and merge
// machinery into the single façade transports talk to: Submit records in,
// globally time-ordered records out through the sink, availability counts
// out through the notifier.
//
// # Safety model
//
// A record is safe to emit once its timestamp is at or below the global
// watermark, the minimum of every channel's latest-seen timestamp: no
// channel can still produce anything earlier. Two consequences are worth
// spelling out:
//
//   - A channel that never submits withholds the watermark and stalls all
//     emission. The engine stalls rather than guesses; RemoveChannel is the
//     administrative escape hatch.
//   - A single-channel engine needs no special case: its watermark is its
//     own latest timestamp, so records emit in submission order.
package engine
