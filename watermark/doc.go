// Package watermark tracks per-channel progress and derives the global
// watermark: the minimum of the latest-seen timestamps across all known
// channels. A record is safe to emit once its timestamp is at or below the
// watermark, because no channel can still produce anything earlier.
package watermark
