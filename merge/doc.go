// Package merge implements the resumable k-way merge across spill file
// cursors and the live buffer. A pass extracts exactly the currently safe
// prefix, the records at or below the global watermark, in ascending order,
// and leaves every source positioned so the next pass continues where this
// one stopped.
package merge
