// Package spill persists buffer overflow to disk as append-only, internally
// sorted files and reads them back through resumable cursors. Each file is a
// flat concatenation of encoded records; the store's in-memory registry,
// keyed by a monotonically increasing sequence id, is the only index.
package spill
