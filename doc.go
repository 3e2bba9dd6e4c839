// Package timemerge merges records from independently time-ordered channels
// into a single globally time-ordered output under a bounded memory budget.
//
// # Architecture
//
// Records arrive on named channels, each of which promises non-decreasing
// timestamps. A watermark tracker maintains the minimum of the latest
// timestamp seen on every known channel; records at or below the watermark
// can never be preceded by a later arrival and are safe to emit. Records
// above the watermark are held in a fixed-capacity in-memory buffer. When
// the buffer fills, its contents are spilled to sorted files on disk, and
// emission proceeds as a resumable k-way merge across the spill files and
// the live buffer.
//
// # Packages
//
//   - record: the record type, its ordering key, and the checksummed
//     binary codec used for spill files and output
//   - watermark: per-channel frontier tracking and the global watermark
//   - buffer: the bounded min-heap holding records above the watermark
//   - spill: sorted spill files with byte-accurate resumable cursors
//   - merge: the k-way merge pass over spill cursors and buffer snapshots
//   - engine: orchestration of submit, spill, merge and failure recovery
//   - input/nats, input/kafka: ingestion transports feeding the engine
//   - output/file: the append-only output file and its trailing reader
//   - notify: availability signalling, including the NATS publisher
//   - natsclient: the managed NATS connection with circuit breaking
//   - component, health, config, metric, errors: service plumbing
//
// The timemerge command in cmd/timemerge wires these together into a
// runnable service.
package timemerge
