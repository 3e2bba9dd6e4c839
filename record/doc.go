// Package record defines the engine's data model: the Record carried from
// channels to the sorted output, its deterministic ordering key, and the
// self-delimiting binary frame used for spill files and the output file.
package record
