// Package buffer provides the bounded in-memory min-heap of pending records.
// When it fills, the engine drains it in one sorted pass into a spill file,
// which is what keeps total memory bounded regardless of input volume.
package buffer
