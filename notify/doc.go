// Package notify delivers the engine's availability signal to downstream
// readers: how many newly merged records are safe to consume. The signal is
// level-triggered, not an event queue; only the latest coalesced count
// matters. An in-process Listener serves embedders and a NATS publisher
// serves distributed readers.
package notify
