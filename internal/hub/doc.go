// Package hub is the registry of live client connections and the fan-out
// primitive for envelope delivery.
//
// # Model
//
// Each registered Connection carries a buffered outbound channel that its
// transport drains. The hub keeps a reverse index from conversation id to
// subscriber set, so Broadcast is a snapshot of the set followed by one
// non-blocking send per subscriber.
//
// # Delivery contract
//
// At-most-once, per-conversation ordered. Envelopes reach subscriber buffers
// in the exact order Broadcast is called; the dispatcher serializes those
// calls per conversation. A subscriber whose buffer is full misses that
// envelope; a connection found dead during fan-out is pruned from the
// subscriber set. Neither stalls delivery to anyone else, and nothing here
// ever blocks the dispatcher's critical section.
//
// A connection that misses envelopes recovers by re-subscribing, which
// triggers a full history resync from the store. There is no
// sequence-numbered replay.
package hub
