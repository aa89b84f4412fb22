// Package store provides the canonical, ordered, append-only conversation
// log and participant table.
//
// # ConversationStore
//
// ConversationStore is the in-memory authority for all conversation state.
// Mutations (message appends, participant transitions, metadata updates)
// update memory immediately and schedule a debounced snapshot write, so the
// hot read/broadcast path never waits on disk:
//
//	backend, _ := store.NewFileBackend(dir, logger)
//	s := store.New(backend, 2*time.Second, logger)
//	s.Initialize(ctx)
//	defer s.Close()
//
// Repeated mutations to one conversation inside the debounce window coalesce
// into a single write. SaveAll flushes anything still pending and must run on
// graceful shutdown.
//
// # Ordering
//
// A conversation's message slice is append-only and never reordered. Append
// order equals temporal order because all mutating calls are serialized per
// conversation by the dispatcher; the store's own mutex only protects the
// table itself.
//
// # Backends
//
// Durable I/O goes through the Backend interface. Two implementations ship:
//
//   - FileBackend: one JSON file per conversation (reference)
//   - SQLiteBackend: one snapshot row per conversation
//
// Both tolerate individually corrupt records at load time: the bad record is
// logged and skipped, the rest of the store comes up.
package store
