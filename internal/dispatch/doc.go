// Package dispatch turns inbound client actions into store mutations
// followed by hub broadcasts.
//
// # Serialization
//
// The dispatcher holds one mutex per conversation id. Every mutating
// operation on a conversation (message append, join, departure) runs with
// that mutex held, which is what makes the ordering guarantee hold: for a
// fixed conversation, envelopes enter subscriber buffers in the exact order
// their store mutations committed. Different conversations never contend.
//
// Broadcast delivery itself is non-blocking per subscriber, so a slow or
// dead consumer cannot stall the critical section.
//
// # Flows
//
//   - SubmitMessage: validate, assign id/timestamp, append, broadcast
//   - SubmitTyping: broadcast only, never persisted
//   - Join: subscribe, replay recent history as one sync envelope to the
//     joiner, announce presence to the others
//   - Leave/Disconnect: unsubscribe, announce departure; idempotent
//
// Validation failures are returned synchronously before any side effect.
// Downstream failures are contained to their own connection or conversation
// and logged; they never abort the flow for anyone else.
package dispatch
