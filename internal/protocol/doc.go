// Package protocol defines the wire envelope exchanged between the dispatcher
// and client connections.
//
// # Envelope
//
// Every event on the wire is one Envelope:
//
//	{ "type": "message"|"presence"|"typing"|"sync"|"error",
//	  "conversationId": "<id>",
//	  "source": "desktop"|"web"|"iphone"|"integration",
//	  "data": { ... type-specific ... },
//	  "timestamp": "<ISO-8601>" }
//
// Envelope types:
//
//   - message: persisted; data carries a store.Message
//   - presence: ephemeral; data={action: joined|disconnected, source}
//   - typing: ephemeral; data={isTyping: bool}
//   - sync: sent once per subscribe, to the joining connection only;
//     data={messages: [...]} with recent history in ascending order
//   - error: returned synchronously to a sender whose submission was rejected
//
// Presence, typing, sync and error envelopes are never persisted.
//
// # Submissions
//
// An inbound submission from any transport (WebSocket frame or the
// integration's REST path) is {conversationId, role, content, source}; the
// dispatcher assigns id and timestamp on receipt.
package protocol
