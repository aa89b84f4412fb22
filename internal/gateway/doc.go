// Package gateway terminates client transports and hands raw frames to the
// dispatcher.
//
// # Transports
//
// Connection-oriented sources (desktop, web, iphone) attach over
// GET /ws?source=..., which upgrades to a WebSocket. Each inbound frame is a
// command {action: join|leave|message|typing, ...}; outbound envelopes flow
// from the hub connection's buffer through the write pump.
//
// The integration source, and all read-side queries, use the REST surface
// under /api. POST /api/messages carries the same submission contract as a
// WebSocket message frame and goes through the same dispatcher entry point,
// so integration-submitted messages are ordered and fanned out exactly like
// socket-submitted ones.
//
// Authentication is the deployment's front proxy's concern; the gateway
// trusts the source declared at attach time.
package gateway
