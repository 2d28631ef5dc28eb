// Package signaling exposes the rendezvous surface two WebRTC peers use to
// exchange session descriptions and ICE candidates before their direct
// connection exists.
//
// Two transports share one room store. The polling transport is a set of
// /api/ endpoints where peers write offers, answers, and candidates and read
// back what the other side wrote. The push transport is a WebSocket endpoint
// at /ws that relays the same payloads between the two live participants of
// a room as they arrive.
package signaling
