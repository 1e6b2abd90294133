// Package transport carries framed envelopes over websockets.
//
// The same [Conn] type is used on both ends of a LAN connection and
// against the cloud relay. [Dial] opens a client connection and retries
// failed handshakes per [Backoff]. [Listener] accepts connections,
// rejecting those without identity headers (400) and duplicate device ids
// (409) unless the client asks for a force-register takeover.
//
// Binary messages carry length-prefixed frames and may be split or
// batched arbitrarily; text messages carry a single un-framed JSON
// envelope.
package transport
