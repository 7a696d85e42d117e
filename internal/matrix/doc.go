// Package matrix connects Matrix rooms to the relay.
//
// Every room is treated as one relay user: its room id keys the session
// registry and the inbound queue. The Transport syncs with the homeserver,
// drops its own echoes and the backlog from before startup, applies the room
// and sender allowlists, and hands text, image and voice messages to the
// inbound queue. Attachments are enqueued by mxc reference; Fetch downloads
// them when the turn is handled so a slow download never blocks the sync
// loop.
//
// Replies are sent as m.text with an HTML rendering of their markdown.
// Delivery failures are returned as *TransportError.
package matrix
