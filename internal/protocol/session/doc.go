// Package session owns the client side of one compositor connection.
//
// A Conn frames inbound bytes, resolves each message's target object through
// the registry, decodes it with the wire codec and publishes it to
// subscribers on a single read goroutine, so handlers for one connection
// never run concurrently and always see events in server order.
//
// Ownership boundary:
// - object id allocation and release (registry)
// - the display bookkeeping events (error, delete_id)
// - the sync round trip barrier
// - global announcements and registry bind
//
// Handlers run on the read goroutine and must not call Sync or any other
// operation that waits for a later event.
package session
