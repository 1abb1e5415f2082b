// Package protocol owns the wire contract shared by the display protocol client.
//
// Ownership boundary:
// - error taxonomy used by every protocol layer
// - schema model and loader (schema)
// - argument codec (wire) and message framing (frame)
// - object id registry (registry)
// - connection engine, dispatch and round trips (session)
package protocol
