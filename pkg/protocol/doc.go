// Package protocol defines the wire messages exchanged between the engine
// and its clients over a persistent channel.
//
// Every message is a JSON envelope {"t": type, "d": payload}. Events flow
// client to server; deltas, sequence-numbered and gap-free per session,
// flow server to client. Serialized values are JSON primitives, arrays,
// string-keyed objects (keys ordered on encode by encoding/json), and the
// tagged-pointer form {"__ref": path} for node references.
package protocol
