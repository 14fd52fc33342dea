// Package transport connects tandem replicas over websockets.
//
// A Server hosts one Hub per document. The hub keeps a read-only replica of
// the document, gives each joining peer a replica id and a snapshot, and
// relays every operation it applies to the other peers. Hubs on different
// server instances can share operations through a Relay.
//
// A Client joins a document, loads the snapshot into a local engine and
// keeps it in sync until its context ends.
package transport
