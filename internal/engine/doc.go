// Package engine provides one replica of a collaboratively edited text
// document.
//
// The engine package serves as the facade over the replicated buffer. It
// records every operation in a log for catch-up, keeps a local undo
// history, tracks selections with anchors and hands local operations to a
// Broadcaster.
//
// # Architecture
//
// The engine is built on several sub-packages:
//
//   - sumtree: persistent B+ tree with monoid summaries
//   - rope: immutable text rope on top of sumtree
//   - clock: replica ids, Lamport timestamps and version vectors
//   - operation: replicated insert and delete operations and their wire form
//   - buffer: the conflict-free replicated buffer, anchors and snapshots
//   - oplog: applied operations, for catch-up and undo
//   - history: transactions and undo/redo stacks
//   - selection: anchor-backed selections
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. Local edits and remote
// delivery are serialized; reads use immutable snapshots and never block.
//
// # Basic Usage
//
// Two replicas of the same document exchange operations:
//
//	a, _ := engine.New(1, engine.WithContent("hello"))
//	b, _ := engine.New(2, engine.WithContent("hello"))
//
//	a.SetBroadcaster(engine.BroadcastFunc(func(ops []engine.Operation) {
//		b.ReceiveBatch(ops)
//	}))
//
//	a.Insert(5, " world")
//	b.Text() // "hello world"
//
//	a.Undo()
//	b.Text() // "hello"
//
// # Joining a Session
//
// A new replica loads a snapshot from an existing one and then applies
// whatever the snapshot did not cover:
//
//	data, _ := server.SerializeSnapshot()
//	client, _ := engine.NewFromSnapshot(7, data)
//	tail, _ := server.OpsSince(client.Version())
//	client.ReceiveBatch(tail)
//
// # Anchors
//
// Anchors name a position by the character next to it rather than by
// offset, so they survive concurrent edits:
//
//	a, _ := e.CreateAnchor(6, engine.BiasRight)
//	// ... edits from any replica ...
//	offset, _ := e.ResolveAnchor(a)
//
// # Multiple Selections
//
// InsertAtSelections types into every selection at once as one undoable
// transaction:
//
//	e.SetSelections(engine.Span{Tail: 0, Head: 0}, engine.Span{Tail: 8, Head: 8})
//	e.InsertAtSelections("// ")
package engine
