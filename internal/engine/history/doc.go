// Package history provides transactional undo and redo for a replica's own
// edits.
//
// Edits are recorded by operation id. Edits recorded between BeginGroup and
// EndGroup form one Transaction; edits recorded outside a group become
// single-edit transactions. Undo hands a transaction's edits to a Reverter,
// which issues fresh operations with the opposite visible effect. Those
// operations become the redo entry, and redoing reverts them in turn, so
// undo and redo are ordinary replicated edits that other replicas simply
// apply.
//
//	h := history.New(1000)
//	h.BeginGroup("rename")
//	h.Record(op1.ID, op2.ID)
//	h.EndGroup()
//
//	h.Undo(reverter) // both edits revert together
package history
