// Package policy runs server-side edit policies written in Lua.
//
// A policy script defines a global admit function, called once for every
// operation a peer sends:
//
//	function admit(doc, op)
//	    if doc == "announcements" then
//	        return false, "document is read-only"
//	    end
//	    if op.kind == "insert" and #op.text > 4096 then
//	        return false, "insert too large"
//	    end
//	    return true
//	end
//
// The op table has the fields replica, counter, lamport and kind, plus text
// for inserts and ranges (the number of deleted ranges) and bytes (the number
// of bytes deleted) for deletes.
//
// Scripts run with only the base, table, string and math libraries. Each
// call is bounded by a timeout.
package policy
