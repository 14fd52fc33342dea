// Package selection provides selections that stay attached to text while
// other replicas edit the document.
//
// A Selection stores buffer anchors, not offsets. Resolving it against a
// snapshot yields a Span of visible byte offsets. A Set holds several
// selections with one primary, merging any that come to overlap.
package selection
