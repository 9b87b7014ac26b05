// Package segment implements the on-disk codec of one immutable segment.
//
// A segment with id N is made of four files in one backing directory:
//
//   - N.idx: postings blocks followed by the sorted term dictionary
//   - N.doc: compressed stored rows (id, payload, snippet)
//   - N.srt: fixed-width, docID-addressed columns (values and norms)
//   - N.del: roaring bitmap of deleted docIDs
//
// A [Writer] produces all four files and fsyncs them in Finish. A [Reader]
// maps .idx, .doc and .srt read-only and opens them as a unit: any missing or
// malformed file makes Open fail with ErrCorrupt. An absent .del means no
// deletions. The deletion bitmap is the only mutable part; readers reload it
// when its modification time changes.
//
// # Postings block
//
//	[skip table: (lastDoc u32, docOff u32, posOff u32) every 64 postings]
//	[doc stream: uvarint docDelta, uvarint freq]
//	[pos stream: freq uvarint position deltas per posting]
package segment
