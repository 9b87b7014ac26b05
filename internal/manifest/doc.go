// Package manifest records which segments of a collection are live together
// with the field registry.
//
// A [Manifest] is mutated on a private clone and published with
// [Store.Flush], which writes MANIFEST.tmp, fsyncs it, keeps the previous
// generation as MANIFEST.bak and renames the new file into place. A crash at
// any point leaves either the old or the new generation readable, never a
// partial one; [Store.Load] falls back to the backup when MANIFEST is
// missing or fails its checksum.
//
// Field ordinals and manifest versions only grow.
package manifest
