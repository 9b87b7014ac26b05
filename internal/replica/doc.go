// Package replica copies a collection to a blob store and back.
//
// An export uploads every file of the live segments, then an index listing
// each file with its size and CRC32C, and finally the manifest. The manifest
// is the commit point: a reader of the blob store only trusts the files the
// last uploaded manifest references. Blobs of segments that dropped out of
// the manifest are removed afterwards.
//
// Layout in the blob store:
//
//	MANIFEST                 binary manifest, uploaded last
//	EXPORT-<version>.yaml    file index of that manifest version
//	segments/<id>.<ext>      segment files
//
// A restore downloads into the local directories of the collection, reusing
// segments already present with matching sizes, verifies checksums and
// installs the manifest through the regular flush so running searchers pick
// it up on their next refresh.
package replica
