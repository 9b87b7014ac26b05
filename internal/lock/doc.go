// Package lock implements the advisory, file-based coordination used between
// processes sharing a collection.
//
// A [Manager] owns the named marker files (index.lock, merge.lock,
// replicate.lock, duplicate.lock) whose content is the owner's pid. A lock
// whose owner is no longer alive is reclaimed. Locks are cooperative: nothing
// stops a process that ignores them.
//
// A [Registry] publishes the segment ids a process currently has open in a
// using-<pid> file so that other processes never delete files still mapped by
// a live reader.
package lock
