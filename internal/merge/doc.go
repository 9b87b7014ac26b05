// Package merge folds segments together.
//
// A Policy picks the segments to merge; the Merger performs a k-way merge of
// their dictionaries, drops deleted documents, remaps docIDs to a contiguous
// range and installs the output in the manifest under the merge lock.
package merge
