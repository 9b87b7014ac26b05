package eval

import "github.com/RoaringBitmap/roaring/v2"

// Outcome is the tri-state result of evaluating a subtree.
type Outcome uint8

const (
	// NoMatch means the subtree matched nothing.
	NoMatch Outcome = iota
	// Matched means the subtree matched at least one document.
	Matched
	// Stopword means the subtree is neutral: operators ignore it.
	Stopword
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Stopword:
		return "stopword"
	default:
		return "nomatch"
	}
}

// result is the current hit set of one evaluation step.
type result struct {
	out  Outcome
	docs *roaring.Bitmap
}

func matched(docs *roaring.Bitmap) result {
	if docs == nil || docs.IsEmpty() {
		return result{out: NoMatch}
	}
	return result{out: Matched, docs: docs}
}

// Count is the number of matched documents.
func (r result) Count() uint64 {
	if r.out != Matched {
		return 0
	}
	return r.docs.GetCardinality()
}
