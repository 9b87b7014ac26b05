package merge

import "github.com/hupe1980/lexgo/internal/manifest"

// Task describes one merge: the input segment ids in manifest order.
type Task struct {
	Segments []uint64
}

// Policy determines which segments should be merged.
type Policy interface {
	// Pick selects segments to merge from the live segments, oldest first.
	// Returns nil if no merge is needed.
	Pick(segments []manifest.SegmentInfo) *Task
}

const (
	DefaultMergeFactor     = 10
	DefaultMaxSegmentBytes = 512 << 20
)

// TieredPolicy merges newest segments by size and bounds the segment count.
//
// Starting from the two newest segments it extends with older ones while the
// total stays under MaxSegmentBytes. If more than MergeFactor segments would
// remain afterwards, the smallest remaining segments by doc count are added
// until the count fits.
type TieredPolicy struct {
	MergeFactor     int
	MaxSegmentBytes int64
}

// NewTieredPolicy returns a policy with default bounds.
func NewTieredPolicy() *TieredPolicy {
	return &TieredPolicy{MergeFactor: DefaultMergeFactor, MaxSegmentBytes: DefaultMaxSegmentBytes}
}

func (p *TieredPolicy) Pick(segments []manifest.SegmentInfo) *Task {
	n := len(segments)
	if n < 2 {
		return nil
	}
	factor := p.MergeFactor
	if factor < 1 {
		factor = DefaultMergeFactor
	}
	ceiling := p.MaxSegmentBytes
	if ceiling <= 0 {
		ceiling = DefaultMaxSegmentBytes
	}

	picked := make([]bool, n)
	count := 0
	newest, second := segments[n-1], segments[n-2]
	if newest.Size <= ceiling && second.Size <= ceiling && newest.Size+second.Size <= ceiling {
		picked[n-1], picked[n-2] = true, true
		count = 2
		total := newest.Size + second.Size
		for i := n - 3; i >= 0; i-- {
			if total+segments[i].Size > ceiling {
				break
			}
			total += segments[i].Size
			picked[i] = true
			count++
		}
	}

	remaining := func() int {
		if count < 2 {
			return n
		}
		return n - count + 1
	}
	for remaining() > factor {
		best := -1
		for i := n - 1; i >= 0; i-- {
			if picked[i] {
				continue
			}
			if best < 0 || segments[i].DocCount < segments[best].DocCount {
				best = i
			}
		}
		if best < 0 {
			break
		}
		picked[best] = true
		count++
	}

	if count < 2 {
		return nil
	}
	ids := make([]uint64, 0, count)
	for i, s := range segments {
		if picked[i] {
			ids = append(ids, s.ID)
		}
	}
	return &Task{Segments: ids}
}

// All merges every live segment.
type All struct{}

func (All) Pick(segments []manifest.SegmentInfo) *Task {
	if len(segments) == 0 {
		return nil
	}
	ids := make([]uint64, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	return &Task{Segments: ids}
}
