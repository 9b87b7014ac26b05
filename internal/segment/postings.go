package segment

import (
	"encoding/binary"
	"sort"
)

// encodePostings builds one postings block. withPositions controls whether a
// positions stream is written.
func encodePostings(dst []byte, postings []Posting, withPositions bool) (block []byte, skipCount, docLen, posLen int) {
	var docs, pos []byte
	var skips []byte
	var last uint32
	for i, p := range postings {
		if i > 0 && i%SkipInterval == 0 {
			skips = binary.LittleEndian.AppendUint32(skips, last)
			skips = binary.LittleEndian.AppendUint32(skips, uint32(len(docs)))
			skips = binary.LittleEndian.AppendUint32(skips, uint32(len(pos)))
		}
		delta := p.Doc
		if i > 0 {
			delta = p.Doc - last
		}
		docs = binary.AppendUvarint(docs, uint64(delta))
		docs = binary.AppendUvarint(docs, uint64(p.Freq))
		if withPositions {
			var prev uint32
			for j := 0; j < int(p.Freq); j++ {
				var v uint32
				if j < len(p.Positions) {
					v = p.Positions[j]
				}
				pos = binary.AppendUvarint(pos, uint64(v-prev))
				prev = v
			}
		}
		last = p.Doc
	}
	dst = append(dst, skips...)
	dst = append(dst, docs...)
	dst = append(dst, pos...)
	return dst, len(skips) / skipEntrySize, len(docs), len(pos)
}

// Postings iterates the postings of one term in docID order.
type Postings struct {
	skips []byte
	docs  []byte
	pos   []byte
	df    uint32

	i       uint32 // index of the current posting, df before the first Next
	started bool
	doc     uint32
	freq    uint32
	docOff  int
	posOff  int
	posRead bool
	err     bool
}

func newPostings(skips, docs, pos []byte, df uint32) *Postings {
	return &Postings{skips: skips, docs: docs, pos: pos, df: df}
}

// DocFreq is the number of postings, deleted documents included.
func (p *Postings) DocFreq() uint32 { return p.df }

// HasPositions reports whether positions were indexed.
func (p *Postings) HasPositions() bool { return len(p.pos) > 0 }

// Doc is the current document.
func (p *Postings) Doc() uint32 { return p.doc }

// Freq is the term frequency in the current document.
func (p *Postings) Freq() uint32 { return p.freq }

// Next moves to the next posting.
func (p *Postings) Next() bool {
	if p.err {
		return false
	}
	next := uint32(0)
	if p.started {
		next = p.i + 1
	}
	if next >= p.df {
		p.i = p.df
		p.started = true
		return false
	}
	p.skipUnreadPositions()

	delta, n := binary.Uvarint(p.docs[p.docOff:])
	if n <= 0 {
		p.err = true
		return false
	}
	p.docOff += n
	freq, n := binary.Uvarint(p.docs[p.docOff:])
	if n <= 0 {
		p.err = true
		return false
	}
	p.docOff += n

	if p.started {
		p.doc += uint32(delta)
	} else {
		p.doc = uint32(delta)
	}
	p.freq = uint32(freq)
	p.i = next
	p.started = true
	p.posRead = false
	return true
}

func (p *Postings) skipUnreadPositions() {
	if !p.started || p.posRead || len(p.pos) == 0 || p.i >= p.df {
		return
	}
	for j := uint32(0); j < p.freq; j++ {
		_, n := binary.Uvarint(p.pos[p.posOff:])
		if n <= 0 {
			p.err = true
			return
		}
		p.posOff += n
	}
	p.posRead = true
}

// Positions appends the positions of the current document to dst.
// It may be called once per posting.
func (p *Postings) Positions(dst []uint32) []uint32 {
	if len(p.pos) == 0 || p.posRead || !p.started || p.i >= p.df {
		return dst
	}
	var prev uint32
	for j := uint32(0); j < p.freq; j++ {
		v, n := binary.Uvarint(p.pos[p.posOff:])
		if n <= 0 {
			p.err = true
			break
		}
		p.posOff += n
		prev += uint32(v)
		dst = append(dst, prev)
	}
	p.posRead = true
	return dst
}

// Advance moves to the first posting with Doc >= target.
func (p *Postings) Advance(target uint32) bool {
	if p.started && p.i < p.df && p.doc >= target {
		return true
	}
	if n := len(p.skips) / skipEntrySize; n > 0 {
		// Largest skip whose preceding doc is below target.
		k := sort.Search(n, func(k int) bool {
			return binary.LittleEndian.Uint32(p.skips[k*skipEntrySize:]) >= target
		}) - 1
		if k >= 0 {
			chunk := uint32(k+1) * SkipInterval
			if !p.started || p.i+1 < chunk {
				e := p.skips[k*skipEntrySize:]
				p.doc = binary.LittleEndian.Uint32(e)
				p.docOff = int(binary.LittleEndian.Uint32(e[4:]))
				p.posOff = int(binary.LittleEndian.Uint32(e[8:]))
				p.i = chunk - 1
				p.started = true
				p.posRead = true
			}
		}
	}
	for p.Next() {
		if p.doc >= target {
			return true
		}
	}
	return false
}

// Err reports whether decoding hit malformed data.
func (p *Postings) Err() bool { return p.err }
