package domain

import "sort"

// Range is a half-open byte range [Off, Off+Length).
type Range struct {
	Off    int64 `json:"off"`
	Length int64 `json:"length"`
}

func (r Range) End() int64 { return r.Off + r.Length }

// RangeSet is an ordered set of non-overlapping, non-touching spans.
// Adjacent or overlapping spans are merged on insert. The zero value is an
// empty set. RangeSet is not safe for concurrent use.
type RangeSet struct {
	spans []Range
}

// NewRangeSet builds a set from arbitrary spans, coalescing as it goes.
func NewRangeSet(spans ...Range) *RangeSet {
	s := &RangeSet{}
	for _, r := range spans {
		s.Add(r.Off, r.End())
	}
	return s
}

// Add inserts [start, end). Empty or inverted spans are ignored.
func (s *RangeSet) Add(start, end int64) {
	if start < 0 {
		start = 0
	}
	if end <= start {
		return
	}
	// First span whose end reaches start; everything before it stays put.
	i := sort.Search(len(s.spans), func(i int) bool { return s.spans[i].End() >= start })
	j := i
	for j < len(s.spans) && s.spans[j].Off <= end {
		if s.spans[j].Off < start {
			start = s.spans[j].Off
		}
		if e := s.spans[j].End(); e > end {
			end = e
		}
		j++
	}
	merged := Range{Off: start, Length: end - start}
	if i == j {
		s.spans = append(s.spans, Range{})
		copy(s.spans[i+1:], s.spans[i:])
		s.spans[i] = merged
		return
	}
	s.spans[i] = merged
	s.spans = append(s.spans[:i+1], s.spans[j:]...)
}

// Contains reports whether [off, off+length) is fully covered. A zero
// length range is always contained.
func (s *RangeSet) Contains(off, length int64) bool {
	if length <= 0 {
		return true
	}
	if off < 0 {
		return false
	}
	i := sort.Search(len(s.spans), func(i int) bool { return s.spans[i].End() > off })
	if i == len(s.spans) {
		return false
	}
	sp := s.spans[i]
	return sp.Off <= off && sp.End() >= off+length
}

// ResidentFrom returns how many contiguous bytes starting at off are
// covered.
func (s *RangeSet) ResidentFrom(off int64) int64 {
	i := sort.Search(len(s.spans), func(i int) bool { return s.spans[i].End() > off })
	if i == len(s.spans) || s.spans[i].Off > off {
		return 0
	}
	return s.spans[i].End() - off
}

// FirstGap returns the first uncovered offset at or after from.
func (s *RangeSet) FirstGap(from int64) int64 {
	return from + s.ResidentFrom(from)
}

// Spans returns a copy of the coalesced spans in ascending order.
func (s *RangeSet) Spans() []Range {
	out := make([]Range, len(s.spans))
	copy(out, s.spans)
	return out
}

// Covered is the total number of resident bytes.
func (s *RangeSet) Covered() int64 {
	var n int64
	for _, sp := range s.spans {
		n += sp.Length
	}
	return n
}

func (s *RangeSet) Len() int { return len(s.spans) }
