package domain

import (
	"reflect"
	"testing"
)

func TestRangeSetAddCoalesces(t *testing.T) {
	tests := []struct {
		name string
		adds []Range
		want []Range
	}{
		{
			name: "disjoint stays ordered",
			adds: []Range{{Off: 100, Length: 10}, {Off: 0, Length: 10}},
			want: []Range{{Off: 0, Length: 10}, {Off: 100, Length: 10}},
		},
		{
			name: "touching spans merge",
			adds: []Range{{Off: 0, Length: 10}, {Off: 10, Length: 10}},
			want: []Range{{Off: 0, Length: 20}},
		},
		{
			name: "overlap merges",
			adds: []Range{{Off: 0, Length: 10}, {Off: 5, Length: 10}},
			want: []Range{{Off: 0, Length: 15}},
		},
		{
			name: "bridge swallows several spans",
			adds: []Range{{Off: 0, Length: 5}, {Off: 10, Length: 5}, {Off: 20, Length: 5}, {Off: 3, Length: 20}},
			want: []Range{{Off: 0, Length: 25}},
		},
		{
			name: "contained span is a no-op",
			adds: []Range{{Off: 0, Length: 100}, {Off: 10, Length: 10}},
			want: []Range{{Off: 0, Length: 100}},
		},
		{
			name: "empty span ignored",
			adds: []Range{{Off: 5, Length: 0}},
			want: []Range{},
		},
		{
			name: "insert in the middle",
			adds: []Range{{Off: 0, Length: 5}, {Off: 50, Length: 5}, {Off: 20, Length: 5}},
			want: []Range{{Off: 0, Length: 5}, {Off: 20, Length: 5}, {Off: 50, Length: 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRangeSet(tt.adds...)
			got := s.Spans()
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("spans = %v, want %v", got, tt.want)
			}
			assertCoalesced(t, got)
		})
	}
}

func TestRangeSetContains(t *testing.T) {
	s := NewRangeSet(Range{Off: 0, Length: 1000}, Range{Off: 2000, Length: 100})

	tests := []struct {
		off, length int64
		want        bool
	}{
		{0, 1000, true},
		{500, 100, true},
		{999, 1, true},
		{999, 2, false},
		{1000, 1, false},
		{2000, 100, true},
		{2050, 60, false},
		{0, 2100, false},
		{5000, 0, true},
	}
	for _, tt := range tests {
		if got := s.Contains(tt.off, tt.length); got != tt.want {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.off, tt.length, got, tt.want)
		}
	}
}

func TestRangeSetFirstGap(t *testing.T) {
	s := NewRangeSet(Range{Off: 0, Length: 1000}, Range{Off: 2000, Length: 100})
	if got := s.FirstGap(0); got != 1000 {
		t.Fatalf("FirstGap(0) = %d, want 1000", got)
	}
	if got := s.FirstGap(1500); got != 1500 {
		t.Fatalf("FirstGap(1500) = %d, want 1500", got)
	}
	if got := s.ResidentFrom(2050); got != 50 {
		t.Fatalf("ResidentFrom(2050) = %d, want 50", got)
	}
	if got := s.Covered(); got != 1100 {
		t.Fatalf("Covered = %d, want 1100", got)
	}
}

func TestRangeSetStaysCoalescedUnderChurn(t *testing.T) {
	s := &RangeSet{}
	// Deterministic pseudo-random writes in 64-byte cells.
	x := uint32(7)
	for i := 0; i < 500; i++ {
		x = x*1103515245 + 12345
		off := int64(x%200) * 64
		s.Add(off, off+64*int64(1+x%3))
		assertCoalesced(t, s.Spans())
	}
}

func assertCoalesced(t *testing.T, spans []Range) {
	t.Helper()
	for i := 1; i < len(spans); i++ {
		if spans[i-1].End() >= spans[i].Off {
			t.Fatalf("spans %v and %v overlap or touch", spans[i-1], spans[i])
		}
	}
	for _, sp := range spans {
		if sp.Length <= 0 {
			t.Fatalf("empty span %v", sp)
		}
	}
}
