package events

import (
	"reflect"
	"testing"
)

func TestRingKeepsNewestValues(t *testing.T) {
	ring := NewRing[int](3)
	for _, v := range []int{1, 2, 3, 4, 5} {
		ring.Add(v)
	}

	if got := ring.Values(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("expected [3 4 5], got %v", got)
	}
	if got := ring.Last(2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("expected [4 5], got %v", got)
	}
}

func TestRingPartiallyFilled(t *testing.T) {
	ring := NewRing[int](5)
	ring.Add(1)

	if ring.Len() != 1 {
		t.Fatalf("expected len 1, got %d", ring.Len())
	}
	if got := ring.Last(10); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("expected [1], got %v", got)
	}
}
