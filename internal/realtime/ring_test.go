package realtime

import "testing"

func TestRingEvictsOldest(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	if r.len() != 3 {
		t.Fatalf("len = %d", r.len())
	}
	got := r.last(0)
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("last = %v", got)
		}
	}
	if tail := r.last(2); tail[0] != 4 || tail[1] != 5 {
		t.Fatalf("last(2) = %v", tail)
	}
}

func TestRingPartialFill(t *testing.T) {
	r := newRing[string](4)
	r.push("a")
	r.push("b")
	got := r.last(10)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("last = %v", got)
	}
}
