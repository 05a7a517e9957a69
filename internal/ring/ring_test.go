package ring

import (
	"reflect"
	"testing"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		if b.Push(i) {
			t.Fatalf("Push(%d) evicted before buffer was full", i)
		}
	}
	if !b.Push(4) {
		t.Error("Push(4) should evict")
	}
	if got, want := b.Items(), []int{2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("Items() = %v, want %v", got, want)
	}
	if b.Len() != 3 || b.Cap() != 3 {
		t.Errorf("Len/Cap = %d/%d, want 3/3", b.Len(), b.Cap())
	}
}

func TestBufferLast(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 7; i++ {
		b.Push(i)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{1, []int{7}},
		{3, []int{5, 6, 7}},
		{10, []int{3, 4, 5, 6, 7}},
	}
	for _, tt := range tests {
		if got := b.Last(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Last(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestBufferRetain(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 6; i++ {
		b.Push(i)
	}

	removed := b.Retain(func(v int) bool { return v%2 == 0 })
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if got, want := b.Items(), []int{4, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("Items() = %v, want %v", got, want)
	}

	b.Push(7)
	b.Push(8)
	b.Push(9)
	if got, want := b.Items(), []int{6, 7, 8, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("Items() after refill = %v, want %v", got, want)
	}
}
