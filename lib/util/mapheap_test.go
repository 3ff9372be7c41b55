package util

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapHeapOrder(t *testing.T) {
	h := NewMapHeap[string]()
	h.AddItem("b", 200)
	h.AddItem("c", 50)
	h.AddItem("a", 100)

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}

	key, priority, ok := h.Peek()
	if !ok || key != "c" || priority != 50 {
		t.Errorf("Peek() = (%s, %d, %v), want (c, 50, true)", key, priority, ok)
	}

	if diff := cmp.Diff([]string{"c", "a", "b"}, h.PopBefore(1000)); diff != "" {
		t.Errorf("PopBefore() mismatch (-want +got):\n%s", diff)
	}
	if h.Len() != 0 {
		t.Errorf("Len() after PopBefore = %d, want 0", h.Len())
	}
}

func TestMapHeapUpdate(t *testing.T) {
	h := NewMapHeap[string]()
	h.AddItem("a", 100)
	h.AddItem("b", 200)

	// moving a behind b
	h.AddItem("a", 300)
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after update", h.Len())
	}
	if key, _, _ := h.Peek(); key != "b" {
		t.Errorf("Peek() = %s, want b", key)
	}
}

func TestMapHeapPopBefore(t *testing.T) {
	h := NewMapHeap[int]()
	for i := 1; i <= 10; i++ {
		h.AddItem(i, int64(i*10))
	}

	tests := []struct {
		name  string
		limit int64
		want  []int
	}{
		{"nothing due", 5, nil},
		{"inclusive limit", 30, []int{1, 2, 3}},
		{"already popped", 30, nil},
		{"rest", 1000, []int{4, 5, 6, 7, 8, 9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, h.PopBefore(tt.limit)); diff != "" {
				t.Errorf("PopBefore(%d) mismatch (-want +got):\n%s", tt.limit, diff)
			}
		})
	}
}

func TestMapHeapRemove(t *testing.T) {
	h := NewMapHeap[string]()
	h.AddItem("a", 10)
	h.AddItem("b", 20)
	h.AddItem("c", 30)

	if p, ok := h.RemoveByKey("a"); !ok || p != 10 {
		t.Errorf("RemoveByKey(a) = (%d, %v), want (10, true)", p, ok)
	}
	if _, ok := h.RemoveByKey("a"); ok {
		t.Errorf("RemoveByKey(a) twice = true, want false")
	}
	if h.Contains("a") || !h.Contains("b") {
		t.Errorf("Contains() after remove is wrong")
	}
	if key, _, _ := h.Peek(); key != "b" {
		t.Errorf("Peek() = %s, want b", key)
	}

	var empty MapHeap[string]
	if _, _, ok := empty.Peek(); ok {
		t.Errorf("Peek() on empty heap = true, want false")
	}
}
