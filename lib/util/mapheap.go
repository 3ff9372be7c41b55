package util

import (
	"container/heap"
)

// heapItem is an entry of a MapHeap
type heapItem[K comparable] struct {
	Key      K
	Priority int64
	index    int // maintained by the heap package
}

// MapHeap is a min-heap by priority with O(1) access by key. Adding a key that
// is already queued updates its priority.
//
// It is used for expiry queues: the priority is the expiry time in unix nanos,
// the key identifies the expiring entry.
//
// MapHeap is not safe for concurrent use.
type MapHeap[K comparable] struct {
	items    []*heapItem[K]
	itemsMap map[K]*heapItem[K]
}

// NewMapHeap creates an empty heap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*heapItem[K], 0),
		itemsMap: make(map[K]*heapItem[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (h *MapHeap[K]) Len() int { return len(h.items) }

// Less compares items by priority (part of heap.Interface)
func (h *MapHeap[K]) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap[K]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface), use AddItem instead
func (h *MapHeap[K]) Push(x interface{}) {
	it := x.(*heapItem[K])
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes and returns the last item (part of heap.Interface), use PopBefore instead
func (h *MapHeap[K]) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem adds key with priority or updates the priority of a queued key
func (h *MapHeap[K]) AddItem(key K, priority int64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &heapItem[K]{Key: key, Priority: priority})
}

// RemoveByKey removes key and returns its priority
func (h *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the key with the lowest priority without removing it
func (h *MapHeap[K]) Peek() (key K, priority int64, ok bool) {
	if len(h.items) == 0 {
		return key, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// PopBefore removes and returns all keys with a priority lower or equal to
// limit, lowest priority first
func (h *MapHeap[K]) PopBefore(limit int64) []K {
	var keys []K
	for len(h.items) > 0 && h.items[0].Priority <= limit {
		keys = append(keys, heap.Pop(h).(*heapItem[K]).Key)
	}
	return keys
}

// Contains checks if a key is queued
func (h *MapHeap[K]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}
