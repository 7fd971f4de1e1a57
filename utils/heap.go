package utils

import "golang.org/x/exp/constraints"

// Item is a heap entry: a payload ordered by its priority key.
type Item[K constraints.Ordered, V any] struct {
	Key   K
	Value V
}

// KeyedHeap is a min-heap of payloads ordered by a key.
type KeyedHeap[K constraints.Ordered, V any] struct {
	buf []Item[K, V]
}

func (h *KeyedHeap[K, V]) Len() int {
	return len(h.buf)
}

// Push pushes the element onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *KeyedHeap[K, V]) Push(key K, value V) {
	h.buf = append(h.buf, Item[K, V]{Key: key, Value: value})
	h.up(h.Len() - 1)
}

func (h *KeyedHeap[K, V]) swap(i, j int) {
	h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
}

// Peek returns the minimum element without removing it.
func (h *KeyedHeap[K, V]) Peek() (min Item[K, V], ok bool) {
	if len(h.buf) == 0 {
		return
	}
	return h.buf[0], true
}

// Pop removes and returns the minimum element from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *KeyedHeap[K, V]) Pop() (min Item[K, V]) {
	min = h.buf[0]
	n := h.Len() - 1
	h.swap(0, n)
	h.down(0, n)
	h.buf = h.buf[0:n]
	return
}

func (h KeyedHeap[K, V]) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !(h.buf[j].Key < h.buf[i].Key) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		j = i
	}
}

func (h KeyedHeap[K, V]) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.buf[j2].Key < h.buf[j1].Key {
			j = j2 // = 2*i + 2  // right child
		}
		if !(h.buf[j].Key < h.buf[i].Key) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		i = j
	}
	return i > i0
}
