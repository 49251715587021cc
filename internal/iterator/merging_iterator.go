// Package iterator provides the polymorphic iterator interface shared by
// every layer that produces ordered internal-key/value pairs, and
// MergingIterator, which merges several such iterators into one ordered
// stream using a min-heap.
package iterator

import (
	"container/heap"

	"github.com/wingtable/lsmkv/internal/dbformat"
)

// Iterator is the interface every internal-key-ordered scanner implements:
// memtable iterators, SSTable iterators, sorted-run iterators, and
// MergingIterator itself.
type Iterator interface {
	// SeekToFirst positions the iterator at its first entry.
	SeekToFirst()

	// Seek positions the iterator at the first entry whose internal key is
	// greater than or equal to target, an already-encoded internal key.
	Seek(target []byte)

	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// Key returns the current entry's encoded internal key.
	Key() []byte

	// Value returns the current entry's value.
	Value() []byte

	// Next advances to the next entry.
	Next()

	// Error returns the first I/O error encountered, if any. Most in-memory
	// iterators always return nil; SSTable-backed iterators use it to
	// surface read failures that Valid/Next can't otherwise report.
	Error() error
}

// MergingIterator merges several sorted Iterators into one sorted stream
// using a min-heap over their current keys. It backs both compaction
// (merging input SSTables) and read-path iteration (merging the memtable,
// immutable memtables, and on-disk runs into one view).
type MergingIterator struct {
	children   []Iterator
	comparator func(a, b []byte) int
	minHeap    *iterHeap
	current    int // index into children of the current smallest; -1 if invalid
	err        error
}

// NewMergingIterator creates a MergingIterator over children. A nil
// comparator defaults to internal-key order.
func NewMergingIterator(children []Iterator, comparator func(a, b []byte) int) *MergingIterator {
	if comparator == nil {
		comparator = dbformat.CompareInternalKeys
	}
	mi := &MergingIterator{
		children:   children,
		comparator: comparator,
		current:    -1,
	}
	mi.minHeap = &iterHeap{
		items: make([]heapItem, 0, len(children)),
		cmp:   comparator,
	}
	return mi
}

// Valid reports whether the iterator is positioned at an entry.
func (mi *MergingIterator) Valid() bool {
	return mi.current >= 0 && mi.current < len(mi.children)
}

// Key returns the current entry's encoded internal key.
func (mi *MergingIterator) Key() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Key()
}

// Value returns the current entry's value.
func (mi *MergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Value()
}

// SeekToFirst positions the iterator at the smallest key across all
// children.
func (mi *MergingIterator) SeekToFirst() {
	mi.err = nil
	mi.minHeap.items = mi.minHeap.items[:0]

	for i, child := range mi.children {
		child.SeekToFirst()
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, heapItem{index: i, key: child.Key()})
		}
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
	}

	heap.Init(mi.minHeap)
	mi.findSmallest()
}

// Seek positions the iterator at the first entry across all children whose
// key is greater than or equal to target.
func (mi *MergingIterator) Seek(target []byte) {
	mi.err = nil
	mi.minHeap.items = mi.minHeap.items[:0]

	for i, child := range mi.children {
		child.Seek(target)
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, heapItem{index: i, key: child.Key()})
		}
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
	}

	heap.Init(mi.minHeap)
	mi.findSmallest()
}

// Next advances to the next entry.
func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}

	mi.children[mi.current].Next()

	if mi.children[mi.current].Valid() {
		mi.minHeap.items[0].key = mi.children[mi.current].Key()
		heap.Fix(mi.minHeap, 0)
	} else {
		heap.Pop(mi.minHeap)
	}

	if err := mi.children[mi.current].Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}

	mi.findSmallest()
}

// Error returns the first I/O error encountered across any child.
func (mi *MergingIterator) Error() error {
	return mi.err
}

// findSmallest sets current to the child holding the heap's minimum key.
func (mi *MergingIterator) findSmallest() {
	if mi.minHeap.Len() == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.minHeap.items[0].index
}

// -----------------------------------------------------------------------------
// Min-heap over children's current keys
// -----------------------------------------------------------------------------

type heapItem struct {
	index int
	key   []byte
}

type iterHeap struct {
	items []heapItem
	cmp   func(a, b []byte) int
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	return h.cmp(h.items[i].key, h.items[j].key) < 0
}

func (h *iterHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *iterHeap) Push(x any) {
	item, ok := x.(heapItem)
	if !ok {
		return
	}
	h.items = append(h.items, item)
}

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
