package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/encoding"
	"github.com/wingtable/lsmkv/internal/iterator"
)

var _ iterator.Iterator = (*MemTableIterator)(nil)

// MemTable is the in-memory, write-ordered store every Put/Del lands in
// before it is flushed to an SSTable. Entries are kept in a lock-free-read
// SkipList, ordered by internal key (user key ascending, sequence number
// descending, type ascending).
//
// Entry format stored in the SkipList:
//
//	internal_key_len : fixed32
//	internal_key     : internal_key_len bytes (user_key + 9-byte seq/type trailer)
//	value_len        : fixed32
//	value            : value_len bytes
type MemTable struct {
	skiplist *SkipList
	icmp     *dbformat.InternalKeyComparator

	memoryUsage int64

	flushInProgress atomic.Bool
	flushComplete   atomic.Bool

	mu sync.Mutex
}

// NewMemTable creates an empty MemTable. A nil userCmp defaults to bytewise
// comparison of user keys.
func NewMemTable(userCmp Comparator) *MemTable {
	icmp := &dbformat.InternalKeyComparator{UserCompare: userCmp}
	entryCmp := func(a, b []byte) int {
		return icmp.Compare(extractInternalKey(a), extractInternalKey(b))
	}
	return &MemTable{
		skiplist: NewSkipList(entryCmp),
		icmp:     icmp,
	}
}

func encodeEntry(ik []byte, value []byte) []byte {
	entry := make([]byte, 0, 4+len(ik)+4+len(value))
	entry = encoding.AppendFixed32(entry, uint32(len(ik)))
	entry = append(entry, ik...)
	entry = encoding.AppendFixed32(entry, uint32(len(value)))
	entry = append(entry, value...)
	return entry
}

func extractInternalKey(entry []byte) []byte {
	if len(entry) < 4 {
		return nil
	}
	n := encoding.DecodeFixed32(entry)
	if int(n) > len(entry)-4 {
		return nil
	}
	return entry[4 : 4+n]
}

func parseEntry(entry []byte) (ik []byte, value []byte, ok bool) {
	if len(entry) < 4 {
		return nil, nil, false
	}
	keyLen := encoding.DecodeFixed32(entry)
	rest := entry[4:]
	if int(keyLen) > len(rest) {
		return nil, nil, false
	}
	ik = rest[:keyLen]
	rest = rest[keyLen:]
	if len(rest) < 4 {
		return nil, nil, false
	}
	valueLen := encoding.DecodeFixed32(rest)
	rest = rest[4:]
	if int(valueLen) > len(rest) {
		return nil, nil, false
	}
	value = rest[:valueLen]
	return ik, value, true
}

// Put records a live value for key at seq.
func (mt *MemTable) Put(seq dbformat.SequenceNumber, key, value []byte) {
	mt.add(seq, dbformat.TypeValue, key, value)
}

// Del records a tombstone for key at seq.
func (mt *MemTable) Del(seq dbformat.SequenceNumber, key []byte) {
	mt.add(seq, dbformat.TypeDeletion, key, nil)
}

func (mt *MemTable) add(seq dbformat.SequenceNumber, typ dbformat.ValueType, key, value []byte) {
	ik := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{UserKey: key, Seq: seq, Type: typ})
	entry := encodeEntry(ik, value)

	mt.mu.Lock()
	mt.skiplist.Insert(entry)
	mt.mu.Unlock()

	atomic.AddInt64(&mt.memoryUsage, int64(len(entry))+nodeOverheadEstimate)
}

// nodeOverheadEstimate approximates the per-node bookkeeping the skip list
// adds on top of the entry bytes themselves (key slice header + forward
// pointer array at the average node height).
const nodeOverheadEstimate = 64

// Get looks up key as of seq. GetNotFound means no record in this memtable
// covers key; callers fall through to the next layer (an immutable
// memtable, or the on-disk tree).
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte) {
	it := mt.skiplist.NewIterator()
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: key, Seq: seq, Type: dbformat.TypeValue,
	})
	it.Seek(encodeEntry(target, nil))
	if !it.Valid() {
		return dbformat.GetNotFound, nil
	}

	ik, value, ok := parseEntry(it.Key())
	if !ok {
		return dbformat.GetNotFound, nil
	}
	parsed, ok := dbformat.ParseInternalKey(ik)
	if !ok {
		return dbformat.GetNotFound, nil
	}
	if mt.icmp.CompareUserKeys(parsed.UserKey, key) != 0 || parsed.Seq > seq {
		return dbformat.GetNotFound, nil
	}
	if parsed.Type == dbformat.TypeDeletion {
		return dbformat.GetDeleted, nil
	}
	return dbformat.GetFound, value
}

// Count returns the number of entries in the memtable.
func (mt *MemTable) Count() int64 { return mt.skiplist.Count() }

// Empty reports whether the memtable has no entries.
func (mt *MemTable) Empty() bool { return mt.Count() == 0 }

// ApproximateMemoryUsage returns the approximate memory usage in bytes,
// used to decide when a memtable is large enough to rotate to immutable.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return atomic.LoadInt64(&mt.memoryUsage)
}

// FlushInProgress reports whether a flush of this (now-immutable) memtable
// has been handed to the flush thread.
func (mt *MemTable) FlushInProgress() bool { return mt.flushInProgress.Load() }

// SetFlushInProgress marks whether a flush of this memtable is underway.
func (mt *MemTable) SetFlushInProgress(v bool) { mt.flushInProgress.Store(v) }

// FlushComplete reports whether this memtable's flush has finished and it
// can be dropped from the immutable queue.
func (mt *MemTable) FlushComplete() bool { return mt.flushComplete.Load() }

// SetFlushComplete marks whether this memtable's flush has finished.
func (mt *MemTable) SetFlushComplete(v bool) { mt.flushComplete.Store(v) }

// Begin returns an Iterator positioned at the memtable's first entry.
func (mt *MemTable) Begin() *MemTableIterator {
	it := &MemTableIterator{mt: mt, iter: mt.skiplist.NewIterator()}
	it.iter.SeekToFirst()
	it.load()
	return it
}

// MemTableIterator scans a MemTable's entries in internal-key order. It
// implements iterator.Iterator, so it can be merged directly alongside
// SSTable and sorted-run iterators.
type MemTableIterator struct {
	mt   *MemTable
	iter *Iterator

	ik    []byte
	value []byte
	valid bool
}

func (it *MemTableIterator) load() {
	if !it.iter.Valid() {
		it.valid = false
		it.ik, it.value = nil, nil
		return
	}
	ik, value, ok := parseEntry(it.iter.Key())
	it.ik, it.value, it.valid = ik, value, ok
}

// SeekToFirst positions the iterator at the first entry.
func (it *MemTableIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.load()
}

// Seek positions the iterator at the first entry whose internal key is
// greater than or equal to target.
func (it *MemTableIterator) Seek(target []byte) {
	it.iter.Seek(encodeEntry(target, nil))
	it.load()
}

// Valid reports whether the iterator is positioned at an entry.
func (it *MemTableIterator) Valid() bool { return it.valid }

// Key returns the current entry's encoded internal key.
func (it *MemTableIterator) Key() []byte { return it.ik }

// Value returns the current entry's value.
func (it *MemTableIterator) Value() []byte { return it.value }

// Next advances to the next entry.
func (it *MemTableIterator) Next() {
	it.iter.Next()
	it.load()
}

// Error always returns nil: a memtable is pure in-memory state and never
// fails mid-scan.
func (it *MemTableIterator) Error() error { return nil }
