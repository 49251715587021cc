// Package lsmtree assembles SSTables into the read path's tree shape: a
// SortedRun groups non-overlapping tables, a Level groups runs (sharing one
// compaction strategy's notion of "how many runs before this level
// triggers"), a Version is the full on-disk tree at a point in time, and a
// SuperVersion layers the mutable memtable and immutable memtable queue on
// top of a Version to answer reads without holding any lock for the
// duration of the read.
package lsmtree

import (
	"bytes"
	"sync/atomic"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/iterator"
	"github.com/wingtable/lsmkv/internal/memtable"
	"github.com/wingtable/lsmkv/internal/sstable"
)

// SortedRun is an ordered, non-overlapping group of SSTables: the unit a
// level's compaction strategy reasons about as a single sorted stream.
type SortedRun struct {
	tables []*sstable.Table
	size   uint64

	compactionInProgress atomic.Bool
	removeTag            atomic.Bool
}

// CompactionInProgress reports whether a compaction job has already
// claimed this run as an input.
func (r *SortedRun) CompactionInProgress() bool { return r.compactionInProgress.Load() }

// SetCompactionInProgress marks or clears this run as claimed by a running
// compaction job.
func (r *SortedRun) SetCompactionInProgress(v bool) { r.compactionInProgress.Store(v) }

// RemoveTag reports whether this run has been superseded by a finished
// compaction and is pending removal.
func (r *SortedRun) RemoveTag() bool { return r.removeTag.Load() }

// SetRemoveTag marks or clears this run as superseded and pending removal.
func (r *SortedRun) SetRemoveTag(v bool) { r.removeTag.Store(v) }

// NewSortedRun groups tables, which must already be sorted and
// non-overlapping by key range, into one run. Size is tracked in bytes,
// summed from each table's on-disk file size, since compaction policies
// compare run and level sizes against byte thresholds (see
// compaction.Picker). A table whose size can't be stat'd contributes 0;
// this can only happen to a table already open for reading, so it does
// not affect correctness, only the precision of a size-triggered pick.
func NewSortedRun(tables []*sstable.Table) *SortedRun {
	var size uint64
	for _, t := range tables {
		if n, err := t.Size(); err == nil {
			size += n
		}
	}
	return &SortedRun{tables: tables, size: size}
}

// SmallestKey returns the smallest internal key across the run's tables.
func (r *SortedRun) SmallestKey() []byte {
	if len(r.tables) == 0 {
		return nil
	}
	return r.tables[0].SmallestKey()
}

// LargestKey returns the largest internal key across the run's tables.
func (r *SortedRun) LargestKey() []byte {
	if len(r.tables) == 0 {
		return nil
	}
	return r.tables[len(r.tables)-1].LargestKey()
}

// SSTCount returns the number of tables in the run.
func (r *SortedRun) SSTCount() int { return len(r.tables) }

// Size returns the run's total on-disk size in bytes.
func (r *SortedRun) Size() uint64 { return r.size }

// Tables returns the run's tables in ascending key order.
func (r *SortedRun) Tables() []*sstable.Table { return r.tables }

// BlockSize returns the block size the run's tables were built with, or 0
// for an empty run.
func (r *SortedRun) BlockSize() int {
	if len(r.tables) == 0 {
		return 0
	}
	return r.tables[0].BlockSize()
}

// KeyCount returns the total number of entries across the run's tables,
// used by compaction pickers estimating scan cost.
func (r *SortedRun) KeyCount() int {
	var n int
	for _, t := range r.tables {
		n += t.KeyCount()
	}
	return n
}

// findTable returns the index of the first table whose largest key is
// greater than or equal to target, via binary search over the run's
// non-overlapping tables.
func (r *SortedRun) findTable(target []byte) int {
	lo, hi := 0, len(r.tables)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.CompareInternalKeys(r.tables[mid].LargestKey(), target) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Get looks up userKey as of seq within this run.
func (r *SortedRun) Get(userKey []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte, error) {
	if len(r.tables) == 0 {
		return dbformat.GetNotFound, nil, nil
	}
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: userKey, Seq: seq, Type: dbformat.TypeValue,
	})
	if bytes.Compare(userKey, dbformat.ExtractUserKey(r.SmallestKey())) < 0 ||
		dbformat.CompareInternalKeys(target, r.LargestKey()) > 0 {
		return dbformat.GetNotFound, nil, nil
	}
	idx := r.findTable(target)
	return r.tables[idx].Get(userKey, seq)
}

// Begin returns a SortedRunIterator positioned at the run's first entry.
func (r *SortedRun) Begin() *SortedRunIterator {
	it := &SortedRunIterator{run: r}
	it.seekToTable(0)
	if it.tableIt != nil {
		it.tableIt.SeekToFirst()
	}
	return it
}

// Seek returns a SortedRunIterator positioned at the first entry with
// internal key >= (userKey, seq, TypeValue).
func (r *SortedRun) Seek(userKey []byte, seq dbformat.SequenceNumber) *SortedRunIterator {
	it := &SortedRunIterator{run: r}
	if len(r.tables) == 0 {
		it.tableID = 0
		return it
	}
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: userKey, Seq: seq, Type: dbformat.TypeValue,
	})
	idx := r.findTable(target)
	it.seekToTable(idx)
	if it.tableIt != nil {
		it.tableIt.Seek(userKey, seq)
	}
	return it
}

// SortedRunIterator scans a SortedRun's entries across its member tables in
// ascending internal-key order. It implements iterator.Iterator.
type SortedRunIterator struct {
	run     *SortedRun
	tableID int
	tableIt *sstable.Iterator
}

var _ iterator.Iterator = (*SortedRunIterator)(nil)

func (it *SortedRunIterator) seekToTable(idx int) {
	it.tableID = idx
	if idx < 0 || idx >= len(it.run.tables) {
		it.tableIt = nil
		return
	}
	it.tableIt = it.run.tables[idx].Begin()
}

// SeekToFirst positions the iterator at the run's first entry.
func (it *SortedRunIterator) SeekToFirst() {
	it.seekToTable(0)
	if it.tableIt != nil {
		it.tableIt.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry >= target, an encoded
// internal key.
func (it *SortedRunIterator) Seek(target []byte) {
	if len(it.run.tables) == 0 {
		it.tableID = 0
		it.tableIt = nil
		return
	}
	idx := it.run.findTable(target)
	it.seekToTable(idx)
	if it.tableIt != nil {
		parsed, ok := dbformat.ParseInternalKey(target)
		if ok {
			it.tableIt.Seek(parsed.UserKey, parsed.Seq)
		}
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *SortedRunIterator) Valid() bool {
	return it.tableID < len(it.run.tables) && it.tableIt != nil && it.tableIt.Valid()
}

// Key returns the current entry's encoded internal key.
func (it *SortedRunIterator) Key() []byte { return it.tableIt.Key() }

// Value returns the current entry's value.
func (it *SortedRunIterator) Value() []byte { return it.tableIt.Value() }

// Next advances to the next entry, rolling into the following table when
// the current one is exhausted.
func (it *SortedRunIterator) Next() {
	if !it.Valid() {
		return
	}
	it.tableIt.Next()
	if !it.tableIt.Valid() {
		it.seekToTable(it.tableID + 1)
		if it.tableIt != nil {
			it.tableIt.SeekToFirst()
		}
	}
}

// Error returns the first I/O error encountered while scanning the current
// table, if any.
func (it *SortedRunIterator) Error() error {
	if it.tableIt == nil {
		return nil
	}
	return it.tableIt.Err()
}

// Level holds every SortedRun compacted into one level of the tree. Runs
// are appended newest-last; reads consult them newest-first, since any
// level can hold more than one run between compactions and its runs may
// overlap in key range.
type Level struct {
	ID   int
	runs []*SortedRun
	size uint64
}

// NewLevel creates an empty level at the given index.
func NewLevel(id int) *Level {
	return &Level{ID: id}
}

// Append adds runs to the level, newest-last.
func (lv *Level) Append(runs ...*SortedRun) {
	for _, r := range runs {
		lv.size += r.Size()
	}
	lv.runs = append(lv.runs, runs...)
}

// Runs returns the level's runs in append order (oldest first).
func (lv *Level) Runs() []*SortedRun { return lv.runs }

// Size returns the level's total on-disk size in bytes, summed across its
// runs.
func (lv *Level) Size() uint64 { return lv.size }

// Get looks up userKey as of seq, checking runs newest-first.
func (lv *Level) Get(userKey []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte, error) {
	for i := len(lv.runs) - 1; i >= 0; i-- {
		res, val, err := lv.runs[i].Get(userKey, seq)
		if err != nil {
			return dbformat.GetNotFound, nil, err
		}
		if res != dbformat.GetNotFound {
			return res, val, nil
		}
	}
	return dbformat.GetNotFound, nil, nil
}

// Version is the complete on-disk tree at a point in time: every level,
// indexed from 0 (newest, smallest) upward.
type Version struct {
	levels []*Level
}

// NewVersion creates an empty Version.
func NewVersion() *Version { return &Version{} }

// Levels returns the version's levels, index 0 first.
func (v *Version) Levels() []*Level { return v.levels }

// Append adds runs to levelID, growing the level slice if needed.
func (v *Version) Append(levelID int, runs ...*SortedRun) {
	for len(v.levels) <= levelID {
		v.levels = append(v.levels, NewLevel(len(v.levels)))
	}
	v.levels[levelID].Append(runs...)
}

// Get looks up userKey as of seq, checking levels in order from 0 upward
// and returning the first non-NotFound result.
func (v *Version) Get(userKey []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte, error) {
	for _, lv := range v.levels {
		res, val, err := lv.Get(userKey, seq)
		if err != nil {
			return dbformat.GetNotFound, nil, err
		}
		if res != dbformat.GetNotFound {
			return res, val, nil
		}
	}
	return dbformat.GetNotFound, nil, nil
}

// SuperVersion is the consistent read-path snapshot a reader pins for the
// duration of one operation: the active memtable, the queue of immutable
// memtables awaiting flush (newest first), and the current on-disk
// Version.
type SuperVersion struct {
	Mem  *memtable.MemTable
	Imms []*memtable.MemTable
	Tree *Version
}

// NewSuperVersion assembles a SuperVersion from its three layers.
func NewSuperVersion(mem *memtable.MemTable, imms []*memtable.MemTable, tree *Version) *SuperVersion {
	return &SuperVersion{Mem: mem, Imms: imms, Tree: tree}
}

// Get resolves userKey as of seq by checking the mutable memtable, then
// each immutable memtable newest-first, then the on-disk tree — the first
// layer to report anything other than GetNotFound wins.
func (sv *SuperVersion) Get(userKey []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte, error) {
	if res, val := sv.Mem.Get(userKey, seq); res != dbformat.GetNotFound {
		return res, val, nil
	}
	for _, imm := range sv.Imms {
		if res, val := imm.Get(userKey, seq); res != dbformat.GetNotFound {
			return res, val, nil
		}
	}
	return sv.Tree.Get(userKey, seq)
}

// Iterator returns a SuperVersionIterator ranging over every layer of this
// snapshot, merged into one ascending internal-key stream.
func (sv *SuperVersion) Iterator() *SuperVersionIterator {
	children := make([]iterator.Iterator, 0, 1+len(sv.Imms)+countRuns(sv.Tree))
	children = append(children, sv.Mem.Begin())
	for _, imm := range sv.Imms {
		children = append(children, imm.Begin())
	}
	for _, lv := range sv.Tree.Levels() {
		for _, run := range lv.Runs() {
			children = append(children, run.Begin())
		}
	}
	return &SuperVersionIterator{merged: iterator.NewMergingIterator(children, dbformat.CompareInternalKeys)}
}

func countRuns(v *Version) int {
	n := 0
	for _, lv := range v.Levels() {
		n += len(lv.Runs())
	}
	return n
}

// SuperVersionIterator merges a SuperVersion's memtable, immutable
// memtables, and every on-disk run into a single ascending internal-key
// stream. Unlike the rest of this package, it has no counterpart in the
// system this design is grounded on — that implementation's equivalent is
// an unimplemented stub — so its composition (one child iterator per
// memtable and per sorted run, fed into a MergingIterator) is original
// design work following the merge-then-scan pattern the rest of the read
// path already uses.
type SuperVersionIterator struct {
	merged *iterator.MergingIterator
}

// SeekToFirst positions the iterator at the smallest key across every
// layer.
func (it *SuperVersionIterator) SeekToFirst() { it.merged.SeekToFirst() }

// Seek positions the iterator at the first entry >= target across every
// layer.
func (it *SuperVersionIterator) Seek(target []byte) { it.merged.Seek(target) }

// Valid reports whether the iterator is positioned at an entry.
func (it *SuperVersionIterator) Valid() bool { return it.merged.Valid() }

// Key returns the current entry's encoded internal key.
func (it *SuperVersionIterator) Key() []byte { return it.merged.Key() }

// Value returns the current entry's value.
func (it *SuperVersionIterator) Value() []byte { return it.merged.Value() }

// Next advances to the next entry.
func (it *SuperVersionIterator) Next() { it.merged.Next() }

// Error returns the first I/O error encountered across any layer.
func (it *SuperVersionIterator) Error() error { return it.merged.Error() }
