package lsmkv

// db_iterator.go implements DBIterator, the snapshot-isolated cursor
// returned by DB.Begin and DB.Seek. It layers snapshot filtering and
// tombstone/duplicate-version collapsing on top of a SuperVersionIterator.

import (
	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/lsmtree"
)

// DBIterator scans a database's keys in ascending order as of the
// sequence number it was created with. It is not safe for concurrent use
// by multiple goroutines.
type DBIterator struct {
	merged *lsmtree.SuperVersionIterator
	seq    dbformat.SequenceNumber
	icmp   *dbformat.InternalKeyComparator

	key   []byte
	value []byte
	valid bool
}

func newDBIterator(sv *lsmtree.SuperVersion, seq dbformat.SequenceNumber, icmp *dbformat.InternalKeyComparator) *DBIterator {
	return &DBIterator{merged: sv.Iterator(), seq: seq, icmp: icmp}
}

// SeekToFirst positions the iterator at the database's first live key.
func (it *DBIterator) SeekToFirst() {
	it.merged.SeekToFirst()
	it.findNextUserEntry(nil)
}

// Seek positions the iterator at the first live key >= userKey.
func (it *DBIterator) Seek(userKey []byte) {
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: userKey, Seq: it.seq, Type: dbformat.TypeValue,
	})
	it.merged.Seek(target)
	it.findNextUserEntry(nil)
}

// Next advances to the next live key.
func (it *DBIterator) Next() {
	if !it.valid {
		return
	}
	skip := it.key
	it.merged.Next()
	it.findNextUserEntry(skip)
}

// Valid reports whether the iterator is positioned at an entry.
func (it *DBIterator) Valid() bool { return it.valid }

// Key returns the current entry's user key.
func (it *DBIterator) Key() []byte { return it.key }

// Value returns the current entry's value.
func (it *DBIterator) Value() []byte { return it.value }

// Error returns the first I/O error encountered while scanning, if any.
func (it *DBIterator) Error() error { return it.merged.Error() }

// findNextUserEntry scans forward from the merged iterator's current
// position to the next entry that is visible at it.seq, is not a
// tombstone, and does not share a user key with skipUserKey — collapsing
// the internal-key stream's multiple versions per user key down to the one
// newest version visible at this snapshot.
func (it *DBIterator) findNextUserEntry(skipUserKey []byte) {
	for it.merged.Valid() {
		parsed, ok := dbformat.ParseInternalKey(it.merged.Key())
		if !ok {
			it.merged.Next()
			continue
		}
		if parsed.Seq > it.seq {
			it.merged.Next()
			continue
		}
		if skipUserKey != nil && it.icmp.CompareUserKeys(parsed.UserKey, skipUserKey) == 0 {
			it.merged.Next()
			continue
		}
		if parsed.Type == dbformat.TypeDeletion {
			skipUserKey = append([]byte(nil), parsed.UserKey...)
			it.merged.Next()
			continue
		}

		it.key = append([]byte(nil), parsed.UserKey...)
		it.value = append([]byte(nil), it.merged.Value()...)
		it.valid = true
		return
	}
	it.valid = false
	it.key, it.value = nil, nil
}
