// Package sstable builds and reads sorted-string table files: the
// immutable, on-disk unit of storage a memtable flushes into and
// compactions merge. A table is a sequence of data blocks, a sparse
// index mapping each block's last key to its Handle, a Bloom filter over
// every key in the table, and the table's smallest/largest internal keys.
package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/wingtable/lsmkv/internal/bloom"
	"github.com/wingtable/lsmkv/internal/block"
	"github.com/wingtable/lsmkv/internal/cache"
	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/encoding"
	"github.com/wingtable/lsmkv/internal/mempool"
	"github.com/wingtable/lsmkv/internal/sstio"
)

// footerMagic tags the trailing fixed-size footer so Open can sanity-check
// that it landed on the right bytes.
const footerMagic = uint64(0x6c736d6b762d7373) // "lsmkv-ss" in ASCII, reversed endianness is irrelevant — it's just a tag

// footerLen is the fixed size of the trailer appended to every table file:
// three u64 section offsets plus the magic tag.
const footerLen = 32

type indexEntry struct {
	key    []byte // encoded internal key: the largest key in the referenced block
	handle block.Handle
}

// Table is an opened, read-only SSTable file.
type Table struct {
	FileNum     uint64
	reader      *sstio.FileReader
	index       []indexEntry
	filter      *bloom.Filter
	smallest    []byte
	largest     []byte
	blockSz     int
	blkCache    cache.Cache
	indexOffset uint64
	bloomOffset uint64

	compactionInProgress atomic.Bool
	removeTag            atomic.Bool
}

// Open opens the table file at path and loads its index, Bloom filter, and
// boundary keys into memory. blkCache may be nil, in which case blocks are
// read fresh on every access.
func Open(path string, fileNum uint64, blockSize int, useDirectIO bool, blkCache cache.Cache) (*Table, error) {
	r, err := sstio.NewFileReader(path, useDirectIO)
	if err != nil {
		return nil, err
	}
	size, err := r.Size()
	if err != nil {
		r.Close()
		return nil, err
	}
	if size < footerLen {
		r.Close()
		return nil, fmt.Errorf("sstable: file %q too small to contain a footer", path)
	}

	footer := make([]byte, footerLen)
	if _, err := r.ReadAt(footer, size-footerLen); err != nil {
		r.Close()
		return nil, err
	}
	fs := encoding.NewSlice(footer)
	indexOffset, _ := fs.GetFixed64()
	bloomOffset, _ := fs.GetFixed64()
	metaOffset, _ := fs.GetFixed64()
	magic, _ := fs.GetFixed64()
	if magic != footerMagic {
		r.Close()
		return nil, errors.New("sstable: bad footer magic")
	}

	t := &Table{FileNum: fileNum, reader: r, blockSz: blockSize, blkCache: blkCache,
		indexOffset: indexOffset, bloomOffset: bloomOffset}

	if err := t.loadIndex(indexOffset, bloomOffset); err != nil {
		r.Close()
		return nil, err
	}
	if err := t.loadFilter(bloomOffset, metaOffset); err != nil {
		r.Close()
		return nil, err
	}
	if err := t.loadBoundaries(metaOffset, uint64(size)-footerLen); err != nil {
		r.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) loadIndex(indexOffset, end uint64) error {
	buf := make([]byte, end-indexOffset)
	if _, err := t.reader.ReadAt(buf, int64(indexOffset)); err != nil {
		return err
	}
	s := encoding.NewSlice(buf)
	for s.Remaining() > 0 {
		keyLen, ok := s.GetFixed32()
		if !ok {
			return errors.New("sstable: truncated index entry")
		}
		key, ok := s.GetBytes(int(keyLen))
		if !ok {
			return errors.New("sstable: truncated index key")
		}
		handleBytes, ok := s.GetBytes(block.HandleEncodedLen)
		if !ok {
			return errors.New("sstable: truncated index handle")
		}
		h, ok := block.DecodeHandle(handleBytes)
		if !ok {
			return errors.New("sstable: bad index handle")
		}
		entry := indexEntry{key: append([]byte(nil), key...), handle: h}
		t.index = append(t.index, entry)
	}
	return nil
}

func (t *Table) loadFilter(bloomOffset, metaOffset uint64) error {
	buf := make([]byte, metaOffset-bloomOffset)
	if _, err := t.reader.ReadAt(buf, int64(bloomOffset)); err != nil {
		return err
	}
	s := encoding.NewSlice(buf)
	data, ok := s.GetLengthPrefixed64()
	if !ok {
		return errors.New("sstable: truncated bloom filter section")
	}
	f, ok := bloom.Decode(data)
	if !ok {
		return errors.New("sstable: bad bloom filter encoding")
	}
	t.filter = f
	return nil
}

func (t *Table) loadBoundaries(metaOffset, end uint64) error {
	buf := make([]byte, end-metaOffset)
	if _, err := t.reader.ReadAt(buf, int64(metaOffset)); err != nil {
		return err
	}
	s := encoding.NewSlice(buf)
	smallest, ok := s.GetLengthPrefixed64()
	if !ok {
		return errors.New("sstable: truncated smallest key")
	}
	largest, ok := s.GetLengthPrefixed64()
	if !ok {
		return errors.New("sstable: truncated largest key")
	}
	t.smallest = append([]byte(nil), smallest...)
	t.largest = append([]byte(nil), largest...)
	return nil
}

// BlockSize returns the target block size the table was built with.
func (t *Table) BlockSize() int { return t.blockSz }

// KeyCount returns the total number of entries across the table's blocks.
func (t *Table) KeyCount() int {
	var n int
	for _, e := range t.index {
		n += int(e.handle.Count)
	}
	return n
}

// SmallestKey returns the encoded internal key of the table's first entry.
func (t *Table) SmallestKey() []byte { return t.smallest }

// LargestKey returns the encoded internal key of the table's last entry.
func (t *Table) LargestKey() []byte { return t.largest }

// Close releases the table's open file handle.
func (t *Table) Close() error { return t.reader.Close() }

// IndexOffset returns the byte offset of the table's index section, as
// recorded in its footer and carried forward into metadata on Close.
func (t *Table) IndexOffset() uint64 { return t.indexOffset }

// BloomOffset returns the byte offset of the table's Bloom filter section.
func (t *Table) BloomOffset() uint64 { return t.bloomOffset }

// Size returns the current on-disk file size in bytes.
func (t *Table) Size() (uint64, error) {
	n, err := t.reader.Size()
	return uint64(n), err
}

// CompactionInProgress reports whether a compaction job has already
// claimed this table as an input.
func (t *Table) CompactionInProgress() bool { return t.compactionInProgress.Load() }

// SetCompactionInProgress marks or clears this table as claimed by a
// running compaction job.
func (t *Table) SetCompactionInProgress(v bool) { t.compactionInProgress.Store(v) }

// RemoveTag reports whether this table has been superseded by a finished
// compaction and is pending removal.
func (t *Table) RemoveTag() bool { return t.removeTag.Load() }

// SetRemoveTag marks or clears this table as superseded and pending
// removal.
func (t *Table) SetRemoveTag(v bool) { t.removeTag.Store(v) }

func (t *Table) blockFor(idx int) ([]byte, error) {
	h := t.index[idx].handle
	key := cache.CacheKey{FileNumber: t.FileNum, BlockOffset: h.Offset}
	if t.blkCache != nil {
		if handle := t.blkCache.Lookup(key); handle != nil {
			defer t.blkCache.Release(handle)
			return handle.Value(), nil
		}
	}
	buf := mempool.GlobalPool.Get(int(h.Size))
	if _, err := t.reader.ReadAt(buf[:h.Size], int64(h.Offset)); err != nil {
		mempool.GlobalPool.Put(buf)
		return nil, err
	}
	data := buf[:h.Size]
	if t.blkCache != nil {
		t.blkCache.Insert(key, data, h.Size)
	}
	return data, nil
}

// Get performs a point lookup for userKey visible at or before seq.
func (t *Table) Get(userKey []byte, seq dbformat.SequenceNumber) (dbformat.GetResult, []byte, error) {
	if t.filter != nil && !t.filter.MayContain(bloom.BloomHash(userKey)) {
		return dbformat.GetNotFound, nil, nil
	}
	it := t.Seek(userKey, seq)
	defer it.Close()
	if !it.Valid() {
		return dbformat.GetNotFound, nil, it.Err()
	}
	parsed, ok := dbformat.ParseInternalKey(it.Key())
	if !ok {
		return dbformat.GetNotFound, nil, it.Err()
	}
	if string(parsed.UserKey) != string(userKey) || parsed.Seq > seq {
		return dbformat.GetNotFound, nil, nil
	}
	if parsed.Type == dbformat.TypeDeletion {
		return dbformat.GetDeleted, nil, nil
	}
	value := append([]byte(nil), it.Value()...)
	return dbformat.GetFound, value, nil
}

// Iterator scans a table's entries in ascending internal-key order,
// transparently crossing block boundaries.
type Iterator struct {
	t       *Table
	blockID int
	blkIt   *block.Iterator
	err     error
}

// Begin returns an Iterator positioned at the table's first entry.
func (t *Table) Begin() *Iterator {
	it := &Iterator{t: t}
	it.seekToBlock(0)
	if it.blkIt != nil {
		it.blkIt.SeekToFirst()
	}
	return it
}

// Seek returns an Iterator positioned at the first entry with an internal
// key greater than or equal to (userKey, seq, TypeValue).
func (t *Table) Seek(userKey []byte, seq dbformat.SequenceNumber) *Iterator {
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: userKey, Seq: seq, Type: dbformat.TypeValue,
	})
	it := &Iterator{t: t}
	if len(t.index) == 0 || dbformat.CompareInternalKeys(target, t.largest) > 0 {
		it.blockID = len(t.index)
		return it
	}
	lo, hi := 0, len(t.index)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.CompareInternalKeys(t.index[mid].key, target) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	it.seekToBlock(lo)
	if it.blkIt != nil {
		it.blkIt.Seek(userKey, seq)
	}
	return it
}

func (it *Iterator) seekToBlock(idx int) {
	it.blockID = idx
	if idx >= len(it.t.index) {
		it.blkIt = nil
		return
	}
	data, err := it.t.blockFor(idx)
	if err != nil {
		it.err = err
		it.blkIt = nil
		return
	}
	it.blkIt = block.NewIterator(data, int(it.t.index[idx].handle.Count))
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.blockID < len(it.t.index) && it.blkIt != nil && it.blkIt.Valid()
}

// Key returns the current entry's encoded internal key.
func (it *Iterator) Key() []byte { return it.blkIt.Key() }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.blkIt.Value() }

// Next advances to the next entry, crossing into the following block when
// the current one is exhausted.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.blkIt.Next()
	if !it.blkIt.Valid() {
		it.seekToBlock(it.blockID + 1)
		if it.blkIt != nil {
			it.blkIt.SeekToFirst()
		}
	}
}

// Err returns the first I/O error encountered while iterating, if any.
func (it *Iterator) Err() error { return it.err }

// Close is a no-op retained for symmetry with other iterator types; table
// blocks are owned by the table's cache/pool, not the iterator.
func (it *Iterator) Close() error { return nil }

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.seekToBlock(0)
	if it.blkIt != nil {
		it.blkIt.SeekToFirst()
	}
}

// Seek positions the iterator at the first entry with an internal key
// greater than or equal to (userKey, seq, TypeValue).
func (it *Iterator) Seek(userKey []byte, seq dbformat.SequenceNumber) {
	*it = *it.t.Seek(userKey, seq)
}

// Builder assembles a new table file from entries presented in ascending
// internal-key order.
type Builder struct {
	w          *sstio.FileWriter
	blockSize  int
	bitsPerKey int
	curBuilder *block.Builder
	index      []indexEntry
	curOffset  uint64
	keyHashes  []uint64
	count      int
	smallest   []byte
	largest    []byte
}

// NewBuilder creates a Builder writing to path.
func NewBuilder(path string, blockSize int, bitsPerKey int, useDirectIO bool) (*Builder, error) {
	w, err := sstio.NewFileWriter(path, useDirectIO)
	if err != nil {
		return nil, err
	}
	return &Builder{
		w:          w,
		blockSize:  blockSize,
		bitsPerKey: bitsPerKey,
		curBuilder: block.NewBuilder(blockSize),
	}, nil
}

// Append adds one entry. Entries must arrive in ascending internal-key
// order.
func (b *Builder) Append(ik []byte, value []byte) error {
	if !b.curBuilder.Append(ik, value) {
		if err := b.flushBlock(); err != nil {
			return err
		}
		b.curBuilder = block.NewBuilder(b.blockSize)
		if !b.curBuilder.Append(ik, value) {
			return fmt.Errorf("sstable: entry too large for block size %d", b.blockSize)
		}
	}
	b.largest = append([]byte(nil), ik...)
	if b.count == 0 {
		b.smallest = append([]byte(nil), ik...)
	}
	b.count++
	parsed, _ := dbformat.ParseInternalKey(ik)
	b.keyHashes = append(b.keyHashes, bloom.BloomHash(parsed.UserKey))
	return nil
}

// Size returns the number of data bytes written so far, including the
// block currently being assembled in memory but not yet flushed to disk.
// CompactionJob bounds per-file output against this.
func (b *Builder) Size() uint64 { return b.curOffset + uint64(b.curBuilder.Size()) }

func (b *Builder) flushBlock() error {
	if b.curBuilder.Count() == 0 {
		return nil
	}
	data := b.curBuilder.Finish()
	handle := block.Handle{Offset: b.curOffset, Size: uint64(len(data)), Count: uint64(b.curBuilder.Count())}
	if err := b.w.Append(data); err != nil {
		return err
	}
	b.curOffset += uint64(len(data))
	b.index = append(b.index, indexEntry{key: append([]byte(nil), b.largest...), handle: handle})
	return nil
}

// Finish flushes the final block and writes the index, Bloom filter, and
// boundary sections, followed by the fixed-size footer.
func (b *Builder) Finish() error {
	if err := b.flushBlock(); err != nil {
		return err
	}

	indexOffset := b.curOffset
	var indexBuf []byte
	for _, e := range b.index {
		indexBuf = encoding.AppendFixed32(indexBuf, uint32(len(e.key)))
		indexBuf = append(indexBuf, e.key...)
		indexBuf = e.handle.Encode(indexBuf)
	}
	if err := b.w.Append(indexBuf); err != nil {
		return err
	}
	bloomOffset := indexOffset + uint64(len(indexBuf))

	filter := bloom.New(len(b.keyHashes), b.bitsPerKey)
	for _, h := range b.keyHashes {
		filter.Add(h)
	}
	filterBytes := filter.Bytes()
	var bloomBuf []byte
	bloomBuf = encoding.AppendLengthPrefixed64(bloomBuf, filterBytes)
	if err := b.w.Append(bloomBuf); err != nil {
		return err
	}
	metaOffset := bloomOffset + uint64(len(bloomBuf))

	var metaBuf []byte
	metaBuf = encoding.AppendLengthPrefixed64(metaBuf, b.smallest)
	metaBuf = encoding.AppendLengthPrefixed64(metaBuf, b.largest)
	if err := b.w.Append(metaBuf); err != nil {
		return err
	}

	var footer [footerLen]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:16], bloomOffset)
	binary.LittleEndian.PutUint64(footer[16:24], metaOffset)
	binary.LittleEndian.PutUint64(footer[24:32], footerMagic)
	if err := b.w.Append(footer[:]); err != nil {
		return err
	}

	if err := b.w.Sync(); err != nil {
		return err
	}
	return b.w.Close()
}

// Count returns the number of entries appended so far.
func (b *Builder) Count() int { return b.count }

// SmallestKey returns the encoded internal key of the first entry appended.
func (b *Builder) SmallestKey() []byte { return b.smallest }

// LargestKey returns the encoded internal key of the most recent entry
// appended.
func (b *Builder) LargestKey() []byte { return b.largest }
