// Package block builds and scans a single on-disk block: a contiguous
// sequence of (key_len, internal_key, value_len, value) entries followed by
// a dense array of per-entry u32 offsets. Entries arrive and are stored in
// ascending internal-key order; no prefix compression or restart points are
// used — every entry is self-contained.
package block

import (
	"sort"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/encoding"
)

// Handle locates a block within an SSTable file.
type Handle struct {
	Offset uint64
	Size   uint64
	Count  uint64
}

// HandleEncodedLen is the number of bytes Handle.Encode writes.
const HandleEncodedLen = 24

// Encode appends the handle's fixed-width encoding to dst.
func (h Handle) Encode(dst []byte) []byte {
	dst = encoding.AppendFixed64(dst, h.Offset)
	dst = encoding.AppendFixed64(dst, h.Size)
	dst = encoding.AppendFixed64(dst, h.Count)
	return dst
}

// DecodeHandle reads a Handle from the front of src.
func DecodeHandle(src []byte) (Handle, bool) {
	if len(src) < HandleEncodedLen {
		return Handle{}, false
	}
	return Handle{
		Offset: encoding.DecodeFixed64(src[0:8]),
		Size:   encoding.DecodeFixed64(src[8:16]),
		Count:  encoding.DecodeFixed64(src[16:24]),
	}, true
}

// Builder accumulates entries for one block, rejecting further appends once
// the block would exceed its configured size (accounting for the trailing
// offset array).
type Builder struct {
	blockSize int
	buf       []byte
	offsets   []uint32
}

// NewBuilder creates a Builder targeting blockSize bytes.
func NewBuilder(blockSize int) *Builder {
	return &Builder{blockSize: blockSize}
}

// Reset clears the builder so it can be reused for the next block.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.offsets = b.offsets[:0]
}

// Append tries to add one entry. It returns false without modifying the
// builder if doing so would exceed the block size budget, counting the
// offset-array entry this record would add. An empty builder always accepts
// its first entry, so a record larger than the budget gets a block of its own.
func (b *Builder) Append(ik []byte, value []byte) bool {
	entryLen := 4 + len(ik) + 4 + len(value)
	futureOffsetBytes := (len(b.offsets) + 1) * 4
	if len(b.buf)+entryLen+futureOffsetBytes > b.blockSize && len(b.offsets) > 0 {
		return false
	}

	b.offsets = append(b.offsets, uint32(len(b.buf)))
	b.buf = encoding.AppendFixed32(b.buf, uint32(len(ik)))
	b.buf = append(b.buf, ik...)
	b.buf = encoding.AppendFixed32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, value...)
	return true
}

// Count returns the number of entries appended so far.
func (b *Builder) Count() int { return len(b.offsets) }

// Size returns the number of bytes the finished block will occupy,
// including the trailing offset array.
func (b *Builder) Size() int {
	return len(b.buf) + len(b.offsets)*4
}

// Finish appends the trailing offset array and returns the complete block
// bytes. The builder must not be reused without calling Reset first.
func (b *Builder) Finish() []byte {
	out := make([]byte, 0, b.Size())
	out = append(out, b.buf...)
	for _, off := range b.offsets {
		out = encoding.AppendFixed32(out, off)
	}
	return out
}

// Iterator scans entries within one decoded block.
type Iterator struct {
	data    []byte
	offsets []uint32
	pos     int // index into offsets; len(offsets) means exhausted

	key   []byte
	value []byte
}

// NewIterator builds an Iterator over a raw block of nEntries entries.
func NewIterator(data []byte, nEntries int) *Iterator {
	offArrayStart := len(data) - nEntries*4
	offsets := make([]uint32, nEntries)
	for i := 0; i < nEntries; i++ {
		offsets[i] = encoding.DecodeFixed32(data[offArrayStart+i*4:])
	}
	it := &Iterator{data: data[:offArrayStart], offsets: offsets, pos: nEntries}
	return it
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.offsets)
}

// Key returns the internal key at the current position.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) load() {
	if it.pos < 0 || it.pos >= len(it.offsets) {
		it.key, it.value = nil, nil
		return
	}
	p := it.data[it.offsets[it.pos]:]
	keyLen := encoding.DecodeFixed32(p)
	p = p[4:]
	it.key = p[:keyLen]
	p = p[keyLen:]
	valLen := encoding.DecodeFixed32(p)
	p = p[4:]
	it.value = p[:valLen]
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.pos = 0
	it.load()
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	it.pos++
	it.load()
}

// keyAt decodes just the internal key for offsets[i], for use by Seek's
// binary search without materializing the value.
func (it *Iterator) keyAt(i int) []byte {
	p := it.data[it.offsets[i]:]
	keyLen := encoding.DecodeFixed32(p)
	return p[4 : 4+keyLen]
}

// Seek positions the iterator at the first entry whose internal key is
// greater than or equal to (userKey, seq, Value) — the sentinel type that
// always sorts first among entries sharing (userKey, seq).
func (it *Iterator) Seek(userKey []byte, seq dbformat.SequenceNumber) {
	target := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: userKey, Seq: seq, Type: dbformat.TypeValue,
	})
	n := len(it.offsets)
	idx := sort.Search(n, func(i int) bool {
		return dbformat.CompareInternalKeys(it.keyAt(i), target) >= 0
	})
	it.pos = idx
	it.load()
}
