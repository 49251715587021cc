// Package dbformat defines the on-disk and in-memtable key format shared by
// every layer of the store: blocks, SSTables, memtables, and iterators all
// operate on the same internal key shape.
//
// An internal key is the triple (user_key, seq, type). Comparison order is
// ascending user_key, then descending seq, then ascending type — so for a
// given user key, the newest write sorts first.
package dbformat

import (
	"bytes"
	"encoding/binary"
)

// SequenceNumber is a monotonically increasing write counter. Every Put/Del
// is assigned exactly one, and comparisons over equal user keys break ties
// by descending sequence number (newest first).
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number, used as
// the upper snapshot bound when a read wants to see every committed write.
const MaxSequenceNumber SequenceNumber = ^SequenceNumber(0)

// ValueType tags what kind of record an internal key refers to.
//
// Value must be the numerically smallest type: binary searches seek for
// (user_key, seq, TypeValue) as a sentinel and rely on TypeValue sorting
// before any other type sharing the same (user_key, seq) pair.
type ValueType uint8

const (
	// TypeValue marks a record carrying a live value.
	TypeValue ValueType = 0
	// TypeDeletion marks a tombstone; the value bytes are empty.
	TypeDeletion ValueType = 1
)

func (t ValueType) String() string {
	switch t {
	case TypeValue:
		return "Value"
	case TypeDeletion:
		return "Deletion"
	default:
		return "Unknown"
	}
}

// TrailerLen is the number of bytes the (seq, type) trailer occupies when
// appended to a user key to form an internal key: 8 bytes of sequence
// number followed by 1 byte of type.
const TrailerLen = 9

// ParsedInternalKey is an internal key split into its three components.
type ParsedInternalKey struct {
	UserKey []byte
	Seq     SequenceNumber
	Type    ValueType
}

// AppendInternalKey appends the internal-key encoding of p to dst and
// returns the extended slice.
func AppendInternalKey(dst []byte, p ParsedInternalKey) []byte {
	dst = append(dst, p.UserKey...)
	var trailer [TrailerLen]byte
	binary.LittleEndian.PutUint64(trailer[:8], uint64(p.Seq))
	trailer[8] = byte(p.Type)
	return append(dst, trailer[:]...)
}

// ParseInternalKey splits an internal key into its components. ok is false
// if ik is too short to contain a trailer.
func ParseInternalKey(ik []byte) (p ParsedInternalKey, ok bool) {
	if len(ik) < TrailerLen {
		return ParsedInternalKey{}, false
	}
	n := len(ik) - TrailerLen
	trailer := ik[n:]
	p.UserKey = ik[:n]
	p.Seq = SequenceNumber(binary.LittleEndian.Uint64(trailer[:8]))
	p.Type = ValueType(trailer[8])
	return p, true
}

// ExtractUserKey returns the user-key prefix of an internal key.
// REQUIRES: len(ik) >= TrailerLen.
func ExtractUserKey(ik []byte) []byte {
	return ik[:len(ik)-TrailerLen]
}

// ExtractSequenceNumber returns the sequence number of an internal key.
// REQUIRES: len(ik) >= TrailerLen.
func ExtractSequenceNumber(ik []byte) SequenceNumber {
	trailer := ik[len(ik)-TrailerLen:]
	return SequenceNumber(binary.LittleEndian.Uint64(trailer[:8]))
}

// ExtractValueType returns the value type of an internal key.
// REQUIRES: len(ik) >= TrailerLen.
func ExtractValueType(ik []byte) ValueType {
	return ValueType(ik[len(ik)-1])
}

// GetResult reports the outcome of a point lookup against a memtable,
// SSTable, sorted run, level, or version — the same three-way result
// propagates unchanged through every layer of the read path.
type GetResult int

const (
	// GetNotFound means the key is absent from the layer queried (or, for
	// an SSTable, that its Bloom filter ruled the key out).
	GetNotFound GetResult = iota
	// GetFound means the key was found with a live value.
	GetFound
	// GetDeleted means the most recent record at or before the query's
	// sequence number is a tombstone.
	GetDeleted
)

// InternalKey is an owned, encoded internal key.
type InternalKey struct {
	rep []byte
}

// NewInternalKey builds an owned InternalKey from its parsed components.
func NewInternalKey(userKey []byte, seq SequenceNumber, typ ValueType) InternalKey {
	rep := make([]byte, 0, len(userKey)+TrailerLen)
	rep = AppendInternalKey(rep, ParsedInternalKey{UserKey: userKey, Seq: seq, Type: typ})
	return InternalKey{rep: rep}
}

// Encoded returns the raw encoded bytes of the internal key.
func (k InternalKey) Encoded() []byte { return k.rep }

// UserKey returns the user-key portion of the internal key.
func (k InternalKey) UserKey() []byte { return ExtractUserKey(k.rep) }

// Seq returns the sequence number of the internal key.
func (k InternalKey) Seq() SequenceNumber { return ExtractSequenceNumber(k.rep) }

// Type returns the value type of the internal key.
func (k InternalKey) Type() ValueType { return ExtractValueType(k.rep) }

// CompareInternalKeys orders two encoded internal keys: ascending user key,
// then descending sequence number, then ascending type.
func CompareInternalKeys(a, b []byte) int {
	pa, aok := ParseInternalKey(a)
	pb, bok := ParseInternalKey(b)
	if !aok || !bok {
		return bytes.Compare(a, b)
	}
	if c := bytes.Compare(pa.UserKey, pb.UserKey); c != 0 {
		return c
	}
	switch {
	case pa.Seq > pb.Seq:
		return -1
	case pa.Seq < pb.Seq:
		return 1
	}
	switch {
	case pa.Type < pb.Type:
		return -1
	case pa.Type > pb.Type:
		return 1
	default:
		return 0
	}
}

// InternalKeyComparator wraps a user-key comparator (bytewise by default)
// into a total order over internal keys, as described above.
type InternalKeyComparator struct {
	UserCompare func(a, b []byte) int
}

// NewInternalKeyComparator returns a comparator using bytewise user-key
// comparison.
func NewInternalKeyComparator() *InternalKeyComparator {
	return &InternalKeyComparator{UserCompare: bytes.Compare}
}

// Compare orders two encoded internal keys using c.UserCompare for the user
// key component.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	pa, aok := ParseInternalKey(a)
	pb, bok := ParseInternalKey(b)
	if !aok || !bok {
		return c.userCompare()(a, b)
	}
	if cmp := c.userCompare()(pa.UserKey, pb.UserKey); cmp != 0 {
		return cmp
	}
	switch {
	case pa.Seq > pb.Seq:
		return -1
	case pa.Seq < pb.Seq:
		return 1
	}
	switch {
	case pa.Type < pb.Type:
		return -1
	case pa.Type > pb.Type:
		return 1
	default:
		return 0
	}
}

// CompareUserKeys compares two user keys using c.UserCompare, falling back
// to bytewise comparison if none was configured.
func (c *InternalKeyComparator) CompareUserKeys(a, b []byte) int {
	return c.userCompare()(a, b)
}

func (c *InternalKeyComparator) userCompare() func(a, b []byte) int {
	if c.UserCompare != nil {
		return c.UserCompare
	}
	return bytes.Compare
}
