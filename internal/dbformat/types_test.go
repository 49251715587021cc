package dbformat

import (
	"bytes"
	"testing"
)

func TestAppendParseRoundTrip(t *testing.T) {
	cases := []ParsedInternalKey{
		{UserKey: []byte("a"), Seq: 1, Type: TypeValue},
		{UserKey: []byte("hello"), Seq: 0xFFFFFFFFFFFF, Type: TypeDeletion},
		{UserKey: []byte{}, Seq: 42, Type: TypeValue},
	}
	for _, c := range cases {
		enc := AppendInternalKey(nil, c)
		got, ok := ParseInternalKey(enc)
		if !ok {
			t.Fatalf("ParseInternalKey(%v) failed", enc)
		}
		if !bytes.Equal(got.UserKey, c.UserKey) || got.Seq != c.Seq || got.Type != c.Type {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestCompareInternalKeysUserKeyAscending(t *testing.T) {
	a := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("a"), Seq: 1, Type: TypeValue})
	b := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("b"), Seq: 1, Type: TypeValue})
	if CompareInternalKeys(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if CompareInternalKeys(b, a) <= 0 {
		t.Fatalf("expected b > a")
	}
}

func TestCompareInternalKeysSeqDescending(t *testing.T) {
	newer := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("k"), Seq: 5, Type: TypeValue})
	older := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("k"), Seq: 2, Type: TypeValue})
	if CompareInternalKeys(newer, older) >= 0 {
		t.Fatalf("expected newer (higher seq) to sort first")
	}
}

func TestCompareInternalKeysTypeTieBreak(t *testing.T) {
	value := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("k"), Seq: 5, Type: TypeValue})
	deletion := AppendInternalKey(nil, ParsedInternalKey{UserKey: []byte("k"), Seq: 5, Type: TypeDeletion})
	if CompareInternalKeys(value, deletion) >= 0 {
		t.Fatalf("expected Value (type 0) to sort before Deletion (type 1) at equal seq")
	}
}

func TestExtractHelpers(t *testing.T) {
	ik := NewInternalKey([]byte("user"), 7, TypeDeletion)
	if !bytes.Equal(ExtractUserKey(ik.Encoded()), []byte("user")) {
		t.Fatalf("ExtractUserKey mismatch")
	}
	if ExtractSequenceNumber(ik.Encoded()) != 7 {
		t.Fatalf("ExtractSequenceNumber mismatch")
	}
	if ExtractValueType(ik.Encoded()) != TypeDeletion {
		t.Fatalf("ExtractValueType mismatch")
	}
}

func TestInternalKeyComparatorMatchesFreeFunction(t *testing.T) {
	icmp := NewInternalKeyComparator()
	a := NewInternalKey([]byte("a"), 3, TypeValue).Encoded()
	b := NewInternalKey([]byte("a"), 9, TypeValue).Encoded()
	if icmp.Compare(a, b) != CompareInternalKeys(a, b) {
		t.Fatalf("InternalKeyComparator.Compare diverges from CompareInternalKeys")
	}
}

func TestValueTypeSentinelIsSmallest(t *testing.T) {
	if TypeValue >= TypeDeletion {
		t.Fatalf("TypeValue must sort before TypeDeletion for seek probes to work")
	}
}
