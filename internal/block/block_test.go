package block

import (
	"fmt"
	"testing"

	"github.com/wingtable/lsmkv/internal/dbformat"
)

func ik(key string, seq uint64, typ dbformat.ValueType) []byte {
	return dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
		UserKey: []byte(key), Seq: dbformat.SequenceNumber(seq), Type: typ,
	})
}

func TestBuilderAppendAndFinishRoundTrip(t *testing.T) {
	b := NewBuilder(4096)
	want := []struct {
		key   []byte
		value string
	}{
		{ik("a", 3, dbformat.TypeValue), "1"},
		{ik("b", 2, dbformat.TypeValue), "2"},
		{ik("c", 1, dbformat.TypeDeletion), ""},
	}
	for _, w := range want {
		if !b.Append(w.key, []byte(w.value)) {
			t.Fatalf("Append rejected entry for %q", w.key)
		}
	}
	data := b.Finish()

	it := NewIterator(data, b.Count())
	it.SeekToFirst()
	for _, w := range want {
		if !it.Valid() {
			t.Fatalf("iterator exhausted early")
		}
		if string(it.Key()) != string(w.key) {
			t.Fatalf("key = %q, want %q", it.Key(), w.key)
		}
		if string(it.Value()) != w.value {
			t.Fatalf("value = %q, want %q", it.Value(), w.value)
		}
		it.Next()
	}
	if it.Valid() {
		t.Fatalf("expected exhaustion after last entry")
	}
}

func TestBuilderRejectsOnceFull(t *testing.T) {
	// Small block size so a handful of entries overflow it.
	b := NewBuilder(40)
	added := 0
	for i := 0; i < 100; i++ {
		key := ik(fmt.Sprintf("key-%03d", i), 1, dbformat.TypeValue)
		if !b.Append(key, []byte("v")) {
			break
		}
		added++
	}
	if added == 0 {
		t.Fatalf("expected at least one entry to fit")
	}
	if added >= 100 {
		t.Fatalf("expected builder to reject once full, accepted all entries")
	}
}

func TestBuilderAlwaysAcceptsFirstEntry(t *testing.T) {
	// Even an oversized first entry must be accepted, or no block could
	// ever hold a large value.
	b := NewBuilder(8)
	big := make([]byte, 100)
	if !b.Append(ik("k", 1, dbformat.TypeValue), big) {
		t.Fatalf("expected first entry to always be accepted")
	}
}

func TestIteratorSeekFindsExactAndNearest(t *testing.T) {
	b := NewBuilder(4096)
	keys := []string{"apple", "banana", "cherry", "date"}
	for i, k := range keys {
		b.Append(ik(k, uint64(10-i), dbformat.TypeValue), []byte(k))
	}
	data := b.Finish()
	it := NewIterator(data, b.Count())

	it.Seek([]byte("banana"), dbformat.MaxSequenceNumber)
	if !it.Valid() || string(dbformat.ExtractUserKey(it.Key())) != "banana" {
		t.Fatalf("Seek(banana) landed on %q", it.Key())
	}

	it.Seek([]byte("cheese"), dbformat.MaxSequenceNumber)
	if !it.Valid() || string(dbformat.ExtractUserKey(it.Key())) != "cherry" {
		t.Fatalf("Seek(cheese) expected to land on cherry, got %q", it.Key())
	}

	it.Seek([]byte("zzz"), dbformat.MaxSequenceNumber)
	if it.Valid() {
		t.Fatalf("Seek past the end should be invalid, got %q", it.Key())
	}
}

func TestIteratorSeekRespectsSequenceOrdering(t *testing.T) {
	b := NewBuilder(4096)
	// Same user key at two sequence numbers: newest (higher seq) sorts first.
	b.Append(ik("k", 5, dbformat.TypeValue), []byte("new"))
	b.Append(ik("k", 2, dbformat.TypeValue), []byte("old"))
	data := b.Finish()
	it := NewIterator(data, b.Count())

	it.Seek([]byte("k"), 3)
	if !it.Valid() || string(it.Value()) != "old" {
		t.Fatalf("Seek(k, seq=3) expected to land on the seq=2 entry, got %q", it.Value())
	}

	it.Seek([]byte("k"), dbformat.MaxSequenceNumber)
	if !it.Valid() || string(it.Value()) != "new" {
		t.Fatalf("Seek(k, maxseq) expected to land on the seq=5 entry, got %q", it.Value())
	}
}

func TestValidDoesNotFilterByType(t *testing.T) {
	b := NewBuilder(4096)
	b.Append(ik("a", 1, dbformat.TypeDeletion), nil)
	data := b.Finish()
	it := NewIterator(data, b.Count())
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatalf("Valid() must report true for a deletion entry in range")
	}
}
