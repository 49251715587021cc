package compaction

import (
	"path/filepath"
	"testing"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/iterator"
	"github.com/wingtable/lsmkv/internal/sstio"
)

type fakeEntry struct {
	ik    []byte
	value []byte
}

type fakeIterator struct {
	entries []fakeEntry
	pos     int
}

var _ iterator.Iterator = (*fakeIterator)(nil)

func newFakeIterator(pairs [][3]any) *fakeIterator {
	entries := make([]fakeEntry, len(pairs))
	for i, p := range pairs {
		userKey := p[0].(string)
		seq := dbformat.SequenceNumber(p[1].(int))
		typ := dbformat.TypeValue
		value := ""
		if v, ok := p[2].(string); ok {
			value = v
		} else {
			typ = dbformat.TypeDeletion
		}
		ik := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{UserKey: []byte(userKey), Seq: seq, Type: typ})
		entries[i] = fakeEntry{ik: ik, value: []byte(value)}
	}
	return &fakeIterator{entries: entries, pos: -1}
}

func (it *fakeIterator) SeekToFirst()  { it.pos = 0 }
func (it *fakeIterator) Seek([]byte)   { it.pos = 0 }
func (it *fakeIterator) Valid() bool   { return it.pos >= 0 && it.pos < len(it.entries) }
func (it *fakeIterator) Key() []byte   { return it.entries[it.pos].ik }
func (it *fakeIterator) Value() []byte { return it.entries[it.pos].value }
func (it *fakeIterator) Next()         { it.pos++ }
func (it *fakeIterator) Error() error  { return nil }

func newTestJob(t *testing.T, sstSize uint64) *Job {
	t.Helper()
	gen := sstio.NewFileNameGenerator(t.TempDir(), 1)
	return NewJob(gen, 4096, sstSize, 10, false, nil)
}

func TestJobRunDropsOlderVersionsOfSameUserKey(t *testing.T) {
	it := newFakeIterator([][3]any{
		{"a", 5, "new-a"},
		{"a", 1, "old-a"},
		{"b", 2, "b"},
	})
	job := newTestJob(t, 1<<20)

	tables, err := job.Run(it, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	scan := tables[0].Begin()
	var got []string
	for scan.Valid() {
		got = append(got, string(dbformat.ExtractUserKey(scan.Key()))+"="+string(scan.Value()))
		scan.Next()
	}
	want := []string{"a=new-a", "b=b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestJobRunKeepsTombstonesWhenNotDropping(t *testing.T) {
	it := newFakeIterator([][3]any{
		{"a", 5, nil},
	})
	job := newTestJob(t, 1<<20)

	tables, err := job.Run(it, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	res, _, err := tables[0].Get([]byte("a"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetDeleted {
		t.Fatalf("Get(a) = %v, %v, want GetDeleted", res, err)
	}
}

func TestJobRunDropsTombstonesAtBottomLevel(t *testing.T) {
	it := newFakeIterator([][3]any{
		{"a", 5, nil},
		{"b", 2, "b"},
	})
	job := newTestJob(t, 1<<20)

	tables, err := job.Run(it, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(tables))
	}
	res, _, err := tables[0].Get([]byte("a"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetNotFound {
		t.Fatalf("Get(a) = %v, %v, want GetNotFound (tombstone dropped)", res, err)
	}
	res, val, err := tables[0].Get([]byte("b"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "b" {
		t.Fatalf("Get(b) = %v, %q, %v, want GetFound/b", res, val, err)
	}
}

func TestJobRunSplitsAcrossMultipleFilesBySize(t *testing.T) {
	it := newFakeIterator([][3]any{
		{"a", 1, "va"},
		{"b", 1, "vb"},
		{"c", 1, "vc"},
		{"d", 1, "vd"},
	})
	job := newTestJob(t, 1) // one entry per file

	tables, err := job.Run(it, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tables) != 4 {
		t.Fatalf("got %d tables, want 4 (one per key)", len(tables))
	}
}

func TestJobRunOnEmptyIteratorProducesNoTables(t *testing.T) {
	it := newFakeIterator(nil)
	job := newTestJob(t, 1<<20)

	tables, err := job.Run(it, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("got %d tables, want 0", len(tables))
	}
}

func TestFileNameGeneratorIssuesUniquePaths(t *testing.T) {
	gen := sstio.NewFileNameGenerator(t.TempDir(), 3)
	p1, id1 := gen.Generate()
	p2, id2 := gen.Generate()
	if id1 != 3 || id2 != 4 {
		t.Fatalf("got ids %d, %d, want 3, 4", id1, id2)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct paths, got %q twice", p1)
	}
	if filepath.Dir(p1) != filepath.Dir(p2) {
		t.Fatalf("expected both paths under the same directory")
	}
}
