package lsmtree

import (
	"path/filepath"
	"testing"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/memtable"
	"github.com/wingtable/lsmkv/internal/sstable"
)

func buildTable(t *testing.T, dir string, name string, entries map[string]string, seq dbformat.SequenceNumber) *sstable.Table {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := sstable.NewBuilder(path, 4096, 10, false)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		ik := dbformat.AppendInternalKey(nil, dbformat.ParsedInternalKey{
			UserKey: []byte(k), Seq: seq, Type: dbformat.TypeValue,
		})
		if err := b.Append(ik, []byte(entries[k])); err != nil {
			t.Fatalf("Append(%q): %v", k, err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	tbl, err := sstable.Open(path, 1, 4096, false, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tbl
}

func TestSortedRunGetFindsAcrossTables(t *testing.T) {
	dir := t.TempDir()
	t1 := buildTable(t, dir, "1.sst", map[string]string{"a": "1", "b": "2"}, 1)
	t2 := buildTable(t, dir, "2.sst", map[string]string{"c": "3", "d": "4"}, 1)
	run := NewSortedRun([]*sstable.Table{t1, t2})

	res, val, err := run.Get([]byte("c"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "3" {
		t.Fatalf("Get(c) = %v, %q, %v", res, val, err)
	}
	res, _, err = run.Get([]byte("zzz"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetNotFound {
		t.Fatalf("Get(zzz) = %v, %v, want GetNotFound", res, err)
	}
}

func TestSortedRunIteratorCrossesTableBoundaries(t *testing.T) {
	dir := t.TempDir()
	t1 := buildTable(t, dir, "1.sst", map[string]string{"a": "1", "b": "2"}, 1)
	t2 := buildTable(t, dir, "2.sst", map[string]string{"c": "3", "d": "4"}, 1)
	run := NewSortedRun([]*sstable.Table{t1, t2})

	it := run.Begin()
	var got []string
	for it.Valid() {
		got = append(got, string(dbformat.ExtractUserKey(it.Key())))
		it.Next()
	}
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLevelGetPrefersNewestRun(t *testing.T) {
	dir := t.TempDir()
	older := buildTable(t, dir, "older.sst", map[string]string{"k": "old"}, 1)
	newer := buildTable(t, dir, "newer.sst", map[string]string{"k": "new"}, 2)
	lv := NewLevel(0)
	lv.Append(NewSortedRun([]*sstable.Table{older}))
	lv.Append(NewSortedRun([]*sstable.Table{newer}))

	res, val, err := lv.Get([]byte("k"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "new" {
		t.Fatalf("Get(k) = %v, %q, %v, want the newer run's value", res, val, err)
	}
}

func TestVersionGetChecksLevelsInOrder(t *testing.T) {
	dir := t.TempDir()
	l0Table := buildTable(t, dir, "l0.sst", map[string]string{"k": "from-l0"}, 1)
	l1Table := buildTable(t, dir, "l1.sst", map[string]string{"k": "from-l1"}, 1)

	v := NewVersion()
	v.Append(1, NewSortedRun([]*sstable.Table{l1Table}))
	v.Append(0, NewSortedRun([]*sstable.Table{l0Table}))

	res, val, err := v.Get([]byte("k"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "from-l0" {
		t.Fatalf("Get(k) = %v, %q, %v, want level 0's value to win", res, val, err)
	}
}

func TestSuperVersionGetChecksMemtableBeforeTree(t *testing.T) {
	dir := t.TempDir()
	onDisk := buildTable(t, dir, "l0.sst", map[string]string{"k": "disk"}, 1)
	tree := NewVersion()
	tree.Append(0, NewSortedRun([]*sstable.Table{onDisk}))

	mem := memtable.NewMemTable(nil)
	mem.Put(5, []byte("k"), []byte("mem"))

	sv := NewSuperVersion(mem, nil, tree)
	res, val, err := sv.Get([]byte("k"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "mem" {
		t.Fatalf("Get(k) = %v, %q, %v, want the memtable's value to shadow disk", res, val, err)
	}
}

func TestSuperVersionGetFallsThroughToImmutableThenDisk(t *testing.T) {
	dir := t.TempDir()
	onDisk := buildTable(t, dir, "l0.sst", map[string]string{"k": "disk", "only-disk": "d"}, 1)
	tree := NewVersion()
	tree.Append(0, NewSortedRun([]*sstable.Table{onDisk}))

	mem := memtable.NewMemTable(nil)
	imm := memtable.NewMemTable(nil)
	imm.Put(3, []byte("k"), []byte("imm"))

	sv := NewSuperVersion(mem, []*memtable.MemTable{imm}, tree)

	res, val, err := sv.Get([]byte("k"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "imm" {
		t.Fatalf("Get(k) = %v, %q, %v, want the immutable memtable's value", res, val, err)
	}

	res, val, err = sv.Get([]byte("only-disk"), dbformat.MaxSequenceNumber)
	if err != nil || res != dbformat.GetFound || string(val) != "d" {
		t.Fatalf("Get(only-disk) = %v, %q, %v, want the on-disk value", res, val, err)
	}
}

func TestSuperVersionIteratorMergesAllLayers(t *testing.T) {
	dir := t.TempDir()
	onDisk := buildTable(t, dir, "l0.sst", map[string]string{"a": "disk-a", "c": "disk-c"}, 1)
	tree := NewVersion()
	tree.Append(0, NewSortedRun([]*sstable.Table{onDisk}))

	mem := memtable.NewMemTable(nil)
	mem.Put(5, []byte("b"), []byte("mem-b"))

	sv := NewSuperVersion(mem, nil, tree)
	it := sv.Iterator()
	it.SeekToFirst()

	var got []string
	for it.Valid() {
		got = append(got, string(dbformat.ExtractUserKey(it.Key())))
		it.Next()
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if err := it.Error(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
