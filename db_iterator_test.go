package lsmkv

import (
	"fmt"
	"testing"
)

func TestIteratorSeekToFirst(t *testing.T) {
	db := openTestDB(t)

	keys := []string{"b", "a", "c"}
	for _, k := range keys {
		if err := db.Put([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it := db.Begin()

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorSeek(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 10; i++ {
		if err := db.Put([]byte(fmt.Sprintf("k%02d", i)), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it := db.Seek([]byte("k05"))

	if !it.Valid() {
		t.Fatal("expected a valid iterator position")
	}
	if string(it.Key()) != "k05" {
		t.Errorf("Key() = %q, want %q", it.Key(), "k05")
	}
}

func TestIteratorSkipsTombstones(t *testing.T) {
	db := openTestDB(t)

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Del([]byte("a")); err != nil {
		t.Fatalf("Del: %v", err)
	}

	it := db.Begin()

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("got %v, want [b]", got)
	}
}

func TestIteratorSnapshotIsolation(t *testing.T) {
	db := openTestDB(t)

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	it := db.Begin()

	if err := db.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("iterator should only see keys written before it was created, got %v", got)
	}
}
