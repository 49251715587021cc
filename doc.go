/*
Package lsmkv is an embedded, durable key/value store built on a
log-structured merge tree: writes land in an in-memory memtable, memtables
flush to immutable SSTable files, and a background compaction thread
merges SSTables according to a chosen strategy (leveled, tiered,
lazy-leveling, or fluid) to bound read and space amplification.

# Usage

	db, err := lsmkv.Open("/path/to/db", lsmkv.WithCreateNew(true))
	if err != nil {
		// handle err
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		// handle err
	}
	value, found, err := db.Get([]byte("k"))

# Concurrency

A DB is safe for concurrent use by multiple goroutines. A DBIterator
returned by Begin or Seek captures a consistent snapshot of the database
at the moment it was created and is stable against subsequent writes,
flushes, and compactions, but is not itself safe for concurrent use by
multiple goroutines.

# Durability

Durability is achieved by flushing memtables to SST files and persisting
the tree's shape (which files exist and how they're grouped into runs and
levels) to a metadata file on Close. There is no write-ahead log: writes
made after the last flush are lost if the process exits without a clean
Close.
*/
package lsmkv
