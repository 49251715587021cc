// Package compaction turns a stream of entries into new SSTable files
// (CompactionJob) and decides which existing files should be merged next
// (the Picker strategies). A Picker reads a Version's levels, runs and
// table metadata (key ranges, busy and remove flags, key counts); it never
// touches disk itself — CompactionJob does
// the actual merge-and-write work its choice describes.
package compaction

import (
	"bytes"

	"github.com/wingtable/lsmkv/internal/cache"
	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/iterator"
	"github.com/wingtable/lsmkv/internal/sstable"
	"github.com/wingtable/lsmkv/internal/sstio"
)

// Job streams an ordered iterator into a sequence of SSTable files, each
// closed once it reaches the target size.
type Job struct {
	fileGen         *sstio.FileNameGenerator
	blockSize       int
	sstSize         uint64
	bloomBitsPerKey int
	useDirectIO     bool
	blkCache        cache.Cache
}

// NewJob creates a compaction job writing files through fileGen. blkCache
// is attached to every table the job opens, so newly compacted blocks are
// immediately eligible for cache hits; it may be nil.
func NewJob(fileGen *sstio.FileNameGenerator, blockSize int, sstSize uint64, bloomBitsPerKey int, useDirectIO bool, blkCache cache.Cache) *Job {
	return &Job{
		fileGen:         fileGen,
		blockSize:       blockSize,
		sstSize:         sstSize,
		bloomBitsPerKey: bloomBitsPerKey,
		useDirectIO:     useDirectIO,
		blkCache:        blkCache,
	}
}

// Run drains it into one or more SSTable files and opens each as a
// *sstable.Table. dropTombstones, when true, omits Deletion records
// entirely instead of carrying them forward — callers set this when the
// job's destination is the bottom level of the tree, where a tombstone can
// no longer shadow anything.
//
// Entries must arrive from it in ascending internal-key order. When
// adjacent positions share a user key, only the first (newest, per
// internal-key order) is written; the rest are skipped, mirroring how a
// single-pass merge discards obsolete versions without a second pass.
func (j *Job) Run(it iterator.Iterator, dropTombstones bool) ([]*sstable.Table, error) {
	var tables []*sstable.Table

	it.SeekToFirst()
	for it.Valid() {
		path, fileID := j.fileGen.Generate()
		b, err := sstable.NewBuilder(path, j.blockSize, j.bloomBitsPerKey, j.useDirectIO)
		if err != nil {
			return tables, err
		}

		for it.Valid() && b.Size() < j.sstSize {
			ik := append([]byte(nil), it.Key()...)
			value := append([]byte(nil), it.Value()...)
			parsed, ok := dbformat.ParseInternalKey(ik)
			if !ok {
				it.Next()
				continue
			}

			skip := dropTombstones && parsed.Type == dbformat.TypeDeletion
			if !skip {
				if err := b.Append(ik, value); err != nil {
					return tables, err
				}
			}

			userKey := append([]byte(nil), parsed.UserKey...)
			it.Next()
			for it.Valid() {
				next, ok := dbformat.ParseInternalKey(it.Key())
				if !ok || !bytes.Equal(next.UserKey, userKey) {
					break
				}
				it.Next()
			}
		}

		count := b.Count()
		if err := b.Finish(); err != nil {
			return tables, err
		}
		if err := it.Error(); err != nil {
			return tables, err
		}
		if count == 0 {
			// Every entry destined for this file was a dropped tombstone;
			// nothing to open or keep.
			continue
		}
		tbl, err := sstable.Open(path, fileID, j.blockSize, j.useDirectIO, j.blkCache)
		if err != nil {
			return tables, err
		}
		tables = append(tables, tbl)
	}
	return tables, it.Error()
}
