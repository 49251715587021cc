package lsmkv

// metadata.go persists and restores the on-disk tree's shape: which SST
// files exist, how they're grouped into runs and levels, and the sequence
// counter and file-ID counter needed to resume writing after a restart.
// The database's actual key-value data never touches this file — it lives
// entirely inside the SST files metadata.go only points at.

import (
	"os"
	"path/filepath"

	"github.com/wingtable/lsmkv/internal/cache"
	"github.com/wingtable/lsmkv/internal/encoding"
	"github.com/wingtable/lsmkv/internal/lsmtree"
	"github.com/wingtable/lsmkv/internal/sstable"
	"github.com/wingtable/lsmkv/internal/sstio"
)

const metadataFileName = "metadata"

// sstInfo is the on-disk description of one SST file, enough to reopen it
// without re-deriving its footer offsets.
type sstInfo struct {
	count             uint64
	size              uint64
	sstID             uint64
	indexOffset       uint64
	bloomFilterOffset uint64
	name              string
}

func appendSSTInfo(dst []byte, info sstInfo) []byte {
	dst = encoding.AppendFixed64(dst, info.count)
	dst = encoding.AppendFixed64(dst, info.size)
	dst = encoding.AppendFixed64(dst, info.sstID)
	dst = encoding.AppendFixed64(dst, info.indexOffset)
	dst = encoding.AppendFixed64(dst, info.bloomFilterOffset)
	dst = encoding.AppendFixed64(dst, uint64(len(info.name)))
	dst = append(dst, info.name...)
	return dst
}

func readSSTInfo(s *encoding.Slice) (sstInfo, error) {
	var info sstInfo
	var ok bool
	if info.count, ok = s.GetFixed64(); !ok {
		return info, ErrCorruptMetadata
	}
	if info.size, ok = s.GetFixed64(); !ok {
		return info, ErrCorruptMetadata
	}
	if info.sstID, ok = s.GetFixed64(); !ok {
		return info, ErrCorruptMetadata
	}
	if info.indexOffset, ok = s.GetFixed64(); !ok {
		return info, ErrCorruptMetadata
	}
	if info.bloomFilterOffset, ok = s.GetFixed64(); !ok {
		return info, ErrCorruptMetadata
	}
	nameLen, ok := s.GetFixed64()
	if !ok {
		return info, ErrCorruptMetadata
	}
	name, ok := s.GetBytes(int(nameLen))
	if !ok {
		return info, ErrCorruptMetadata
	}
	info.name = string(name)
	return info, nil
}

// saveMetadata writes seq, the next file ID, and the full run/level shape
// of tree to <dbPath>/metadata, overwriting any existing file.
func saveMetadata(dbPath string, fileGen *sstio.FileNameGenerator, seq uint64, nextFileID uint64, tree *lsmtree.Version) error {
	var buf []byte
	buf = encoding.AppendFixed64(buf, seq)
	buf = encoding.AppendFixed64(buf, nextFileID)

	levels := tree.Levels()
	buf = encoding.AppendFixed64(buf, uint64(len(levels)))
	for _, lv := range levels {
		buf = encoding.AppendFixed64(buf, uint64(lv.ID))
		runs := lv.Runs()
		buf = encoding.AppendFixed64(buf, uint64(len(runs)))
		for _, run := range runs {
			tables := run.Tables()
			buf = encoding.AppendFixed64(buf, uint64(len(tables)))
			for _, t := range tables {
				size, err := t.Size()
				if err != nil {
					return wrapIoError(err)
				}
				info := sstInfo{
					count:             uint64(t.KeyCount()),
					size:              size,
					sstID:             t.FileNum,
					indexOffset:       t.IndexOffset(),
					bloomFilterOffset: t.BloomOffset(),
					name:              filepath.Base(fileGen.SSTPath(t.FileNum)),
				}
				buf = appendSSTInfo(buf, info)
			}
		}
	}

	path := filepath.Join(dbPath, metadataFileName)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return wrapIoError(err)
	}
	return nil
}

// loadedTree is the result of reading back the metadata file: the durable
// counters plus every SST reopened into its run/level shape.
type loadedTree struct {
	seq        uint64
	nextFileID uint64
	tree       *lsmtree.Version
}

// loadMetadata reads <dbPath>/metadata and reopens every SST it names,
// attaching blkCache (which may be nil) to each.
func loadMetadata(dbPath string, blockSize int, useDirectIO bool, blkCache cache.Cache) (*loadedTree, error) {
	path := filepath.Join(dbPath, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapIoError(err)
	}
	s := encoding.NewSlice(data)

	seq, ok := s.GetFixed64()
	if !ok {
		return nil, ErrCorruptMetadata
	}
	nextFileID, ok := s.GetFixed64()
	if !ok {
		return nil, ErrCorruptMetadata
	}
	numLevels, ok := s.GetFixed64()
	if !ok {
		return nil, ErrCorruptMetadata
	}

	tree := lsmtree.NewVersion()
	for i := uint64(0); i < numLevels; i++ {
		levelID, ok := s.GetFixed64()
		if !ok {
			return nil, ErrCorruptMetadata
		}
		numRuns, ok := s.GetFixed64()
		if !ok {
			return nil, ErrCorruptMetadata
		}
		for j := uint64(0); j < numRuns; j++ {
			numSSTs, ok := s.GetFixed64()
			if !ok {
				return nil, ErrCorruptMetadata
			}
			tables := make([]*sstable.Table, 0, numSSTs)
			for k := uint64(0); k < numSSTs; k++ {
				info, err := readSSTInfo(s)
				if err != nil {
					return nil, err
				}
				t, err := sstable.Open(filepath.Join(dbPath, info.name), info.sstID, blockSize, useDirectIO, blkCache)
				if err != nil {
					return nil, wrapIoError(err)
				}
				tables = append(tables, t)
			}
			tree.Append(int(levelID), lsmtree.NewSortedRun(tables))
		}
	}

	return &loadedTree{seq: seq, nextFileID: nextFileID, tree: tree}, nil
}
