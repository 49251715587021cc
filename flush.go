package lsmkv

// flush.go implements the background flush thread: it drains immutable
// memtables into new level-0 SSTables, one CompactionJob per memtable.

import (
	"time"

	"github.com/wingtable/lsmkv/internal/compaction"
	"github.com/wingtable/lsmkv/internal/logging"
	"github.com/wingtable/lsmkv/internal/lsmtree"
	"github.com/wingtable/lsmkv/internal/memtable"
)

// pickMemTables returns every immutable memtable not already claimed by a
// flush in progress and not already flushed.
func pickMemTables(sv *lsmtree.SuperVersion) []*memtable.MemTable {
	var picked []*memtable.MemTable
	for _, imm := range sv.Imms {
		if !imm.FlushInProgress() && !imm.FlushComplete() {
			picked = append(picked, imm)
		}
	}
	return picked
}

func (db *DB) flushThread() {
	defer db.wg.Done()

	db.dbMu.Lock()
	defer db.dbMu.Unlock()
	for {
		if db.stopSignal.Load() {
			db.flushFlag = false
			return
		}

		sv := db.getSV()
		for len(sv.Tree.Levels()) > 0 && len(sv.Tree.Levels()[0].Runs()) >= db.opts.Level0StopWritesTrigger {
			db.dbMu.Unlock()
			time.Sleep(backoffInterval)
			db.dbMu.Lock()
			if db.stopSignal.Load() {
				db.flushFlag = false
				return
			}
			sv = db.getSV()
		}

		imms := pickMemTables(sv)
		if len(imms) == 0 {
			db.flushFlag = false
			db.flushCond.Wait()
			continue
		}
		for _, imm := range imms {
			imm.SetFlushInProgress(true)
		}
		db.flushFlag = true
		db.dbMu.Unlock()

		runs := db.runFlushJobs(imms)

		db.dbMu.Lock()
		for _, imm := range imms {
			imm.SetFlushComplete(true)
		}

		sv = db.getSV()
		var remaining []*memtable.MemTable
		for _, imm := range sv.Imms {
			if !imm.FlushComplete() {
				remaining = append(remaining, imm)
			}
		}

		newTree := lsmtree.NewVersion()
		for _, lv := range sv.Tree.Levels() {
			newTree.Append(lv.ID, lv.Runs()...)
		}
		if len(runs) > 0 {
			newTree.Append(0, runs...)
		}
		db.installSV(lsmtree.NewSuperVersion(sv.Mem, remaining, newTree))
		db.compactCond.Signal()
	}
}

// runFlushJobs writes one sorted run per immutable memtable, oldest first
// (imms arrives newest first), so level 0 keeps its newer runs last. It logs
// (but does not fail the whole batch on) a per-memtable I/O error.
func (db *DB) runFlushJobs(imms []*memtable.MemTable) []*lsmtree.SortedRun {
	var runs []*lsmtree.SortedRun
	for i := len(imms) - 1; i >= 0; i-- {
		imm := imms[i]
		job := compaction.NewJob(db.fileGen, db.opts.BlockSize, db.opts.SSTFileSize, db.opts.BloomBitsPerKey, db.opts.UseDirectIO, db.blkCache)
		tables, err := job.Run(imm.Begin(), false)
		if err != nil {
			db.logger.Errorf("%sflush failed: %v", logging.NSFlush, err)
			db.setBgError(err)
			continue
		}
		if len(tables) == 0 {
			continue
		}
		runs = append(runs, lsmtree.NewSortedRun(tables))
	}
	return runs
}
