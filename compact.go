package lsmkv

// compact.go implements the background compaction thread: it repeatedly
// asks the configured Picker for work, executes trivial moves and merges,
// and installs the resulting tree shape.

import (
	"github.com/wingtable/lsmkv/internal/compaction"
	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/iterator"
	"github.com/wingtable/lsmkv/internal/logging"
	"github.com/wingtable/lsmkv/internal/lsmtree"
	"github.com/wingtable/lsmkv/internal/sstable"
)

func (db *DB) compactThread() {
	defer db.wg.Done()

	db.dbMu.Lock()
	defer db.dbMu.Unlock()
	for {
		if db.stopSignal.Load() {
			db.compactFlag = false
			return
		}

		sv := db.getSV()
		c := db.picker.Pick(sv.Tree)
		if c == nil {
			db.compactFlag = false
			db.compactCond.Wait()
			continue
		}

		for _, t := range c.InputSSTs {
			t.SetCompactionInProgress(true)
		}
		for _, r := range c.InputRuns {
			r.SetCompactionInProgress(true)
		}
		if c.TargetRun != nil {
			c.TargetRun.SetCompactionInProgress(true)
		}
		db.compactFlag = true
		db.dbMu.Unlock()

		bottom := len(sv.Tree.Levels()) - 1
		dropTombstones := c.DstLevel >= bottom
		outputs, err := db.runCompaction(c, dropTombstones)

		db.dbMu.Lock()
		if err != nil {
			db.logger.Errorf("%scompaction failed: %v", logging.NSCompact, err)
			db.setBgError(err)
			clearCompactionFlags(c)
			continue
		}
		doomed := db.installCompaction(c, outputs)
		db.dbMu.Unlock()
		db.removeTables(doomed)
		db.dbMu.Lock()
	}
}

// runCompaction produces the compaction's output tables: the same tables
// unchanged for a trivial move, or a fresh merged sequence otherwise.
func (db *DB) runCompaction(c *compaction.Compaction, dropTombstones bool) ([]*sstable.Table, error) {
	if c.IsTrivialMove {
		return c.InputSSTs, nil
	}

	var children []iterator.Iterator
	for _, r := range c.InputRuns {
		children = append(children, r.Begin())
	}
	for _, t := range c.InputSSTs {
		children = append(children, lsmtree.NewSortedRun([]*sstable.Table{t}).Begin())
	}
	merged := iterator.NewMergingIterator(children, dbformat.CompareInternalKeys)

	job := compaction.NewJob(db.fileGen, db.opts.BlockSize, db.opts.SSTFileSize, db.opts.BloomBitsPerKey, db.opts.UseDirectIO, db.blkCache)
	return job.Run(merged, dropTombstones)
}

func clearCompactionFlags(c *compaction.Compaction) {
	for _, t := range c.InputSSTs {
		t.SetCompactionInProgress(false)
	}
	for _, r := range c.InputRuns {
		r.SetCompactionInProgress(false)
	}
	if c.TargetRun != nil {
		c.TargetRun.SetCompactionInProgress(false)
	}
}

// installCompaction marks every input consumed, rebuilds the tree around
// the compaction's outputs, publishes the result as a new SuperVersion, and
// returns the tables now safe to delete from disk (empty for a trivial
// move, since those keep their original file). Called with db.dbMu held.
func (db *DB) installCompaction(c *compaction.Compaction, outputs []*sstable.Table) []*sstable.Table {
	var doomed []*sstable.Table
	if !c.IsTrivialMove {
		doomed = append(doomed, c.InputSSTs...)
	}
	for _, t := range c.InputSSTs {
		t.SetCompactionInProgress(false)
		t.SetRemoveTag(true)
	}
	for _, r := range c.InputRuns {
		r.SetCompactionInProgress(false)
		r.SetRemoveTag(true)
		doomed = append(doomed, r.Tables()...)
	}
	if c.TargetRun != nil {
		c.TargetRun.SetCompactionInProgress(false)
	}

	sv := db.getSV()
	newTree := lsmtree.NewVersion()
	for _, lv := range sv.Tree.Levels() {
		for _, r := range lv.Runs() {
			if r == c.TargetRun || r.RemoveTag() {
				continue
			}
			if r.CompactionInProgress() {
				newTree.Append(lv.ID, r)
				continue
			}
			if live := liveTables(r); len(live) > 0 {
				newTree.Append(lv.ID, lsmtree.NewSortedRun(live))
			}
		}
	}

	var newRun *lsmtree.SortedRun
	switch {
	case c.TargetRun != nil:
		if tables := spliceIntoTargetRun(c.TargetRun, outputs); len(tables) > 0 {
			newRun = lsmtree.NewSortedRun(tables)
		}
	case len(outputs) > 0:
		newRun = lsmtree.NewSortedRun(outputs)
	}
	if newRun != nil {
		newTree.Append(c.DstLevel, newRun)
	}

	if c.IsTrivialMove {
		for _, t := range c.InputSSTs {
			t.SetRemoveTag(false)
		}
	}

	db.installSV(lsmtree.NewSuperVersion(sv.Mem, sv.Imms, newTree))
	return doomed
}

// liveTables returns r's tables that have not been superseded.
func liveTables(r *lsmtree.SortedRun) []*sstable.Table {
	var live []*sstable.Table
	for _, t := range r.Tables() {
		if !t.RemoveTag() {
			live = append(live, t)
		}
	}
	return live
}

// spliceIntoTargetRun merges target's surviving (non-removed) tables with
// outputs, inserting outputs at the correct position by key range. Since
// outputs and target's surviving tables never overlap in key range (the
// picker chose outputs to replace exactly the overlapping portion of
// target), a single left-to-right merge by smallest key suffices.
func spliceIntoTargetRun(target *lsmtree.SortedRun, outputs []*sstable.Table) []*sstable.Table {
	old := target.Tables()
	if len(outputs) == 0 {
		return liveTables(target)
	}

	var merged []*sstable.Table
	i := 0
	for i < len(old) && dbformat.CompareInternalKeys(old[i].LargestKey(), outputs[0].SmallestKey()) < 0 {
		if !old[i].RemoveTag() {
			merged = append(merged, old[i])
		}
		i++
	}
	merged = append(merged, outputs...)
	for ; i < len(old); i++ {
		if !old[i].RemoveTag() {
			merged = append(merged, old[i])
		}
	}
	return merged
}
