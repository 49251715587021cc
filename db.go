package lsmkv

// db.go implements the DB handle itself: opening and closing a database,
// the Put/Del/Get read-write path, and the memtable-switching logic that
// feeds the background flush and compaction threads defined in flush.go
// and compact.go.

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wingtable/lsmkv/internal/cache"
	"github.com/wingtable/lsmkv/internal/compaction"
	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/logging"
	"github.com/wingtable/lsmkv/internal/lsmtree"
	"github.com/wingtable/lsmkv/internal/memtable"
	"github.com/wingtable/lsmkv/internal/sstable"
	"github.com/wingtable/lsmkv/internal/sstio"
)

// backoffInterval is how long a blocked writer or a draining background
// thread sleeps before re-checking the condition it's waiting on.
const backoffInterval = 100 * time.Millisecond

// DB is an open handle to an lsmkv database. A DB is safe for concurrent
// use by multiple goroutines.
type DB struct {
	path   string
	opts   Options
	logger Logger

	icmp     *dbformat.InternalKeyComparator
	fileGen  *sstio.FileNameGenerator
	picker   compaction.Picker
	blkCache cache.Cache

	seq atomic.Uint64

	writeMu sync.Mutex

	dbMu        sync.Mutex
	flushCond   *sync.Cond
	compactCond *sync.Cond
	flushFlag   bool
	compactFlag bool
	stopSignal  atomic.Bool

	svMu sync.RWMutex
	sv   *lsmtree.SuperVersion

	bgErr atomic.Pointer[error]

	wg sync.WaitGroup
}

// Open opens (or creates) a database at path. Callers should defer
// db.Close() once Open succeeds.
func Open(path string, options ...Option) (*DB, error) {
	opts := *DefaultOptions()
	opts.DBPath = path
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Comparator == nil {
		opts.Comparator = DefaultComparator()
	}

	picker, err := newPicker(&opts)
	if err != nil {
		return nil, err
	}

	if opts.CreateNew {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, wrapIoError(err)
		}
	}

	db := &DB{
		path:   path,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
		icmp:   &dbformat.InternalKeyComparator{UserCompare: opts.Comparator.Compare},
		picker: picker,
	}
	db.flushCond = sync.NewCond(&db.dbMu)
	db.compactCond = sync.NewCond(&db.dbMu)

	if opts.BlockCacheSize > 0 {
		db.blkCache = cache.NewLRUCache(opts.BlockCacheSize)
	}

	var seq uint64
	var nextFileID uint64
	var tree *lsmtree.Version
	if opts.CreateNew {
		tree = lsmtree.NewVersion()
	} else {
		loaded, err := loadMetadata(path, opts.BlockSize, opts.UseDirectIO, db.blkCache)
		if err != nil {
			return nil, err
		}
		seq, nextFileID, tree = loaded.seq, loaded.nextFileID, loaded.tree
	}

	db.seq.Store(seq)
	db.fileGen = sstio.NewFileNameGenerator(path, nextFileID)
	db.sv = lsmtree.NewSuperVersion(memtable.NewMemTable(opts.Comparator.Compare), nil, tree)

	db.wg.Add(2)
	go db.flushThread()
	go db.compactThread()

	return db, nil
}

func newPicker(opts *Options) (compaction.Picker, error) {
	base := uint64(opts.Level0CompactionTrigger) * opts.SSTFileSize
	switch opts.CompactionStrategyName {
	case "leveled":
		return &compaction.LeveledPicker{
			Ratio: opts.CompactionSizeRatio, BaseLevelSize: base,
			Level0CompactionTrigger: opts.Level0CompactionTrigger,
		}, nil
	case "tiered":
		return &compaction.TieredPicker{
			Ratio: opts.CompactionSizeRatio, BaseLevelSize: base,
			Level0CompactionTrigger: opts.Level0CompactionTrigger,
		}, nil
	case "lazyleveling":
		return &compaction.LazyLevelingPicker{
			Ratio: opts.CompactionSizeRatio, BaseLevelSize: base,
			Level0CompactionTrigger: opts.Level0CompactionTrigger,
		}, nil
	case "fluid":
		return compaction.NewFluidPicker(opts.TargetAlpha, opts.TargetScanLength, base,
			opts.Level0CompactionTrigger, backoffInterval*10), nil
	default:
		return nil, fmt.Errorf("%w: unknown compaction strategy %q", ErrInvalidArgument, opts.CompactionStrategyName)
	}
}

// getSV returns the currently published SuperVersion.
func (db *DB) getSV() *lsmtree.SuperVersion {
	db.svMu.RLock()
	defer db.svMu.RUnlock()
	return db.sv
}

// installSV publishes sv as the new current SuperVersion.
func (db *DB) installSV(sv *lsmtree.SuperVersion) {
	db.svMu.Lock()
	db.sv = sv
	db.svMu.Unlock()
}

func (db *DB) setBgError(err error) {
	if err == nil {
		return
	}
	db.logger.Errorf("%sbackground error: %v", logging.NSDB, err)
	db.bgErr.CompareAndSwap(nil, &err)
}

func (db *DB) bgError() error {
	if p := db.bgErr.Load(); p != nil {
		return wrapIoError(*p)
	}
	return nil
}

// Put inserts or overwrites key with value.
func (db *DB) Put(key, value []byte) error {
	return db.write(key, value, false)
}

// Del records a tombstone for key.
func (db *DB) Del(key []byte) error {
	return db.write(key, nil, true)
}

func (db *DB) write(key, value []byte, isDelete bool) error {
	if db.stopSignal.Load() {
		return ErrShuttingDown
	}
	if err := db.bgError(); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	seq := dbformat.SequenceNumber(db.seq.Add(1))
	sv := db.getSV()
	if isDelete {
		sv.Mem.Del(seq, key)
	} else {
		sv.Mem.Put(seq, key, value)
	}

	if uint64(sv.Mem.ApproximateMemoryUsage()) > db.opts.SSTFileSize {
		db.switchMemtable(false)
	}
	return nil
}

// Get looks up key. found is false when the key has never been written or
// its most recent record is a tombstone.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	if err := db.bgError(); err != nil {
		return nil, false, err
	}
	sv := db.getSV()
	seq := dbformat.SequenceNumber(db.seq.Load())
	res, val, rerr := sv.Get(key, seq)
	if rerr != nil {
		db.setBgError(rerr)
		return nil, false, wrapIoError(rerr)
	}
	if res != dbformat.GetFound {
		return nil, false, nil
	}
	return val, true, nil
}

// Begin returns an iterator positioned at the database's first live key, as
// of the current snapshot.
func (db *DB) Begin() *DBIterator {
	it := newDBIterator(db.getSV(), dbformat.SequenceNumber(db.seq.Load()), db.icmp)
	it.SeekToFirst()
	return it
}

// Seek returns an iterator positioned at the first key >= key, as of the
// current snapshot.
func (db *DB) Seek(key []byte) *DBIterator {
	it := newDBIterator(db.getSV(), dbformat.SequenceNumber(db.seq.Load()), db.icmp)
	it.Seek(key)
	return it
}

// switchMemtable rotates the current mutable memtable into the immutable
// queue and wakes the flush thread. Callers must not hold dbMu; the write
// path calls it with writeMu held.
// If force is false, the switch is skipped when the memtable is empty.
func (db *DB) switchMemtable(force bool) {
	db.dbMu.Lock()
	sv := db.getSV()
	for len(sv.Imms) >= db.opts.MaxImmutableCount {
		db.dbMu.Unlock()
		time.Sleep(backoffInterval)
		db.dbMu.Lock()
		sv = db.getSV()
	}

	if !force && sv.Mem.Empty() {
		db.dbMu.Unlock()
		return
	}

	newImms := append([]*memtable.MemTable{sv.Mem}, sv.Imms...)
	newMem := memtable.NewMemTable(db.opts.Comparator.Compare)
	db.installSV(lsmtree.NewSuperVersion(newMem, newImms, sv.Tree))
	db.flushCond.Signal()
	db.dbMu.Unlock()
}

// DropAll waits for any in-flight flush/compaction to drain, then installs
// a fresh, empty SuperVersion and removes every existing SST file.
func (db *DB) DropAll() error {
	db.FlushAll()
	db.waitForFlushAndCompaction()

	db.dbMu.Lock()
	sv := db.getSV()
	var doomed []*sstable.Table
	for _, lv := range sv.Tree.Levels() {
		for _, r := range lv.Runs() {
			r.SetRemoveTag(true)
			doomed = append(doomed, r.Tables()...)
		}
	}
	fresh := lsmtree.NewSuperVersion(memtable.NewMemTable(db.opts.Comparator.Compare), nil, lsmtree.NewVersion())
	db.installSV(fresh)
	db.dbMu.Unlock()

	db.removeTables(doomed)
	return nil
}

// removeTables closes and deletes the on-disk files backing tables. A
// table already pinned by an in-flight reader is closed out from under
// that reader; lsmkv does not reference-count readers against concurrent
// removal, so callers must only pass tables no longer reachable from the
// published SuperVersion.
func (db *DB) removeTables(tables []*sstable.Table) {
	for _, t := range tables {
		path := db.fileGen.SSTPath(t.FileNum)
		if err := t.Close(); err != nil {
			db.logger.Warnf("%sclose %s during removal: %v", logging.NSCompact, path, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			db.logger.Warnf("%sremove %s: %v", logging.NSCompact, path, err)
		}
	}
}

// FlushAll forces the current memtable to switch and blocks until every
// memtable (mutable and immutable) has been flushed to disk.
func (db *DB) FlushAll() error {
	db.switchMemtable(true)
	for {
		sv := db.getSV()
		if sv.Mem.Empty() && len(sv.Imms) == 0 {
			return db.bgError()
		}
		time.Sleep(backoffInterval)
	}
}

func (db *DB) waitForFlushAndCompaction() {
	for {
		db.dbMu.Lock()
		idle := !db.flushFlag && !db.compactFlag
		db.dbMu.Unlock()
		if idle {
			return
		}
		time.Sleep(backoffInterval)
	}
}

// Close flushes every outstanding memtable, stops the background threads,
// and persists the final tree shape to the metadata file.
func (db *DB) Close() error {
	if db.stopSignal.Load() {
		return ErrShuttingDown
	}

	if err := db.FlushAll(); err != nil {
		db.logger.Warnf("%sflush during close reported: %v", logging.NSDB, err)
	}

	if !db.stopSignal.CompareAndSwap(false, true) {
		return ErrShuttingDown
	}

	db.dbMu.Lock()
	db.flushCond.Broadcast()
	db.compactCond.Broadcast()
	db.dbMu.Unlock()
	db.wg.Wait()

	sv := db.getSV()
	if err := saveMetadata(db.path, db.fileGen, db.seq.Load(), db.fileGen.NextFileID(), sv.Tree); err != nil {
		return err
	}
	if db.blkCache != nil {
		db.blkCache.Close()
	}
	return db.bgError()
}
