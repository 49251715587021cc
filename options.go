package lsmkv

// options.go implements database configuration options.

import (
	"github.com/wingtable/lsmkv/internal/logging"
)

// Logger is an alias for the logging.Logger interface, so callers can wire
// their own implementation without importing the internal package.
type Logger = logging.Logger

// Options holds every configuration value Open reads. Use DefaultOptions
// and the With* functions rather than constructing Options directly, so
// future fields get sane defaults.
type Options struct {
	// DBPath is the directory the database lives in. It is created if
	// CreateNew is true and it does not already exist.
	DBPath string

	// CreateNew causes Open to initialize a fresh, empty database at
	// DBPath instead of loading existing metadata.
	CreateNew bool

	// BlockSize is the target size of a data block within an SST file.
	BlockSize int

	// SSTFileSize is the memtable/SST size threshold that triggers a
	// memtable switch and bounds how large a single compaction output
	// file grows before a new one is opened.
	SSTFileSize uint64

	// WriteBufferSize is reserved for a future write-buffer-pool budget;
	// it is accepted but not yet enforced independently of SSTFileSize.
	WriteBufferSize int

	// BloomBitsPerKey is the number of bits per key used when building an
	// SST's Bloom filter. Values below 1 are treated as 1; every SST is
	// written with a filter and point lookups always consult it.
	BloomBitsPerKey int

	// UseDirectIO requests O_DIRECT for SST reads and writes where the
	// platform supports it.
	UseDirectIO bool

	// CompactionStrategyName selects the compaction picker: one of
	// "leveled", "tiered", "lazyleveling", "fluid".
	CompactionStrategyName string

	// CompactionSizeRatio is the per-level size multiplier (leveled,
	// tiered, lazyleveling) or the Fluid picker's initial guess.
	CompactionSizeRatio float64

	// Level0CompactionTrigger is the number of level-0 runs that triggers
	// a level-0 compaction.
	Level0CompactionTrigger int

	// Level0StopWritesTrigger is the number of level-0 runs that makes the
	// flush thread apply write back-pressure.
	Level0StopWritesTrigger int

	// MaxImmutableCount is the number of immutable memtables allowed to
	// queue before Put/Del back off and wait for the flush thread.
	MaxImmutableCount int

	// TargetAlpha is the Fluid strategy's Bloom-filter memory/scan-cost
	// tradeoff knob. Ignored by other strategies.
	TargetAlpha float64

	// TargetScanLength is the Fluid strategy's assumed range-scan length
	// in keys, used when retuning K and C. Ignored by other strategies.
	TargetScanLength float64

	// BlockCacheSize is the capacity, in bytes, of the shared LRU block
	// cache. 0 disables caching and every block read goes to disk.
	BlockCacheSize uint64

	// Comparator orders user keys in memtables and in DBIterator. If nil,
	// BytewiseComparator is used. SSTables, sorted runs, merging iterators
	// and compaction order user keys bytewise whatever this is set to.
	Comparator Comparator

	// Logger receives operational log lines. If nil, a WARN-level default
	// logger writing to stderr is used.
	Logger Logger
}

// DefaultOptions returns Options with the reference implementation's
// defaults filled in. DBPath is left empty; callers must set it.
func DefaultOptions() *Options {
	return &Options{
		CreateNew:               false,
		BlockSize:               4096,
		SSTFileSize:             64 << 20,
		WriteBufferSize:         64 << 20,
		BloomBitsPerKey:         10,
		UseDirectIO:             false,
		CompactionStrategyName:  "leveled",
		CompactionSizeRatio:     10,
		Level0CompactionTrigger: 4,
		Level0StopWritesTrigger: 12,
		MaxImmutableCount:       4,
		TargetAlpha:             1,
		TargetScanLength:        1,
		BlockCacheSize:          8 << 20,
		Comparator:              DefaultComparator(),
		Logger:                  nil,
	}
}

// Option mutates Options in place; used with Open(path, opts...).
type Option func(*Options)

// WithCreateNew sets CreateNew.
func WithCreateNew(v bool) Option { return func(o *Options) { o.CreateNew = v } }

// WithBlockSize sets BlockSize.
func WithBlockSize(n int) Option { return func(o *Options) { o.BlockSize = n } }

// WithSSTFileSize sets SSTFileSize.
func WithSSTFileSize(n uint64) Option { return func(o *Options) { o.SSTFileSize = n } }

// WithWriteBufferSize sets WriteBufferSize.
func WithWriteBufferSize(n int) Option { return func(o *Options) { o.WriteBufferSize = n } }

// WithBloomBitsPerKey sets BloomBitsPerKey.
func WithBloomBitsPerKey(n int) Option { return func(o *Options) { o.BloomBitsPerKey = n } }

// WithUseDirectIO sets UseDirectIO.
func WithUseDirectIO(v bool) Option { return func(o *Options) { o.UseDirectIO = v } }

// WithCompactionStrategy sets CompactionStrategyName and CompactionSizeRatio
// together, since every strategy interprets the ratio differently.
func WithCompactionStrategy(name string, sizeRatio float64) Option {
	return func(o *Options) {
		o.CompactionStrategyName = name
		o.CompactionSizeRatio = sizeRatio
	}
}

// WithLevel0Triggers sets Level0CompactionTrigger and
// Level0StopWritesTrigger together, since the latter must exceed the
// former to leave room for back-pressure to matter.
func WithLevel0Triggers(compactionTrigger, stopWritesTrigger int) Option {
	return func(o *Options) {
		o.Level0CompactionTrigger = compactionTrigger
		o.Level0StopWritesTrigger = stopWritesTrigger
	}
}

// WithMaxImmutableCount sets MaxImmutableCount.
func WithMaxImmutableCount(n int) Option { return func(o *Options) { o.MaxImmutableCount = n } }

// WithFluidTargets sets TargetAlpha and TargetScanLength, used only by the
// "fluid" compaction strategy.
func WithFluidTargets(alpha, scanLength float64) Option {
	return func(o *Options) {
		o.TargetAlpha = alpha
		o.TargetScanLength = scanLength
	}
}

// WithBlockCacheSize sets BlockCacheSize.
func WithBlockCacheSize(n uint64) Option { return func(o *Options) { o.BlockCacheSize = n } }

// WithComparator sets Comparator.
func WithComparator(c Comparator) Option { return func(o *Options) { o.Comparator = c } }

// WithLogger sets Logger.
func WithLogger(l Logger) Option { return func(o *Options) { o.Logger = l } }
