package compaction

import (
	"math"
	"time"

	"github.com/wingtable/lsmkv/internal/dbformat"
	"github.com/wingtable/lsmkv/internal/lsmtree"
	"github.com/wingtable/lsmkv/internal/sstable"
)

// Compaction describes one unit of compaction work: either a set of loose
// SSTables (a leveled picker's single-file-plus-overlap choice) or a set
// of whole sorted runs (a tiered-style picker's merge-everything choice),
// moving from SrcLevel to DstLevel.
type Compaction struct {
	InputSSTs     []*sstable.Table
	InputRuns     []*lsmtree.SortedRun
	SrcLevel      int
	DstLevel      int
	TargetRun     *lsmtree.SortedRun
	IsTrivialMove bool
}

// Picker decides what to compact next given the current on-disk tree. It
// returns nil when nothing meets its trigger thresholds.
type Picker interface {
	Pick(v *lsmtree.Version) *Compaction
}

func level0Busy(v *lsmtree.Version) bool {
	levels := v.Levels()
	if len(levels) < 2 {
		return false
	}
	for _, r := range levels[1].Runs() {
		if r.CompactionInProgress() {
			return true
		}
	}
	return false
}

func compactLevel0(v *lsmtree.Version, trigger int) *Compaction {
	levels := v.Levels()
	if len(levels[0].Runs()) < trigger || level0Busy(v) {
		return nil
	}
	runs := append([]*lsmtree.SortedRun(nil), levels[0].Runs()...)
	for _, r := range runs {
		if r.CompactionInProgress() || r.RemoveTag() {
			return nil
		}
	}
	if len(levels) > 1 && len(levels[1].Runs()) > 0 {
		runs = append(runs, levels[1].Runs()[0])
	}
	return &Compaction{InputRuns: runs, SrcLevel: 0, DstLevel: 1}
}

// LeveledPicker implements the classic leveled strategy: each level i ≥ 1
// has a byte budget of base_level_size·ratio^i; when exceeded, it picks one
// SST from level i with minimum key-range overlap on level i+1 via a
// two-pointer sliding window, or performs a trivial move if level i is the
// bottom level.
type LeveledPicker struct {
	Ratio                   float64
	BaseLevelSize           uint64
	Level0CompactionTrigger int
}

// Pick selects the highest-priority leveled compaction, if any.
func (p *LeveledPicker) Pick(v *lsmtree.Version) *Compaction {
	levels := v.Levels()
	if len(levels) == 0 {
		return nil
	}

	sizeLimit := p.BaseLevelSize
	for i := 1; i < len(levels); i++ {
		sizeLimit = uint64(float64(sizeLimit) * p.Ratio)
		levelNRuns := levels[i].Runs()
		if len(levelNRuns) == 0 || levels[i].Size() < sizeLimit {
			continue
		}
		levelNRun := levelNRuns[0]
		if levelNRun.CompactionInProgress() || levelNRun.RemoveTag() {
			continue
		}

		if i+1 == len(levels) {
			return &Compaction{
				InputSSTs:     []*sstable.Table{firstLiveTable(levelNRun)},
				SrcLevel:      i,
				DstLevel:      i + 1,
				IsTrivialMove: true,
			}
		}

		targetRun := levels[i+1].Runs()[0]
		if targetRun.CompactionInProgress() || targetRun.RemoveTag() {
			continue
		}
		inputs, trivial := pickMinOverlap(levelNRun, targetRun)
		if inputs == nil {
			continue
		}
		return &Compaction{
			InputSSTs:     inputs,
			SrcLevel:      i,
			DstLevel:      i + 1,
			TargetRun:     targetRun,
			IsTrivialMove: trivial,
		}
	}

	return compactLevel0(v, p.Level0CompactionTrigger)
}

func firstLiveTable(run *lsmtree.SortedRun) *sstable.Table {
	for _, t := range run.Tables() {
		if !t.CompactionInProgress() && !t.RemoveTag() {
			return t
		}
	}
	return nil
}

// pickMinOverlap finds the SST in srcRun whose key range overlaps the
// fewest dstRun tables, using a two-pointer sliding window
// over dstRun's tables (ordered by key range, same as srcRun's). It
// returns the chosen source SST plus every overlapping destination SST, or
// nil if every candidate is busy.
func pickMinOverlap(srcRun, dstRun *lsmtree.SortedRun) ([]*sstable.Table, bool) {
	dstTables := dstRun.Tables()
	lp, rp := 0, 0
	var overlapSize uint64
	var bestL, bestR int
	var best *sstable.Table
	minOverlap := uint64(math.MaxUint64)

	for _, src := range srcRun.Tables() {
		if src.CompactionInProgress() || src.RemoveTag() {
			continue
		}
		for rp < len(dstTables) && dbformat.CompareInternalKeys(dstTables[rp].SmallestKey(), src.LargestKey()) <= 0 {
			overlapSize++
			rp++
		}
		for lp < len(dstTables) && dbformat.CompareInternalKeys(dstTables[lp].LargestKey(), src.SmallestKey()) < 0 {
			overlapSize--
			lp++
		}
		if overlapSize < minOverlap {
			minOverlap = overlapSize
			bestL, bestR = lp, rp
			best = src
		}
	}
	if best == nil {
		return nil, false
	}

	inputs := []*sstable.Table{best}
	trivial := bestL == bestR
	for i := bestL; i < bestR; i++ {
		inputs = append(inputs, dstTables[i])
	}
	return inputs, trivial
}

// TieredPicker merges whole runs: when a level accumulates ratio-many runs
// (or exceeds its size budget), every run in that level is merged into one
// new run at the next level.
type TieredPicker struct {
	Ratio                   float64
	BaseLevelSize           uint64
	Level0CompactionTrigger int
}

// Pick selects the highest-priority tiered compaction, if any.
func (p *TieredPicker) Pick(v *lsmtree.Version) *Compaction {
	levels := v.Levels()
	if len(levels) == 0 {
		return nil
	}

	sizeLimit := p.BaseLevelSize
	for i := 1; i < len(levels); i++ {
		sizeLimit = uint64(float64(sizeLimit) * p.Ratio)
		if float64(len(levels[i].Runs())) >= p.Ratio || levels[i].Size() >= sizeLimit {
			if anyBusy(levels[i].Runs()) {
				continue
			}
			return &Compaction{InputRuns: levels[i].Runs(), SrcLevel: i, DstLevel: i + 1}
		}
	}

	return compactLevel0(v, p.Level0CompactionTrigger)
}

func anyBusy(runs []*lsmtree.SortedRun) bool {
	for _, r := range runs {
		if r.CompactionInProgress() || r.RemoveTag() {
			return true
		}
	}
	return false
}

// LazyLevelingPicker behaves tiered for every level below the bottom, and
// leveled at the bottom level — trading the tiered strategy's lower write
// amplification against the leveled strategy's lower read/space
// amplification at the level that matters most for point lookups.
type LazyLevelingPicker struct {
	Ratio                   float64
	BaseLevelSize           uint64
	Level0CompactionTrigger int
}

// Pick selects the highest-priority lazy-leveling compaction, if any.
func (p *LazyLevelingPicker) Pick(v *lsmtree.Version) *Compaction {
	levels := v.Levels()
	if len(levels) == 0 {
		return nil
	}
	bottom := len(levels) - 1

	if bottom >= 1 {
		sizeLimit := p.BaseLevelSize
		for i := 1; i < bottom; i++ {
			sizeLimit = uint64(float64(sizeLimit) * p.Ratio)
			if float64(len(levels[i].Runs())) >= p.Ratio || levels[i].Size() >= sizeLimit {
				if anyBusy(levels[i].Runs()) {
					continue
				}
				runs := levels[i].Runs()
				if i == bottom-1 {
					runs = append(append([]*lsmtree.SortedRun(nil), runs...), levels[i+1].Runs()[0])
				}
				return &Compaction{InputRuns: runs, SrcLevel: i, DstLevel: i + 1}
			}
		}

		sizeLimit = uint64(float64(p.BaseLevelSize) * math.Pow(p.Ratio, float64(bottom)))
		if levels[bottom].Size() >= sizeLimit {
			run := levels[bottom].Runs()[0]
			if !run.CompactionInProgress() && !run.RemoveTag() {
				return &Compaction{
					InputSSTs:     append([]*sstable.Table(nil), run.Tables()...),
					SrcLevel:      bottom,
					DstLevel:      bottom + 1,
					IsTrivialMove: true,
				}
			}
		}
	}

	return compactLevel0(v, p.Level0CompactionTrigger)
}

// FluidPicker behaves like LazyLevelingPicker but periodically retunes two
// parameters — K (max runs per non-bottom level) and C (bottom level's
// size ratio) — to minimize a closed-form cost estimate balancing write
// amplification against Bloom-filter-weighted scan cost.
type FluidPicker struct {
	Alpha                   float64
	ScanLength              float64
	BaseLevelSize           uint64
	Level0CompactionTrigger int
	RetuneInterval          time.Duration

	K int
	C int

	lastUpdate time.Time
	now        func() time.Time
}

// NewFluidPicker creates a FluidPicker with initial K/C guesses; it
// retunes them no more often than retuneInterval.
func NewFluidPicker(alpha, scanLength float64, baseLevelSize uint64, level0Trigger int, retuneInterval time.Duration) *FluidPicker {
	return &FluidPicker{
		Alpha:                   alpha,
		ScanLength:              scanLength,
		BaseLevelSize:           baseLevelSize,
		Level0CompactionTrigger: level0Trigger,
		RetuneInterval:          retuneInterval,
		K:                       2,
		C:                       2,
		now:                     time.Now,
	}
}

func (p *FluidPicker) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// updateKC retunes K and C to minimize the scan-cost closed form, following
// a separate per-level exponential Bloom-false-positive estimate for each
// level above the bottom and for the bottom level itself.
func (p *FluidPicker) updateKC(v *lsmtree.Version) {
	now := p.clock()
	if !p.lastUpdate.IsZero() && now.Sub(p.lastUpdate) <= p.RetuneInterval {
		return
	}

	levels := v.Levels()
	L := len(levels) - 1
	if L < 1 {
		return
	}
	bottom := levels[L]
	bottomRuns := bottom.Runs()
	if len(bottomRuns) == 0 {
		return
	}
	n := float64(bottom.Size())
	estN := n * 1.7
	keyCount := bottomRuns[0].KeyCount()
	blockSize := bottomRuns[0].BlockSize()
	beta := p.Alpha * float64(blockSize) * float64(keyCount) / math.Max(n, 1)

	minCost := math.MaxFloat64
	optK, optC := p.K, p.C
	maxK := int(math.Ceil(math.Pow(0.5*estN/float64(p.BaseLevelSize), 1.0/float64(L))))
	for k := 2; k <= maxK; k++ {
		c := math.Max(2, estN/float64(p.BaseLevelSize)/math.Pow(float64(k), float64(L-1)))
		var r float64
		totalSize := estN + (math.Pow(float64(k), float64(L+1))-float64(k))/(float64(k)-1)
		sz := float64(p.BaseLevelSize)
		for l := 1; l <= L; l++ {
			if l == L {
				r += 1 - math.Exp(-p.ScanLength*estN/totalSize)
			} else {
				r += float64(k) * (1 - math.Exp(-p.ScanLength*sz/totalSize))
			}
			sz *= float64(k)
		}
		cost := float64(L-1) + c + beta*r
		if cost < minCost {
			minCost = cost
			optK = k
			optC = int(c)
		}
	}

	p.C = optC
	if abs(optK-p.K) >= 2 {
		p.K = optK
	}
	p.lastUpdate = now
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Pick selects the highest-priority Fluid compaction, if any, first
// retuning K/C if the retune interval has elapsed.
func (p *FluidPicker) Pick(v *lsmtree.Version) *Compaction {
	levels := v.Levels()
	if len(levels) == 0 {
		return nil
	}
	L := len(levels) - 1
	if L >= 2 {
		p.updateKC(v)
	}

	if L >= 1 {
		sizeLimit := p.BaseLevelSize
		for i := 1; i < L; i++ {
			sizeLimit = uint64(float64(sizeLimit) * float64(p.K))
			if len(levels[i].Runs()) >= p.K || levels[i].Size() >= sizeLimit {
				if anyBusy(levels[i].Runs()) {
					continue
				}
				runs := levels[i].Runs()
				if i == L-1 {
					runs = append(append([]*lsmtree.SortedRun(nil), runs...), levels[i+1].Runs()[0])
				}
				return &Compaction{InputRuns: runs, SrcLevel: i, DstLevel: i + 1}
			}
		}

		sizeLimit = uint64(float64(sizeLimit) * float64(p.C))
		if levels[L].Size() >= sizeLimit {
			run := levels[L].Runs()[0]
			if !run.CompactionInProgress() && !run.RemoveTag() {
				return &Compaction{
					InputSSTs:     append([]*sstable.Table(nil), run.Tables()...),
					SrcLevel:      L,
					DstLevel:      L + 1,
					IsTrivialMove: true,
				}
			}
		}
	}

	if len(levels[0].Runs()) >= p.Level0CompactionTrigger && !level0Busy(v) {
		runs := append([]*lsmtree.SortedRun(nil), levels[0].Runs()...)
		for _, r := range runs {
			if r.CompactionInProgress() || r.RemoveTag() {
				return nil
			}
		}
		if L == 1 {
			runs = append(runs, levels[1].Runs()[0])
		}
		return &Compaction{InputRuns: runs, SrcLevel: 0, DstLevel: 1}
	}
	return nil
}
