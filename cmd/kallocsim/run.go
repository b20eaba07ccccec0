package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tinykern/kalloc/hostmem"
	"github.com/tinykern/kalloc/kalloc"
	"github.com/tinykern/kalloc/ksync"
	"github.com/tinykern/kalloc/mem"
	"github.com/tinykern/kalloc/memutils"
	"golang.org/x/sync/errgroup"
)

var (
	runMemoryMb   int
	runReservedKb int
	runWorkers    int
	runSteps      int
	runRounds     int
	runSeed       int64
	runMaxSize    int
	runFreeRatio  float64
	runTrack      bool
	runShrink     bool
	runDetailed   bool
	runTable      bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVar(&runMemoryMb, "memory", 64, "Size of the simulated physical memory in MiB")
	cmd.Flags().IntVar(&runReservedKb, "reserved", 1024, "KiB at the start of memory reserved for the kernel image")
	cmd.Flags().IntVar(&runWorkers, "workers", 4, "Number of concurrent workers sharing the allocator")
	cmd.Flags().IntVar(&runSteps, "steps", 10000, "Allocate or free operations per worker")
	cmd.Flags().IntVar(&runRounds, "rounds", 1, "Workload rounds; the allocator is reset and memory rediscovered between rounds")
	cmd.Flags().Int64Var(&runSeed, "seed", 1, "Seed of the first worker; later workers add their index")
	cmd.Flags().IntVar(&runMaxSize, "max-size", 16384, "Largest request size in bytes")
	cmd.Flags().Float64Var(&runFreeRatio, "free-ratio", 0.45, "Probability that a step frees instead of allocating")
	cmd.Flags().BoolVar(&runTrack, "track", false, "Track every allocation and verify layouts on free")
	cmd.Flags().BoolVar(&runShrink, "shrink", false, "Free everything and release empty slab frames before reporting")
	cmd.Flags().BoolVar(&runDetailed, "detailed", false, "Include every free block and slab frame in the JSON report")
	cmd.Flags().BoolVar(&runTable, "table", false, "Print a per size class table instead of JSON")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a randomized allocation workload",
		Long: `The run command maps host memory, hands it to a new allocator with a
reserved span carved out, and runs a random mix of allocations and frees on
several workers at once. Afterwards it validates the allocator and reports its
state.

Example:
  kallocsim run --memory 128 --workers 8
  kallocsim run --track --shrink --table
  kallocsim run --steps 1000 --detailed
  kallocsim run --rounds 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload()
		},
	}
}

type liveAllocation struct {
	block mem.Addr
	size  mem.Size
	align mem.Size
}

type workerResult struct {
	live      []liveAllocation
	allocated int
	freed     int
	exhausted int
}

func runWorkload() (err error) {
	if runMemoryMb <= 0 || runWorkers <= 0 || runMaxSize <= 0 || runRounds <= 0 {
		return cerrors.New("memory, workers, max-size and rounds must be positive")
	}

	memorySize := mem.Size(runMemoryMb) * mem.Mb
	region, err := hostmem.Map(memorySize, mem.Mb)
	if err != nil {
		return cerrors.Wrap(err, "failed to map simulated memory")
	}
	defer func() {
		if closeErr := region.Close(); closeErr != nil && err == nil {
			err = cerrors.Wrap(closeErr, "failed to unmap simulated memory")
		}
	}()

	var flags kalloc.CreateFlags
	if runTrack {
		flags |= kalloc.AllocatorCreateTrackAllocations
	}

	reserved := []mem.Region{
		{Start: region.Base(), Size: mem.Size(runReservedKb) * mem.Kb},
	}
	interrupts := &ksync.SoftInterrupts{}
	allocator, err := kalloc.New(newLogger(), kalloc.CreateOptions{
		Flags:      flags,
		Interrupts: interrupts,
		Memory:     []mem.Region{region.Region()},
		Reserved:   reserved,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create allocator")
	}

	var results []workerResult
	for round := 0; round < runRounds; round++ {
		if round > 0 {
			allocator.Reset()
			allocator.Discover(region.Region(), reserved, 0)
		}

		results, err = runRound(allocator, int64(round*runWorkers))
		if err != nil {
			return cerrors.Wrapf(err, "round %d", round)
		}
	}

	if runShrink {
		for _, result := range results {
			for _, live := range result.live {
				allocator.Free(live.block, live.size, live.align)
			}
		}
		printInfo("released %d empty slab frames\n", allocator.Shrink())

		if err := allocator.Validate(); err != nil {
			return cerrors.Wrap(err, "allocator failed validation after shrinking")
		}
	}

	if !interrupts.Enabled() {
		return cerrors.New("interrupts were left masked")
	}

	if runTable {
		printClassTable(allocator)
		return nil
	}

	fmt.Fprintln(os.Stdout, allocator.BuildStatsString(runDetailed))
	return nil
}

// runRound runs the workers of one round concurrently, then checks that their
// live allocations are disjoint and that the allocator is consistent.
func runRound(allocator *kalloc.Allocator, seedOffset int64) ([]workerResult, error) {
	results := make([]workerResult, runWorkers)
	var group errgroup.Group
	for worker := 0; worker < runWorkers; worker++ {
		worker := worker
		group.Go(func() error {
			rng := rand.New(rand.NewSource(runSeed + seedOffset + int64(worker)))
			result, err := runWorker(allocator, rng)
			results[worker] = result
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := checkDisjoint(results); err != nil {
		return nil, err
	}
	if err := allocator.Validate(); err != nil {
		return nil, cerrors.Wrap(err, "allocator failed validation after the workload")
	}

	var allocated, freed, exhausted int
	for _, result := range results {
		allocated += result.allocated
		freed += result.freed
		exhausted += result.exhausted
	}
	printInfo("%d allocations, %d frees, %d out of memory\n", allocated, freed, exhausted)

	return results, nil
}

func runWorker(allocator *kalloc.Allocator, rng *rand.Rand) (workerResult, error) {
	var result workerResult

	for step := 0; step < runSteps; step++ {
		if len(result.live) > 0 && rng.Float64() < runFreeRatio {
			index := rng.Intn(len(result.live))
			victim := result.live[index]
			result.live[index] = result.live[len(result.live)-1]
			result.live = result.live[:len(result.live)-1]

			allocator.Free(victim.block, victim.size, victim.align)
			result.freed++
			continue
		}

		// small requests dominate like they do in a real kernel heap
		size := mem.Size(rng.Intn(256)) + 1
		if rng.Intn(4) == 0 {
			size = mem.Size(rng.Intn(runMaxSize)) + 1
		}
		align := mem.Size(1) << rng.Intn(mem.PageShift+1)

		block, err := allocator.Allocate(size, align)
		if cerrors.Is(err, memutils.ErrOutOfMemory) {
			result.exhausted++
			continue
		}
		if err != nil {
			return result, err
		}
		if !block.IsAligned(align) {
			return result, cerrors.Newf("allocation %s is not aligned to %d", block, align)
		}

		mem.Memset(block, byte(step), size)
		result.live = append(result.live, liveAllocation{block: block, size: size, align: align})
		result.allocated++
	}

	return result, nil
}

// checkDisjoint verifies that no two live allocations start at the same
// address.
func checkDisjoint(results []workerResult) error {
	seen := swiss.NewMap[mem.Addr, int](1024)
	for worker, result := range results {
		for _, live := range result.live {
			if owner, duplicate := seen.Get(live.block); duplicate {
				return cerrors.Newf("%s is live in workers %d and %d", live.block, owner, worker)
			}
			seen.Put(live.block, worker)
		}
	}
	return nil
}

func printClassTable(allocator *kalloc.Allocator) {
	var stats kalloc.Statistics
	allocator.CalculateStatistics(&stats)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Size", "Align", "Frames", "Free Slots", "Live Objects"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, cache := range stats.Caches {
		table.Append([]string{
			cache.Layout.Size.String(),
			cache.Layout.Align.String(),
			strconv.Itoa(cache.Frames),
			strconv.Itoa(cache.FreeSlots),
			strconv.Itoa(cache.LiveObjects),
		})
	}
	table.SetFooter([]string{
		"", "Total",
		strconv.Itoa(stats.Slab.FrameCount),
		mem.Size(stats.Free.FreeBytes).String() + " free",
		strconv.Itoa(stats.Slab.AllocationCount),
	})

	table.Render()
}
