package heap_test

import (
	"io"
	"math"
	"testing"

	"github.com/memworks/smallheap/heap"
	"github.com/memworks/smallheap/memutils"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

func testHeap(t *testing.T, options heap.CreateOptions) *heap.Heap {
	h, err := heap.New(testLogger(), options)
	require.NoError(t, err)
	return h
}

// The 8KiB-span scenario: allocate, recycle at the same address, and fail a
// request larger than the whole configured range.
func TestAllocFreeRecycle(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	ptr, ok := h.Alloc(100)
	require.True(t, ok)
	require.NotEqual(t, heap.NullAddress, ptr)
	require.NoError(t, h.Validate())

	h.Free(ptr)
	require.NoError(t, h.Validate())

	again, ok := h.Alloc(100)
	require.True(t, ok)
	require.Equal(t, ptr, again)

	tooBig, ok := h.Alloc(0x2000 + 1)
	require.False(t, ok)
	require.Equal(t, heap.NullAddress, tooBig)
}

func TestZeroSizeCoerced(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{})

	ptr, ok := h.Alloc(0)
	require.True(t, ok)
	require.Len(t, h.Bytes(ptr), heap.FreedRecordSize-heap.ChunkHeaderSize)
}

func TestNegativeSizeFails(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{})

	ptr, ok := h.Alloc(-1)
	require.False(t, ok)
	require.Equal(t, heap.NullAddress, ptr)
	require.Equal(t, 0, h.BlockCount())
}

// A request so large that adding the header would wrap the chunk-size
// arithmetic must fail like any other over-sized request, not wrap around
// to the minimum chunk and hand back a tiny payload.
func TestOversizedRequestDoesNotWrap(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	ptr, ok := h.Alloc(math.MaxInt - 10)
	require.False(t, ok)
	require.Equal(t, heap.NullAddress, ptr)

	ptr, ok = h.Alloc(math.MaxInt)
	require.False(t, ok)
	require.Equal(t, heap.NullAddress, ptr)

	require.Equal(t, 0, h.BlockCount())
	require.NoError(t, h.Validate())
}

func TestDoubleFreeAbsorbed(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	ptr, ok := h.Alloc(100)
	require.True(t, ok)

	h.Free(ptr)
	h.Free(ptr)
	require.NoError(t, h.Validate())

	// One entry in the free-list, not two: the first same-size allocation
	// recycles it, the second must bump-allocate a fresh address.
	require.Equal(t, 128, h.Availability().FreeListBytes)

	first, ok := h.Alloc(100)
	require.True(t, ok)
	require.Equal(t, ptr, first)

	second, ok := h.Alloc(100)
	require.True(t, ok)
	require.NotEqual(t, ptr, second)
	require.NoError(t, h.Validate())
}

func TestReuseWindowBound(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	// 1000 payload bytes makes a 1024-byte chunk.
	big, ok := h.Alloc(1000)
	require.True(t, ok)
	h.Free(big)

	// A 40-byte chunk's window is [40, 80]; the 1024-byte freed chunk is
	// outside it and must not be recycled.
	small, ok := h.Alloc(10)
	require.True(t, ok)
	require.NotEqual(t, big, small)
	require.Equal(t, 1024, h.Availability().FreeListBytes)

	// A 1000-byte chunk's window is [1000, 2000], which admits the freed
	// 1024-byte chunk even though the sizes differ.
	matched, ok := h.Alloc(976)
	require.True(t, ok)
	require.Equal(t, big, matched)
	require.Equal(t, 0, h.Availability().FreeListBytes)
	require.NoError(t, h.Validate())
}

func TestGrowthIsDownward(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x5000,
		MinBlockSize: 0x1000,
	})

	// Each allocation nearly fills a 4KiB block, forcing growth.
	_, ok := h.Alloc(4000)
	require.True(t, ok)
	require.Equal(t, 1, h.BlockCount())

	first, ok := h.FirstBlockStart()
	require.True(t, ok)
	require.Equal(t, heap.Address(0x7000), first)
	require.Equal(t, 0x2000, h.Availability().Headroom)

	_, ok = h.Alloc(4000)
	require.True(t, ok)
	require.Equal(t, 2, h.BlockCount())

	// The first block's start is unchanged; the new block sits strictly
	// below it.
	first, ok = h.FirstBlockStart()
	require.True(t, ok)
	require.Equal(t, heap.Address(0x7000), first)
	require.Equal(t, 0x1000, h.Availability().Headroom)
	require.NoError(t, h.Validate())
}

func TestExhaustionMutatesNothing(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	ptr, ok := h.Alloc(100)
	require.True(t, ok)

	usageBefore := h.Usage()
	availBefore := h.Availability()

	failed, ok := h.Alloc(0x4000)
	require.False(t, ok)
	require.Equal(t, heap.NullAddress, failed)

	require.Equal(t, usageBefore, h.Usage())
	require.Equal(t, availBefore, h.Availability())
	require.NoError(t, h.Validate())

	// The surviving allocation is untouched.
	require.Len(t, h.Bytes(ptr), 104)
}

func TestRoundTripIntegrity(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	a, ok := h.Alloc(64)
	require.True(t, ok)
	b, ok := h.Alloc(64)
	require.True(t, ok)

	pattern := make([]byte, 64)
	for i := range pattern {
		pattern[i] = byte(i + 1)
	}
	memutils.CopyBytes(h.Bytes(a), pattern)

	neighbor := make([]byte, 64)
	for i := range neighbor {
		neighbor[i] = 0xA5
	}
	memutils.CopyBytes(h.Bytes(b), neighbor)

	h.Free(a)
	again, ok := h.Alloc(64)
	require.True(t, ok)
	require.Equal(t, a, again)
	require.NoError(t, h.Validate())

	// The neighbor's payload survived the free/realloc cycle.
	require.Equal(t, neighbor, h.Bytes(b)[:64])
}

func TestAccounting(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	require.Equal(t, heap.UsageStats{}, h.Usage())
	require.Equal(t, heap.AvailabilityStats{Headroom: 0x2000}, h.Availability())

	ptr, ok := h.Alloc(100)
	require.True(t, ok)

	// 100 payload bytes makes a 128-byte chunk in a 4096-byte block with a
	// 48-byte header.
	require.Equal(t, heap.UsageStats{
		TotalBytes: 4096,
		BlockCount: 1,
		UsedBytes:  48 + 128,
	}, h.Usage())
	require.Equal(t, heap.AvailabilityStats{
		Headroom:  0x1000,
		BumpBytes: 4096 - 48 - 128,
	}, h.Availability())

	// Freeing moves the chunk's bytes into the free-list component; the
	// carved accounting is untouched.
	h.Free(ptr)
	require.Equal(t, heap.UsageStats{
		TotalBytes: 4096,
		BlockCount: 1,
		UsedBytes:  48 + 128,
	}, h.Usage())
	require.Equal(t, heap.AvailabilityStats{
		Headroom:      0x1000,
		BumpBytes:     4096 - 48 - 128,
		FreeListBytes: 128,
	}, h.Availability())
	require.NoError(t, h.Validate())
}

func TestBytesLifecycle(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{})

	require.Nil(t, h.Bytes(heap.Address(12345)))

	ptr, ok := h.Alloc(32)
	require.True(t, ok)
	require.Len(t, h.Bytes(ptr), 32)

	h.Free(ptr)
	require.Nil(t, h.Bytes(ptr))
}

func TestVisitRegions(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	a, ok := h.Alloc(100)
	require.True(t, ok)
	_, ok = h.Alloc(200)
	require.True(t, ok)
	h.Free(a)

	var regions int
	var freeRegions int
	lastAddr := heap.NullAddress
	err := h.VisitRegions(func(blockIndex int, addr heap.Address, size int, free bool) error {
		require.Equal(t, 0, blockIndex)
		require.Greater(t, addr, lastAddr)
		lastAddr = addr

		regions++
		if free {
			freeRegions++
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, regions)
	require.Equal(t, 1, freeRegions)
}

func TestDetailedStatistics(t *testing.T) {
	h := testHeap(t, heap.CreateOptions{
		TopBound:     0x8000,
		BottomBound:  0x6000,
		MinBlockSize: 0x1000,
	})

	a, ok := h.Alloc(100)
	require.True(t, ok)
	_, ok = h.Alloc(50)
	require.True(t, ok)

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	// 100 -> 128-byte chunk, 50 -> 80-byte chunk, 3840 bytes of bump
	// headroom left in the single 4096-byte block.
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      4096,
			AllocationCount: 2,
			AllocationBytes: 208,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  80,
		AllocationSizeMax:  128,
		UnusedRangeSizeMin: 3840,
		UnusedRangeSizeMax: 3840,
	}, stats)

	h.Free(a)

	stats.Clear()
	h.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      4096,
			AllocationCount: 1,
			AllocationBytes: 80,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  80,
		AllocationSizeMax:  80,
		UnusedRangeSizeMin: 128,
		UnusedRangeSizeMax: 3840,
	}, stats)

	var basic memutils.Statistics
	basic.Clear()
	h.AddStatistics(&basic)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		BlockBytes:      4096,
		AllocationCount: 1,
		AllocationBytes: 80,
	}, basic)
}
