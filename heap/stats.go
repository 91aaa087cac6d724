package heap

import (
	"github.com/memworks/smallheap/memutils"
	"github.com/pkg/errors"
)

// UsageStats reports the space the heap has claimed from its range. Used by
// diagnostics collaborators only; pure and side-effect-free.
type UsageStats struct {
	// TotalBytes is the number of bytes spanned by all blocks: headers,
	// carved chunks, and un-bumped headroom alike.
	TotalBytes int
	// BlockCount is the number of blocks materialized so far.
	BlockCount int
	// UsedBytes is the per-block total of header plus carved bytes,
	// whether the carved chunks are allocated or sitting in a free-list.
	UsedBytes int
}

// AvailabilityStats reports the space still available to allocations.
type AvailabilityStats struct {
	// Headroom is the address space between the lowest block and the
	// bottom bound, which is the room left for growth.
	Headroom int
	// BumpBytes is the un-bumped capacity summed across all blocks.
	BumpBytes int
	// FreeListBytes is the total size of chunks sitting in free-lists.
	FreeListBytes int
}

// Usage traverses the block list and reports claimed space.
func (h *Heap) Usage() UsageStats {
	var stats UsageStats
	for _, block := range h.blocks {
		stats.BlockCount++
		stats.TotalBytes += block.size
		stats.UsedBytes += block.size - block.remaining
	}
	return stats
}

// Availability traverses the block list and reports reusable space.
func (h *Heap) Availability() AvailabilityStats {
	stats := AvailabilityStats{
		Headroom: int(h.topBound - h.bottomBound),
	}
	if len(h.blocks) > 0 {
		stats.Headroom = int(h.blocks[len(h.blocks)-1].start - h.bottomBound)
	}

	for _, block := range h.blocks {
		stats.BumpBytes += block.remaining
		stats.FreeListBytes += block.freeBytes
	}
	return stats
}

// BlockCount returns the number of blocks materialized so far.
func (h *Heap) BlockCount() int { return len(h.blocks) }

// FirstBlockStart returns the start address of the first block the heap
// materialized (the highest-addressed one) for diagnostics and testing.
// The boolean is false while no block exists.
func (h *Heap) FirstBlockStart() (Address, bool) {
	if len(h.blocks) == 0 {
		return NullAddress, false
	}
	return h.blocks[0].start, true
}

// VisitRegions calls visit once for every chunk ever carved, in block
// creation order and in address order within each block. addr and size
// describe the whole chunk, header included. Diagnostics only; it walks
// everything.
func (h *Heap) VisitRegions(visit func(blockIndex int, addr Address, size int, free bool) error) error {
	for _, block := range h.blocks {
		for _, rec := range block.records {
			err := visit(block.index, rec.start, rec.size, !rec.allocated)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStatistics sums this heap's allocation statistics into stats.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	for _, block := range h.blocks {
		stats.BlockCount++
		stats.BlockBytes += block.size
		stats.AllocationCount += block.liveCount()
		stats.AllocationBytes += block.liveBytes()
	}
}

// AddDetailedStatistics sums this heap's allocation statistics into stats,
// with freed chunks and bump headroom counted as unused ranges.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range h.blocks {
		stats.Statistics.BlockCount++
		stats.Statistics.BlockBytes += block.size

		for _, rec := range block.records {
			if rec.allocated {
				stats.AddAllocation(rec.size)
			} else {
				stats.AddUnusedRange(rec.size)
			}
		}

		if block.remaining > 0 {
			stats.AddUnusedRange(block.remaining)
		}
	}
}

// Validate performs internal consistency checks on the whole heap: block
// ordering and containment, per-block accounting, free-list link integrity,
// and the payload registry. It should not be possible for this method to
// return an error when the allocator is functioning correctly.
func (h *Heap) Validate() error {
	prevStart := h.topBound
	totalRecords := 0

	for i, block := range h.blocks {
		if block.index != i {
			return errors.Errorf("block at position %d carries index %d", i, block.index)
		}
		if block.start <= h.bottomBound {
			return errors.Errorf("block %d starts at %#x, at or below the bottom bound %#x", i, int(block.start), int(h.bottomBound))
		}
		if block.start+Address(block.size) > prevStart {
			return errors.Errorf("block %d spans %#x-%#x, overlapping the block above it at %#x- growth must be strictly downward", i, int(block.start), int(block.start)+block.size, int(prevStart))
		}

		err := block.Validate()
		if err != nil {
			return err
		}

		prevStart = block.start
		totalRecords += len(block.records)
	}

	if h.registry.Count() != totalRecords {
		return errors.Errorf("the payload registry holds %d records, but the blocks carved %d", h.registry.Count(), totalRecords)
	}

	return nil
}
