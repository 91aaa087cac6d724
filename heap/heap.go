// Package heap implements a freestanding allocator for a fixed address
// range on targets with no MMU and no sbrk. The heap grows monotonically
// downward from its top bound in block units; within each block, chunks are
// carved bump-style and recycled through a per-block free-list. Nothing is
// ever coalesced, split, or returned to the environment.
//
// A Heap is not safe for concurrent use. The target environments have no
// cheap synchronization primitives, so consumers that need concurrency must
// serialize Alloc, Free, and Configure externally.
package heap

import (
	"math"

	"github.com/dolthub/swiss"
	"github.com/memworks/smallheap/memutils"
	"golang.org/x/exp/slog"
)

// Heap is the process-wide allocator state: the block list in creation
// order, the configured boundaries, and the arena that backs the whole
// address range. Create one with New; the zero value is not usable.
//
// Multiple independent heaps may coexist, each owning its own range.
type Heap struct {
	logger *slog.Logger

	topBound     Address
	bottomBound  Address
	minBlockSize int

	// arena backs the range [bottomBound, topBound); index = addr - bottomBound
	arena []byte

	// blocks is ordered by creation. Starts strictly decrease, so the last
	// block is always the lowest-addressed one.
	blocks []*memoryBlock

	// registry maps payload addresses to chunk records, replacing the
	// original's header-behind-the-pointer arithmetic
	registry *swiss.Map[Address, *chunkRecord]
}

var _ memutils.Validatable = &Heap{}

// Alloc carves or recycles a chunk of at least size payload bytes and
// returns the payload's address. A zero size is coerced to the minimum
// chunk payload. The payload content is unspecified; in particular, a
// recycled chunk still holds whatever its previous owner wrote.
//
// The boolean result is false only on exhaustion: no freed chunk matched,
// no block had capacity, and growing would breach the bottom bound. There
// is no error value, mirroring targets without an error mechanism; callers
// must check the boolean before using the address.
func (h *Heap) Alloc(size int) (Address, bool) {
	// The upper guard keeps the chunk-size arithmetic below from wrapping
	// negative; a request that large cannot fit in any configured range.
	if size < 0 || size > math.MaxInt-ChunkHeaderSize-headerAlignment {
		return NullAddress, false
	}

	chunkSize := memutils.AlignUp(size+ChunkHeaderSize, headerAlignment)
	if chunkSize < FreedRecordSize {
		chunkSize = FreedRecordSize
	}

	// Recycling first: accept a freed chunk of up to twice the computed
	// size. The window bounds the waste without the cost of a best-fit
	// search.
	if rec := h.recycleChunk(chunkSize, chunkSize*2); rec != nil {
		rec.allocated = true
		memutils.DebugValidate(h)
		return rec.payload(), true
	}

	block := h.blockWithCapacity(chunkSize)
	if block == nil {
		block = h.grow(chunkSize)
	}
	if block == nil {
		h.logger.Debug("heap exhausted",
			slog.Int("requestedBytes", size),
			slog.Int("chunkSize", chunkSize))
		return NullAddress, false
	}

	rec := block.carve(chunkSize)
	h.registry.Put(rec.payload(), rec)
	memutils.DebugValidate(h)
	return rec.payload(), true
}

// Free returns the chunk holding ptr to its owning block's free-list. ptr
// must be an address previously returned by Alloc on this heap; other
// values are absorbed as no-ops. Freeing the same address twice is safe and
// explicitly supported: the second call finds the allocation-state flag
// already clear and does nothing, so the chunk is never double-linked into
// the free-list.
func (h *Heap) Free(ptr Address) {
	rec, ok := h.registry.Get(ptr)
	if !ok {
		return
	}
	if !rec.allocated {
		h.logger.Debug("double free absorbed", slog.Int("address", int(ptr)))
		return
	}

	rec.allocated = false
	h.blocks[rec.blockIndex].pushFree(rec)
	memutils.DebugValidate(h)
}

// Bytes returns the payload of a live allocation as a mutable view into the
// heap's arena, or nil if ptr is not a live allocation. The view may be
// longer than the requested size when the request was raised to the minimum
// chunk payload. Consumers populate and relocate payloads through this view
// (see memutils.CopyBytes); the allocator never touches payload content
// itself.
//
// The view must not be retained across a Free of the same address.
func (h *Heap) Bytes(ptr Address) []byte {
	rec, ok := h.registry.Get(ptr)
	if !ok || !rec.allocated {
		return nil
	}

	begin := int(rec.payload() - h.bottomBound)
	end := begin + rec.payloadSize()
	return h.arena[begin:end:end]
}

func (h *Heap) recycleChunk(minSize, maxSize int) *chunkRecord {
	for _, block := range h.blocks {
		if rec := block.takeFreeInWindow(minSize, maxSize); rec != nil {
			return rec
		}
	}
	return nil
}

func (h *Heap) blockWithCapacity(chunkSize int) *memoryBlock {
	for _, block := range h.blocks {
		if block.remaining >= chunkSize {
			return block
		}
	}
	return nil
}

// grow materializes a new block below the current lowest one, or below the
// top bound for the first block. Returns nil when the new block's start
// would land at or below the bottom bound; in that case no state changes.
func (h *Heap) grow(chunkSize int) *memoryBlock {
	blockSize := chunkSize + BlockHeaderSize
	if blockSize < h.minBlockSize {
		blockSize = h.minBlockSize
	}

	floor := h.topBound
	if len(h.blocks) > 0 {
		floor = h.blocks[len(h.blocks)-1].start
	}

	newStart := floor - Address(blockSize)
	if newStart <= h.bottomBound {
		return nil
	}

	block := newMemoryBlock(len(h.blocks), newStart, blockSize)
	h.blocks = append(h.blocks, block)
	h.logger.Debug("materialized new block",
		slog.Int("start", int(newStart)),
		slog.Int("size", blockSize),
		slog.Int("blockCount", len(h.blocks)))
	return block
}
