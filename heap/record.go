package heap

// Address is a virtual address within the heap's configured bounds. It is
// an offset into the address range the heap was configured with, not a real
// machine pointer, so it can be handed to consumers and back without any
// unsafe reinterpretation.
type Address int

// NullAddress is the failed-allocation result. Configuration validation
// guarantees no live payload ever resolves to it.
const NullAddress Address = 0

const (
	// ChunkHeaderSize is the modeled size of the per-chunk header that
	// precedes every payload: an owning-block reference, the total chunk
	// size, and the allocation-state flag, at natural 8-byte alignment.
	ChunkHeaderSize = 24

	// FreedRecordSize is ChunkHeaderSize plus the two free-list links that
	// occupy former payload space while a chunk sits in a free-list. It is
	// the minimum total size of any chunk, since every chunk must be
	// enqueueable when freed.
	FreedRecordSize = ChunkHeaderSize + 16

	// BlockHeaderSize is the modeled size of the per-block header: the two
	// block-list links, total and remaining sizes, the bump cursor, and the
	// free-list head.
	BlockHeaderSize = 48

	headerAlignment = 8
)

// chunkRecord is the bookkeeping for one chunk carved from a block. A record
// is created when the chunk is first carved and lives for the life of the
// heap; recycling flips the allocated flag and relinks the free-list, it
// never replaces the record. The free-list links are only meaningful while
// allocated is false.
//
// blockIndex is a non-owning back-reference into the heap's block list.
// Blocks are never removed or reordered, so the index stays stable.
type chunkRecord struct {
	blockIndex int
	start      Address
	size       int
	allocated  bool

	prevFree *chunkRecord
	nextFree *chunkRecord
}

func (c *chunkRecord) payload() Address {
	return c.start + ChunkHeaderSize
}

func (c *chunkRecord) payloadSize() int {
	return c.size - ChunkHeaderSize
}
