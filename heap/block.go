package heap

import (
	"github.com/memworks/smallheap/memutils"
	"github.com/pkg/errors"
)

// memoryBlock is a coarse region of the heap's address range, subdivided
// into chunks by advancing a bump cursor. Freed chunks are held in a
// per-block doubly-linked free-list; the block itself is never shrunk,
// merged, or released.
type memoryBlock struct {
	index     int
	start     Address
	size      int
	remaining int
	cursor    Address

	freeHead  *chunkRecord
	freeCount int
	freeBytes int

	// records holds every chunk ever carved from this block, in carve
	// order, so the records are contiguous by address.
	records []*chunkRecord
}

func newMemoryBlock(index int, start Address, size int) *memoryBlock {
	return &memoryBlock{
		index:     index,
		start:     start,
		size:      size,
		remaining: size - BlockHeaderSize,
		cursor:    start + BlockHeaderSize,
	}
}

// carve creates a new chunk of chunkSize bytes at the bump cursor. The
// caller must have checked remaining first.
func (b *memoryBlock) carve(chunkSize int) *chunkRecord {
	rec := &chunkRecord{
		blockIndex: b.index,
		start:      b.cursor,
		size:       chunkSize,
		allocated:  true,
	}
	b.cursor += Address(chunkSize)
	b.remaining -= chunkSize
	b.records = append(b.records, rec)
	return rec
}

// pushFree links rec at the head of the free-list. Insertion order is the
// only order the list has.
func (b *memoryBlock) pushFree(rec *chunkRecord) {
	rec.prevFree = nil
	rec.nextFree = b.freeHead
	if b.freeHead != nil {
		b.freeHead.prevFree = rec
	}
	b.freeHead = rec
	b.freeCount++
	b.freeBytes += rec.size
}

// takeFreeInWindow unlinks and returns the first freed record whose total
// size lies in [minSize, maxSize], or nil. First fit in the window, not best
// fit: the window already bounds the waste at maxSize.
func (b *memoryBlock) takeFreeInWindow(minSize, maxSize int) *chunkRecord {
	for rec := b.freeHead; rec != nil; rec = rec.nextFree {
		if rec.size < minSize || rec.size > maxSize {
			continue
		}

		if rec == b.freeHead {
			b.freeHead = rec.nextFree
		}
		if rec.nextFree != nil {
			rec.nextFree.prevFree = rec.prevFree
		}
		if rec.prevFree != nil {
			rec.prevFree.nextFree = rec.nextFree
		}
		rec.prevFree = nil
		rec.nextFree = nil
		b.freeCount--
		b.freeBytes -= rec.size
		return rec
	}

	return nil
}

func (b *memoryBlock) liveCount() int {
	return len(b.records) - b.freeCount
}

func (b *memoryBlock) liveBytes() int {
	return b.size - BlockHeaderSize - b.remaining - b.freeBytes
}

// Validate performs internal consistency checks on the block. When the
// allocator is functioning correctly it should not be possible for this
// method to return an error.
func (b *memoryBlock) Validate() error {
	if b.remaining < 0 {
		return errors.Errorf("block %d has negative remaining capacity %d", b.index, b.remaining)
	}

	carved := 0
	expectedStart := b.start + BlockHeaderSize
	for i, rec := range b.records {
		if rec.blockIndex != b.index {
			return errors.Errorf("chunk at %#x claims block %d but was carved from block %d", int(rec.start), rec.blockIndex, b.index)
		}
		if rec.start != expectedStart {
			return errors.Errorf("chunk %d in block %d starts at %#x, expected %#x- the carved chunks are not contiguous", i, b.index, int(rec.start), int(expectedStart))
		}
		if rec.size < FreedRecordSize {
			return errors.Errorf("chunk at %#x has size %d, below the minimum chunk size %d", int(rec.start), rec.size, FreedRecordSize)
		}
		if memutils.AlignDown(rec.size, headerAlignment) != rec.size {
			return errors.Errorf("chunk at %#x has size %d, which is not %d-byte aligned", int(rec.start), rec.size, headerAlignment)
		}
		carved += rec.size
		expectedStart += Address(rec.size)
	}

	if b.cursor != b.start+BlockHeaderSize+Address(carved) {
		return errors.Errorf("block %d bump cursor is %#x, but the carved chunks end at %#x", b.index, int(b.cursor), int(b.start)+BlockHeaderSize+carved)
	}

	if b.remaining+carved+BlockHeaderSize != b.size {
		return errors.Errorf("block %d accounting is broken: remaining %d + carved %d + header %d != block size %d", b.index, b.remaining, carved, BlockHeaderSize, b.size)
	}

	var listCount, listBytes int
	if b.freeHead != nil && b.freeHead.prevFree != nil {
		return errors.Errorf("the head of block %d's free-list has a previous link", b.index)
	}
	for rec := b.freeHead; rec != nil; rec = rec.nextFree {
		if rec.allocated {
			return errors.Errorf("chunk at %#x is in block %d's free-list but is marked allocated", int(rec.start), b.index)
		}
		if rec.nextFree != nil && rec.nextFree.prevFree != rec {
			return errors.Errorf("chunk at %#x lists the chunk at %#x as its next free record, but the reverse reference is broken", int(rec.start), int(rec.nextFree.start))
		}
		listCount++
		listBytes += rec.size
	}

	if listCount != b.freeCount {
		return errors.Errorf("block %d's free-list holds %d records, but the block counted %d", b.index, listCount, b.freeCount)
	}
	if listBytes != b.freeBytes {
		return errors.Errorf("block %d's free-list holds %d bytes, but the block counted %d", b.index, listBytes, b.freeBytes)
	}

	for _, rec := range b.records {
		if !rec.allocated {
			continue
		}
		if rec.prevFree != nil || rec.nextFree != nil {
			return errors.Errorf("allocated chunk at %#x still carries free-list links", int(rec.start))
		}
	}

	return nil
}
