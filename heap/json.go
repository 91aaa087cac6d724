package heap

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString writes a JSON report of the heap's configuration, usage,
// availability, and a per-block chunk map to writer. It is meant for
// diagnostics tooling; the traversal is read-only.
func (h *Heap) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	general := obj.Name("General").Object()
	general.Name("TopBound").Int(int(h.topBound))
	general.Name("BottomBound").Int(int(h.bottomBound))
	general.Name("MinBlockSize").Int(h.minBlockSize)
	general.End()

	usage := h.Usage()
	usageObj := obj.Name("Usage").Object()
	usageObj.Name("TotalBytes").Int(usage.TotalBytes)
	usageObj.Name("BlockCount").Int(usage.BlockCount)
	usageObj.Name("UsedBytes").Int(usage.UsedBytes)
	usageObj.End()

	avail := h.Availability()
	availObj := obj.Name("Availability").Object()
	availObj.Name("Headroom").Int(avail.Headroom)
	availObj.Name("BumpBytes").Int(avail.BumpBytes)
	availObj.Name("FreeListBytes").Int(avail.FreeListBytes)
	availObj.End()

	blocksObj := obj.Name("Blocks").Object()
	for _, block := range h.blocks {
		blockObj := blocksObj.Name(strconv.Itoa(block.index)).Object()
		blockObj.Name("Start").Int(int(block.start))
		blockObj.Name("TotalBytes").Int(block.size)
		blockObj.Name("Remaining").Int(block.remaining)
		blockObj.Name("FreeListBytes").Int(block.freeBytes)

		h.printBlockChunks(block, blockObj)
		blockObj.End()
	}
	blocksObj.End()
}

func (h *Heap) printBlockChunks(block *memoryBlock, json jwriter.ObjectState) {
	arrayState := json.Name("Chunks").Array()
	defer arrayState.End()

	for _, rec := range block.records {
		chunkObj := arrayState.Object()
		chunkObj.Name("Address").Int(int(rec.start))
		chunkObj.Name("Size").Int(rec.size)
		if rec.allocated {
			chunkObj.Name("State").String("Allocated")
		} else {
			chunkObj.Name("State").String("Free")
		}
		chunkObj.End()
	}
}
