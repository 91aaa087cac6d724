package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/memworks/smallheap/heap"
	"github.com/memworks/smallheap/memutils"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	demoFillCount  int
	demoChurnCount int
	demoDump       bool
)

func init() {
	cmd := newDemoCmd()
	cmd.Flags().IntVar(&demoFillCount, "fill", 512, "Number of growing allocations in the fill phase")
	cmd.Flags().IntVar(&demoChurnCount, "churn", 1000, "Number of alloc/free cycles in the churn phase")
	cmd.Flags().BoolVar(&demoDump, "dump", false, "Dump the final heap map as JSON on stdout")
	rootCmd.AddCommand(cmd)
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an allocation workload and report heap state",
		Long: `The demo command drives the allocator through a fill phase of
growing allocations, a churn phase of same-size alloc/free cycles (which must
not grow the heap), an over-sized request that must fail, and a double-free
that must be absorbed.

Example:
  smallheapctl demo
  smallheapctl demo --block-size 1024 --fill 256 --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	logger := newLogger()

	h, err := heap.New(logger, heap.CreateOptions{
		TopBound:     heap.Address(topBound),
		BottomBound:  heap.Address(bottomBound),
		MinBlockSize: minBlockSize,
	})
	if err != nil {
		return err
	}

	// Fill phase: allocations of growing size, each stamped with its index.
	// Nothing is freed; the heap must grow block by block.
	for i := 0; i < demoFillCount; i++ {
		ptr, ok := h.Alloc(i + 13)
		if !ok {
			logger.Info("heap exhausted during fill phase", slog.Int("iteration", i))
			break
		}

		stamp := make([]byte, 5)
		stamp[0] = 'I'
		binary.LittleEndian.PutUint32(stamp[1:], uint32(i))
		memutils.CopyBytes(h.Bytes(ptr), stamp)
	}
	logUsage(logger, h, "fill phase complete")

	// Churn phase: a same-size alloc/free cycle must settle into recycling
	// the same chunk and never grow the heap. The warm-up cycle may still
	// have to carve the chunk, so the block count is taken after it.
	warmup, ok := h.Alloc(128)
	if !ok {
		return fmt.Errorf("churn warm-up allocation failed")
	}
	h.Free(warmup)
	blocksBefore := h.BlockCount()
	for i := 0; i < demoChurnCount; i++ {
		ptr, ok := h.Alloc(128)
		if !ok {
			return fmt.Errorf("churn allocation %d failed", i)
		}
		h.Bytes(ptr)[0] = 'J'
		h.Free(ptr)
	}
	if h.BlockCount() != blocksBefore {
		return fmt.Errorf("churn phase grew the heap from %d to %d blocks", blocksBefore, h.BlockCount())
	}
	logUsage(logger, h, "churn phase complete")

	// An allocation bigger than the whole range must fail, not signal.
	span := h.Availability().Headroom + h.Usage().TotalBytes
	if _, ok := h.Alloc(span + 1); ok {
		return fmt.Errorf("allocation of %d bytes should have failed", span+1)
	}
	logger.Info("over-sized request failed as expected", slog.Int("requestedBytes", span+1))

	// Double-free must be absorbed: the chunk is recycled exactly once.
	ptr, ok := h.Alloc(1025)
	if !ok {
		return fmt.Errorf("double-free probe allocation failed")
	}
	h.Free(ptr)
	h.Free(ptr)
	recycled, _ := h.Alloc(1025)
	fresh, _ := h.Alloc(1025)
	logger.Info("double-free absorbed",
		slog.Bool("recycledSameAddress", recycled == ptr),
		slog.Bool("secondAllocFresh", fresh != ptr))

	if err := h.Validate(); err != nil {
		return err
	}
	logUsage(logger, h, "demo complete")

	if demoDump {
		return dumpHeap(h)
	}
	return nil
}

func logUsage(logger *slog.Logger, h *heap.Heap, msg string) {
	usage := h.Usage()
	avail := h.Availability()
	logger.Info(msg,
		slog.Int("blocks", usage.BlockCount),
		slog.Int("totalBytes", usage.TotalBytes),
		slog.Int("usedBytes", usage.UsedBytes),
		slog.Int("headroom", avail.Headroom),
		slog.Int("bumpBytes", avail.BumpBytes),
		slog.Int("freeListBytes", avail.FreeListBytes))
}

func dumpHeap(h *heap.Heap) error {
	writer := jwriter.NewWriter()
	h.BuildStatsString(&writer)
	if err := writer.Error(); err != nil {
		return err
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, writer.Bytes(), "", "  "); err != nil {
		return err
	}
	indented.WriteByte('\n')

	_, err := indented.WriteTo(os.Stdout)
	return err
}
