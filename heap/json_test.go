package heap_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/memworks/smallheap/heap"
	"github.com/stretchr/testify/require"
)

func TestBuildStatsString(t *testing.T) {
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

	writer := jwriter.NewWriter()
	h.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	var report struct {
		General struct {
			TopBound     int
			BottomBound  int
			MinBlockSize int
		}
		Usage struct {
			TotalBytes int
			BlockCount int
			UsedBytes  int
		}
		Availability struct {
			Headroom      int
			BumpBytes     int
			FreeListBytes int
		}
		Blocks map[string]struct {
			Start      int
			TotalBytes int
			Remaining  int
			Chunks     []struct {
				Address int
				Size    int
				State   string
			}
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &report))

	require.Equal(t, 0x8000, report.General.TopBound)
	require.Equal(t, 0x6000, report.General.BottomBound)
	require.Equal(t, 0x1000, report.General.MinBlockSize)

	require.Equal(t, 1, report.Usage.BlockCount)
	require.Equal(t, 4096, report.Usage.TotalBytes)
	require.Equal(t, 128, report.Availability.FreeListBytes)

	require.Len(t, report.Blocks, 1)
	block := report.Blocks["0"]
	require.Equal(t, 0x7000, block.Start)
	require.Len(t, block.Chunks, 2)
	require.Equal(t, "Free", block.Chunks[0].State)
	require.Equal(t, "Allocated", block.Chunks[1].State)
}
