package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/memworks/smallheap/memutils"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// Built-in boundaries used when CreateOptions fields are left zero. They
// describe a 192KiB range carved into 8KiB blocks, matching the original
// tuning for small non-MMU targets.
const (
	DefaultTopBound     Address = 0x7ffff
	DefaultBottomBound  Address = 0x50000
	DefaultMinBlockSize         = 8192
)

var (
	// ErrInvalidBounds is returned from New or Configure when the bottom
	// bound is negative or does not lie below the top bound.
	ErrInvalidBounds = errors.New("heap bounds are inverted or negative")
	// ErrSpanTooSmall is returned from New or Configure when the configured
	// address span cannot hold even one minimum-sized block.
	ErrSpanTooSmall = errors.New("address span is smaller than the minimum block size")
	// ErrBlockSizeTooSmall is returned from New or Configure when the
	// minimum block size cannot hold a block header and one minimal chunk.
	ErrBlockSizeTooSmall = errors.New("minimum block size cannot hold a block header and one chunk")
)

// CreateOptions configures a Heap. The field names replace the original
// entry point's ambiguous positional boundary parameters: each bound is
// named for what it is, and zero-valued fields fall back to the package
// defaults.
type CreateOptions struct {
	// TopBound is the exclusive high address of the heap range. The first
	// block is carved immediately below it.
	TopBound Address
	// BottomBound is the low address the heap may never grow to or past.
	BottomBound Address
	// MinBlockSize is the smallest block the heap will materialize. A block
	// may exceed it when a single request demands more.
	MinBlockSize int
}

func (o *CreateOptions) applyDefaults() {
	if o.TopBound == 0 {
		o.TopBound = DefaultTopBound
	}
	if o.BottomBound == 0 {
		o.BottomBound = DefaultBottomBound
	}
	if o.MinBlockSize == 0 {
		o.MinBlockSize = DefaultMinBlockSize
	}
}

func (o CreateOptions) validate() error {
	if o.BottomBound < 0 || o.BottomBound >= o.TopBound {
		return cerrors.Wrapf(ErrInvalidBounds, "bottom %#x, top %#x", int(o.BottomBound), int(o.TopBound))
	}
	if int(o.TopBound-o.BottomBound) < o.MinBlockSize {
		return cerrors.Wrapf(ErrSpanTooSmall, "span is %d bytes, minimum block size is %d", int(o.TopBound-o.BottomBound), o.MinBlockSize)
	}
	if o.MinBlockSize < BlockHeaderSize+FreedRecordSize {
		return cerrors.Wrapf(ErrBlockSizeTooSmall, "minimum block size is %d, need at least %d", o.MinBlockSize, BlockHeaderSize+FreedRecordSize)
	}
	return nil
}

// New creates a Heap spanning the configured address range. The backing
// arena for the whole range is allocated up front; blocks materialize
// within it lazily as allocations demand.
func New(logger *slog.Logger, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heap{logger: logger}
	err := h.Configure(options)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Configure validates options and resets the heap to an empty block list
// over a fresh arena. On rejection the heap is left unchanged.
//
// Reconfiguring a heap that has live allocations invalidates every
// outstanding Address. That hazard is logged, not prevented: Configure is
// intended to run at most once, before any allocation.
func (h *Heap) Configure(options CreateOptions) error {
	// AlignUp and AlignDown assume a power-of-two alignment.
	memutils.DebugCheckPow2(uint(headerAlignment), "header alignment")

	options.applyDefaults()
	err := options.validate()
	if err != nil {
		return err
	}

	if len(h.blocks) > 0 {
		h.logger.Warn("reconfiguring a live heap, all outstanding addresses are now invalid",
			slog.Int("blockCount", len(h.blocks)))
	}

	h.topBound = options.TopBound
	h.bottomBound = options.BottomBound
	h.minBlockSize = options.MinBlockSize
	h.arena = make([]byte, int(options.TopBound-options.BottomBound))
	h.blocks = nil
	h.registry = swiss.NewMap[Address, *chunkRecord](42)
	return nil
}
