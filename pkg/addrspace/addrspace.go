// Package addrspace implements the address-space allocator of spec §4.7:
// a dense bitmap over the user-addressable range plus a small LIFO cache
// of addresses already marked allocated but not yet handed out.
//
// Per §5's shared-resource policy, an AddressSpace is mutated by its
// volume's single owner thread only — it carries no internal locking.
package addrspace

import (
	"github.com/4s1ght/ibfs/internal/ierrors"
	"github.com/4s1ght/ibfs/internal/ilog"
)

const wordBits = 64

// AddressSpace tracks which addresses in [offset, blockCount) are free.
type AddressSpace struct {
	offset     uint64
	blockCount uint64
	bitmap     []uint64 // one bit per address in [offset, blockCount); 1 = allocated

	cache    []uint64 // LIFO stack of allocated-but-unconsumed addresses
	cacheCap int

	regionSize   int
	regionCursor int

	log ilog.Logger
}

// New creates an AddressSpace over [offset, blockCount) with every address
// initially free. cacheCap bounds both the replenish cache and the region
// scan size (§4.7: "region size = cache capacity").
func New(offset, blockCount uint64, cacheCap int, log ilog.Logger) *AddressSpace {
	if cacheCap <= 0 {
		cacheCap = 64
	}
	n := uint64(0)
	if blockCount > offset {
		n = blockCount - offset
	}
	words := (n + wordBits - 1) / wordBits
	return &AddressSpace{
		offset:     offset,
		blockCount: blockCount,
		bitmap:     make([]uint64, words),
		cacheCap:   cacheCap,
		regionSize: cacheCap,
		log:        ilog.OrNop(log),
	}
}

// NewFromAllocated creates an AddressSpace and immediately marks every
// address in allocated as in use — the path Filesystem.Open takes after
// an fsck-style reachability walk of the existing FBM/meta graph.
func NewFromAllocated(offset, blockCount uint64, cacheCap int, allocated []uint64, log ilog.Logger) *AddressSpace {
	a := New(offset, blockCount, cacheCap, log)
	for _, addr := range allocated {
		a.markAllocated(addr)
	}
	return a
}

func (a *AddressSpace) bitIndex(addr uint64) (word, bit uint64) {
	rel := addr - a.offset
	return rel / wordBits, rel % wordBits
}

func (a *AddressSpace) inRange(addr uint64) bool {
	return addr >= a.offset && addr < a.blockCount
}

func (a *AddressSpace) isAllocated(addr uint64) bool {
	w, b := a.bitIndex(addr)
	return a.bitmap[w]&(1<<b) != 0
}

func (a *AddressSpace) markAllocated(addr uint64) {
	w, b := a.bitIndex(addr)
	a.bitmap[w] |= 1 << b
}

func (a *AddressSpace) markFree(addr uint64) {
	w, b := a.bitIndex(addr)
	a.bitmap[w] &^= 1 << b
}

// Alloc returns the top of the replenish cache, refilling it from the
// bitmap first if it is empty.
func (a *AddressSpace) Alloc() (uint64, error) {
	if len(a.cache) == 0 {
		if err := a.fastReplenish(); err != nil {
			return 0, err
		}
	}
	if len(a.cache) == 0 {
		return 0, ierrors.New(ierrors.AddressExhausted, "")
	}
	addr := a.cache[len(a.cache)-1]
	a.cache = a.cache[:len(a.cache)-1]
	return addr, nil
}

// fastReplenish scans one region at a time, round robin, marking each free
// address allocated and pushing it onto the cache, stopping when the
// region ends or the cache fills. If a full cycle of regions yields
// nothing, it returns AddressExhausted.
func (a *AddressSpace) fastReplenish() error {
	n := a.blockCount - a.offset
	if n == 0 {
		return ierrors.New(ierrors.AddressExhausted, "")
	}
	regions := (n + uint64(a.regionSize) - 1) / uint64(a.regionSize)

	for tried := uint64(0); tried < regions; tried++ {
		start := a.offset + uint64(a.regionCursor)*uint64(a.regionSize)
		end := start + uint64(a.regionSize)
		if end > a.blockCount {
			end = a.blockCount
		}
		a.regionCursor = (a.regionCursor + 1) % int(regions)

		found := false
		for addr := start; addr < end && len(a.cache) < a.cacheCap; addr++ {
			if !a.isAllocated(addr) {
				a.markAllocated(addr)
				a.cache = append(a.cache, addr)
				found = true
			}
		}
		if found {
			return nil
		}
	}
	return ierrors.New(ierrors.AddressExhausted, "no free addresses after a full region cycle")
}

// IsAllocated reports whether address is currently marked allocated. Used
// by fsck-style reachability walks to find addresses no live reference
// points to.
func (a *AddressSpace) IsAllocated(address uint64) bool {
	if !a.inRange(address) {
		return false
	}
	return a.isAllocated(address)
}

// Free clears the bitmap bit for address. It must only be called for
// addresses whose on-disk reference has already been removed (§4.7).
func (a *AddressSpace) Free(address uint64) error {
	if !a.inRange(address) {
		return ierrors.New(ierrors.AddressExhausted, "address %d out of range [%d,%d)", address, a.offset, a.blockCount)
	}
	a.markFree(address)
	return nil
}

// Offset and BlockCount report the allocator's addressable bounds.
func (a *AddressSpace) Offset() uint64     { return a.offset }
func (a *AddressSpace) BlockCount() uint64 { return a.blockCount }

// Popcount returns the number of currently-allocated addresses, including
// those sitting in the replenish cache (they are marked allocated the
// moment fastReplenish pulls them off the bitmap, per §4.7's
// allocate-before-return ordering).
func (a *AddressSpace) Popcount() int {
	count := 0
	for _, w := range a.bitmap {
		count += popcount64(w)
	}
	return count
}

func popcount64(w uint64) int {
	c := 0
	for w != 0 {
		w &= w - 1
		c++
	}
	return c
}
