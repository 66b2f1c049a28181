// Package fbm implements the File Block Map of spec §4.6/§8: the ordered
// [HEAD, LINK...] chain that enumerates a file's data-block addresses.
package fbm

import (
	"context"
	"time"

	"github.com/4s1ght/ibfs/internal/iblock"
	"github.com/4s1ght/ibfs/internal/ierrors"
	"github.com/4s1ght/ibfs/internal/ilog"
	"github.com/4s1ght/ibfs/pkg/addrspace"
	"github.com/4s1ght/ibfs/pkg/volume"
)

// item is one block of the chain, either the head (items[0]) or a link.
type item struct {
	address      uint64
	isHead       bool
	next         uint64
	arr          *iblock.AddressArray
	created      uint64
	modified     uint64
	resourceType iblock.ResourceType
}

// FBM is an opened file block map. It is not safe for concurrent
// mutation — §5 makes per-file serialization the caller's responsibility.
type FBM struct {
	vol       *volume.Volume
	addrs     *addrspace.AddressSpace
	headSpace int
	linkSpace int
	items     []*item
	log       ilog.Logger

	// err latches a permanent failure from the leak-over-dangle path
	// (§4.6/§7): once set, every further mutation short-circuits with it.
	err error
}

// Open loads the HEAD at headAddress and follows next pointers, loading
// each LINK, failing with FbmCircularReference if an address is revisited.
func Open(ctx context.Context, vol *volume.Volume, addrs *addrspace.AddressSpace, headAddress uint64, log ilog.Logger) (*FBM, error) {
	f := &FBM{
		vol:       vol,
		addrs:     addrs,
		headSpace: iblock.HeadSpace(vol.BlockSize()),
		linkSpace: iblock.LinkSpace(vol.BlockSize()),
		log:       ilog.OrNop(log),
	}

	head, err := vol.ReadHead(ctx, headAddress)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.FbmOpenFailed, "reading head at %d", headAddress)
	}
	f.items = append(f.items, &item{
		address:      headAddress,
		isHead:       true,
		next:         head.Next,
		arr:          iblock.NewAddressArray(headBodyBuf(head, f.headSpace), len(head.Body)/8),
		created:      head.Created,
		modified:     head.Modified,
		resourceType: head.ResourceType,
	})

	visited := map[uint64]bool{headAddress: true}
	cur := head.Next
	for cur != 0 {
		if visited[cur] {
			return nil, ierrors.New(ierrors.FbmCircularReference, "address %d revisited", cur)
		}
		visited[cur] = true

		link, err := vol.ReadLink(ctx, cur)
		if err != nil {
			return nil, ierrors.Wrap(err, ierrors.FbmOpenFailed, "reading link at %d", cur)
		}
		f.items = append(f.items, &item{
			address: cur,
			next:    link.Next,
			arr:     iblock.NewAddressArray(linkBodyBuf(link, f.linkSpace), len(link.Body)/8),
		})
		cur = link.Next
	}

	return f, nil
}

// headBodyBuf and linkBodyBuf pad a decoded body out to full slot capacity
// so AddressArray has room to Append without reallocating.
func headBodyBuf(h iblock.HeadFields, space int) []byte {
	buf := make([]byte, space*8)
	copy(buf, h.Body)
	return buf
}

func linkBodyBuf(l iblock.LinkFields, space int) []byte {
	buf := make([]byte, space*8)
	copy(buf, l.Body)
	return buf
}

// HeadAddress returns the address of the chain's head block.
func (f *FBM) HeadAddress() uint64 { return f.items[0].address }

// LinkCount returns the number of LINK blocks in the chain (excluding the
// head).
func (f *FBM) LinkCount() int { return len(f.items) - 1 }

// LinkAddresses returns the address of every LINK block in the chain, in
// chain order.
func (f *FBM) LinkAddresses() []uint64 {
	out := make([]uint64, 0, len(f.items)-1)
	for _, it := range f.items[1:] {
		out = append(out, it.address)
	}
	return out
}

// Length implements §4.6's length formula.
func (f *FBM) Length() int {
	if len(f.items) == 1 {
		return f.items[0].arr.Length()
	}
	mid := 0
	if len(f.items) > 2 {
		mid = (len(f.items) - 2) * f.linkSpace
	}
	return f.items[0].arr.Length() + mid + f.items[len(f.items)-1].arr.Length()
}

// locate resolves a logical index to the containing item and in-block
// offset, per §3: index i resolves to the head's slot i if i < HEAD_SPACE,
// otherwise link 1+floor((i-HEAD_SPACE)/LINK_SPACE) at offset
// (i-HEAD_SPACE) mod LINK_SPACE.
func (f *FBM) locate(i int) (itemIdx, offset int, ok bool) {
	if i < 0 {
		return 0, 0, false
	}
	if i < f.headSpace {
		if i >= f.items[0].arr.Length() {
			return 0, 0, false
		}
		return 0, i, true
	}
	rem := i - f.headSpace
	link := 1 + rem/f.linkSpace
	off := rem % f.linkSpace
	if link >= len(f.items) {
		return 0, 0, false
	}
	if off >= f.items[link].arr.Length() {
		return 0, 0, false
	}
	return link, off, true
}

// Get returns the address at logical index i.
func (f *FBM) Get(i int) (uint64, bool) {
	idx, off, ok := f.locate(i)
	if !ok {
		return 0, false
	}
	return f.items[idx].arr.Get(off)
}

// DataAddresses returns every data-block address starting at logical
// offset, skipping head/link index-block overhead entirely (§4.6) — used
// by sequential reads.
func (f *FBM) DataAddresses(offset int) []uint64 {
	n := f.Length()
	if offset >= n {
		return nil
	}
	out := make([]uint64, 0, n-offset)
	for i := offset; i < n; i++ {
		addr, ok := f.Get(i)
		if !ok {
			break
		}
		out = append(out, addr)
	}
	return out
}

// Append places addrs into the chain, growing with new link blocks as
// needed, then rewrites the last-modified block exactly once (§4.6).
func (f *FBM) Append(ctx context.Context, addrs []uint64) error {
	if f.err != nil {
		return f.err
	}
	remaining := addrs
	for len(remaining) > 0 {
		last := f.items[len(f.items)-1]
		for len(remaining) > 0 && last.arr.Append(remaining[0]) {
			remaining = remaining[1:]
		}
		if len(remaining) == 0 {
			break
		}
		if err := f.grow(ctx); err != nil {
			return ierrors.Wrap(err, ierrors.FbmAppendFailed, "")
		}
	}
	return f.persistLast(ctx)
}

// persistLast rewrites the current tail block's full contents in one
// write — the "rewrite the last modified block exactly once" step.
func (f *FBM) persistLast(ctx context.Context) error {
	last := f.items[len(f.items)-1]
	return f.persistItem(ctx, last)
}

func (f *FBM) persistItem(ctx context.Context, it *item) error {
	if it.isHead {
		return f.vol.WriteHead(ctx, it.address, iblock.HeadFields{
			Next:         it.next,
			Created:      it.created,
			Modified:     it.modified,
			ResourceType: it.resourceType,
			Body:         it.arr.Buf(),
		})
	}
	return f.vol.WriteLink(ctx, it.address, iblock.LinkFields{
		Next: it.next,
		Body: it.arr.Buf(),
	})
}

// grow allocates a new link block, persists it (step A), then points the
// current tail's next field at it and persists the tail (step B). If step
// A fails the address never touched disk and is returned to the space. If
// step B fails the address is intentionally leaked (leak-over-dangle,
// §4.6/§7) and the FBM latches a permanent error.
func (f *FBM) grow(ctx context.Context) error {
	newAddr, err := f.addrs.Alloc()
	if err != nil {
		return ierrors.Wrap(err, ierrors.FbmGrowFailed, "allocating new link")
	}

	newLink := &item{
		address: newAddr,
		arr:     iblock.NewAddressArray(make([]byte, f.linkSpace*8), 0),
	}

	// Step A: persist the new, empty link block before anything else
	// references it.
	if err := f.persistItem(ctx, newLink); err != nil {
		if freeErr := f.addrs.Free(newAddr); freeErr != nil {
			f.log.Warnf("fbm: failed to free unreferenced address %d after grow step A failure: %v", newAddr, freeErr)
		}
		return ierrors.Wrap(err, ierrors.FbmGrowFailed, "persisting new link at %d", newAddr)
	}

	prev := f.items[len(f.items)-1]
	prevNext := prev.next
	prev.next = newAddr

	// Step B: persist the previous tail with its updated next pointer.
	if err := f.persistItem(ctx, prev); err != nil {
		// The new link block exists on disk but nothing points to it.
		// Freeing newAddr here would hand it back out for reuse while a
		// stale copy of prev (still pointing nowhere, on disk, in our own
		// in-memory state) leaves no record that it was ever claimed; an
		// fsck-style reachability scan is the only safe way to reclaim it,
		// so it is leaked rather than freed (leak-over-dangle, §4.6/§7).
		prev.next = prevNext
		f.err = ierrors.Wrap(err, ierrors.FbmGrowFailed, "persisting previous tail at %d, new link %d leaked", prev.address, newAddr)
		f.log.Errorf("fbm: %v", f.err)
		return f.err
	}

	f.items = append(f.items, newLink)
	return nil
}

// Trunc pops count addresses from the tail, returning each to the address
// space, shrinking the chain as tail blocks empty. An address outside the
// address space's range is still removed from the chain; it is logged and
// skipped rather than freed.
func (f *FBM) Trunc(ctx context.Context, count int) error {
	if f.err != nil {
		return f.err
	}
	if count < 0 || count > f.Length() {
		return ierrors.New(ierrors.FbmTruncOutOfRange, "count %d, length %d", count, f.Length())
	}

	remaining := count
	for remaining > 0 {
		last := f.items[len(f.items)-1]
		for remaining > 0 && last.arr.Length() > 0 {
			addr, _ := last.arr.Pop()
			if err := f.addrs.Free(addr); err != nil {
				f.log.Warnf("fbm: trunc could not return address %d to the address space: %v", addr, err)
			}
			remaining--
		}
		if last.arr.Length() == 0 && len(f.items) > 1 {
			if err := f.shrink(ctx); err != nil {
				return ierrors.Wrap(err, ierrors.FbmShrinkFailed, "")
			}
			continue
		}
		break
	}

	return f.persistLast(ctx)
}

// shrink requires a non-head tail block: it clears the predecessor's next,
// persists the predecessor, then frees the (now detached) tail's address.
func (f *FBM) shrink(ctx context.Context) error {
	if len(f.items) < 2 {
		return ierrors.New(ierrors.FbmShrinkFailed, "cannot shrink a chain with no links")
	}
	tail := f.items[len(f.items)-1]
	pred := f.items[len(f.items)-2]

	prevNext := pred.next
	pred.next = 0
	if err := f.persistItem(ctx, pred); err != nil {
		pred.next = prevNext
		return ierrors.Wrap(err, ierrors.FbmShrinkFailed, "persisting predecessor at %d", pred.address)
	}

	if err := f.addrs.Free(tail.address); err != nil {
		return ierrors.Wrap(err, ierrors.FbmShrinkFailed, "freeing tail %d", tail.address)
	}

	f.items = f.items[:len(f.items)-1]
	return nil
}

// SetMetadata updates the head's created/modified/resource-type fields
// and rewrites the whole head block atomically — no partial in-place
// mutation (§4.6).
func (f *FBM) SetMetadata(ctx context.Context, created, modified *time.Time, resourceType *iblock.ResourceType) error {
	if f.err != nil {
		return f.err
	}
	head := f.items[0]
	if created != nil {
		head.created = uint64(created.Unix())
	}
	if modified != nil {
		head.modified = uint64(modified.Unix())
	}
	if resourceType != nil {
		head.resourceType = *resourceType
	}
	return f.persistItem(ctx, head)
}

// Err returns the FBM's latched permanent error, if any.
func (f *FBM) Err() error { return f.err }
