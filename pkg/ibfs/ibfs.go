// Package ibfs implements the filesystem facade of spec §4.8: it composes
// the volume, address space, and FBM layers to create empty volumes, open
// existing ones, and open file block maps.
package ibfs

import (
	"context"
	"time"

	"github.com/4s1ght/ibfs/internal/iblock"
	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/iconfig"
	"github.com/4s1ght/ibfs/internal/ierrors"
	"github.com/4s1ght/ibfs/internal/ilog"
	"github.com/4s1ght/ibfs/pkg/addrspace"
	"github.com/4s1ght/ibfs/pkg/fbm"
	"github.com/4s1ght/ibfs/pkg/volume"
)

// defaultAllocCacheSize is the allocator's replenish cache size (and,
// per §4.7, its region scan size) when the caller doesn't override it.
const defaultAllocCacheSize = 64

// emptyDirectoryTable is the placeholder payload written into a new
// directory's single data block. The directory table's real serialization
// format is a VFS-layer concern (spec.md §1, out of scope); this engine
// only needs a concrete, parseable placeholder so CreateEmpty produces a
// structurally valid root directory.
var emptyDirectoryTable = []byte(`{}`)

// CreateOptions configures a brand-new IBFS volume and its root directory.
type CreateOptions struct {
	Path           string
	BlockSizeLevel uint8
	BlockCount     uint64
	Cipher         icipher.Cipher
	UserKey        []byte
	Meta           map[string]interface{}
	Progress       func(written, total int64)
	Config         iconfig.Engine
	Log            ilog.Logger
	AllocCacheSize int
}

// Filesystem composes the volume, address space, and FBM layers.
type Filesystem struct {
	vol   *volume.Volume
	addrs *addrspace.AddressSpace
	cfg   iconfig.Engine
	log   ilog.Logger
}

// CreateEmpty builds a new volume image, opens it, and writes an initial
// root directory: a HEAD block with resource_type=DIR and a single DATA
// block holding the (placeholder) empty directory table (§4.8).
func CreateEmpty(ctx context.Context, opts CreateOptions) (*Filesystem, error) {
	log := ilog.OrNop(opts.Log)
	cfg := opts.Config
	if cfg == (iconfig.Engine{}) {
		cfg = iconfig.Defaults()
	}
	cacheSize := opts.AllocCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultAllocCacheSize
	}

	if err := volume.CreateEmpty(volume.CreateOptions{
		Path:           opts.Path,
		BlockSizeLevel: opts.BlockSizeLevel,
		BlockCount:     opts.BlockCount,
		Cipher:         opts.Cipher,
		UserKey:        opts.UserKey,
		Meta:           opts.Meta,
		Progress:       opts.Progress,
		Config:         cfg,
		Log:            log,
	}); err != nil {
		return nil, err
	}

	vol, err := volume.Open(opts.Path, opts.UserKey, true, cfg, log)
	if err != nil {
		return nil, err
	}

	addrs := addrspace.New(vol.Offset(), vol.Root().BlockCount, cacheSize, log)

	headAddr, err := addrs.Alloc()
	if err != nil {
		vol.Close()
		return nil, ierrors.Wrap(err, ierrors.FbmOpenFailed, "allocating root directory head")
	}
	dataAddr, err := addrs.Alloc()
	if err != nil {
		vol.Close()
		return nil, ierrors.Wrap(err, ierrors.FbmOpenFailed, "allocating root directory data block")
	}

	now := uint64(time.Now().Unix())
	if err := vol.WriteHead(ctx, headAddr, iblock.HeadFields{
		Next:         0,
		Created:      now,
		Modified:     now,
		ResourceType: iblock.ResourceDir,
		Body:         nil,
	}); err != nil {
		vol.Close()
		return nil, err
	}
	if err := vol.WriteData(ctx, dataAddr, iblock.DataFields{Body: emptyDirectoryTable}); err != nil {
		vol.Close()
		return nil, err
	}

	f, err := fbm.Open(ctx, vol, addrs, headAddr, log)
	if err != nil {
		vol.Close()
		return nil, err
	}
	if err := f.Append(ctx, []uint64{dataAddr}); err != nil {
		vol.Close()
		return nil, err
	}

	root := vol.Root()
	root.FSRootAddress = headAddr
	if err := vol.RewriteRoot(ctx, root); err != nil {
		vol.Close()
		return nil, err
	}

	log.Infof("ibfs: created root directory at %d (data %d)", headAddr, dataAddr)

	// Seed the returned allocator the way Open does, from the addresses the
	// root directory uses, so addresses still sitting in the replenish cache
	// are not left marked allocated.
	addrs = addrspace.NewFromAllocated(vol.Offset(), vol.Root().BlockCount, cacheSize, []uint64{headAddr, dataAddr}, log)

	return &Filesystem{vol: vol, addrs: addrs, cfg: cfg, log: log}, nil
}

// OpenOptions configures opening an existing volume.
type OpenOptions struct {
	Path      string
	UserKey   []byte
	Integrity bool
	Config    iconfig.Engine
	Log       ilog.Logger
	// Reachable, if supplied, enumerates every address a full VFS-layer
	// directory walk would consider live, seeding accurate allocator
	// state. Without it (the engine has no directory-table parser of its
	// own — see SPEC_FULL.md §C), Open reconstructs allocation state from
	// only the filesystem root's own FBM: its head, links, and the
	// address of its one directory-table data block.
	Reachable      func(ctx context.Context, fs *Filesystem) ([]uint64, error)
	AllocCacheSize int
}

// Open reads an existing volume and reconstructs its address space.
func Open(ctx context.Context, opts OpenOptions) (*Filesystem, error) {
	log := ilog.OrNop(opts.Log)
	cfg := opts.Config
	if cfg == (iconfig.Engine{}) {
		cfg = iconfig.Defaults()
	}
	cacheSize := opts.AllocCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultAllocCacheSize
	}

	vol, err := volume.Open(opts.Path, opts.UserKey, opts.Integrity, cfg, log)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{vol: vol, cfg: cfg, log: log}

	var reachable []uint64
	if opts.Reachable != nil {
		reachable, err = opts.Reachable(ctx, fs)
	} else {
		reachable, err = fs.rootReachable(ctx)
	}
	if err != nil {
		vol.Close()
		return nil, err
	}

	fs.addrs = addrspace.NewFromAllocated(vol.Offset(), vol.Root().BlockCount, cacheSize, reachable, log)
	return fs, nil
}

// rootReachable walks the fs-root FBM's own chain and its directly
// referenced data blocks.
func (fs *Filesystem) rootReachable(ctx context.Context) ([]uint64, error) {
	root := fs.vol.Root()
	if root.FSRootAddress == 0 {
		return nil, nil
	}
	f, err := fbm.Open(ctx, fs.vol, nil, root.FSRootAddress, fs.log)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.FbmOpenFailed, "opening root fbm")
	}
	addrs := []uint64{f.HeadAddress()}
	addrs = append(addrs, f.LinkAddresses()...)
	for i := 0; i < f.Length(); i++ {
		a, ok := f.Get(i)
		if ok {
			addrs = append(addrs, a)
		}
	}
	return addrs, nil
}

// OpenFBM opens the file block map rooted at address.
func (fs *Filesystem) OpenFBM(ctx context.Context, address uint64) (*fbm.FBM, error) {
	return fbm.Open(ctx, fs.vol, fs.addrs, address, fs.log)
}

// Volume exposes the underlying volume for collaborators (stream
// adapters, VFS layer) that need direct block access.
func (fs *Filesystem) Volume() *volume.Volume { return fs.vol }

// AddressSpace exposes the allocator for collaborators that manage their
// own block lifecycles (e.g. a write-stream adapter allocating data
// blocks directly).
func (fs *Filesystem) AddressSpace() *addrspace.AddressSpace { return fs.addrs }

// Close releases the underlying volume.
func (fs *Filesystem) Close() error { return fs.vol.Close() }

// FsckReport is the result of a reachability walk (SPEC_FULL.md §C): every
// address reached from the filesystem root's FBM, every mismatch found
// while reading those blocks, and every allocated address the walk never
// reached (a candidate leak per the leak-over-dangle discipline of §4.6/§7).
type FsckReport struct {
	HeadsVisited int
	LinksVisited int
	DataVisited  int
	Mismatches   []string
	LeakedAddrs  []uint64
}

// Fsck walks the filesystem root's FBM chain and its data blocks, checking
// tag and CRC on every block it touches, then reports allocated addresses
// the walk never reached. It repairs nothing — only a human or a VFS-layer
// recovery tool decides what to do with a reported leak.
func (fs *Filesystem) Fsck(ctx context.Context) (*FsckReport, error) {
	report := &FsckReport{}
	root := fs.vol.Root()

	reached := map[uint64]bool{}
	if root.FSRootAddress != 0 {
		f, err := fbm.Open(ctx, fs.vol, fs.addrs, root.FSRootAddress, fs.log)
		if err != nil {
			report.Mismatches = append(report.Mismatches, ierrors.RootCause(err).Error())
		} else {
			addr := f.HeadAddress()
			reached[addr] = true
			report.HeadsVisited++
			for _, linkAddr := range f.LinkAddresses() {
				reached[linkAddr] = true
				report.LinksVisited++
			}

			n := f.Length()
			for i := 0; i < n; i++ {
				dataAddr, ok := f.Get(i)
				if !ok {
					continue
				}
				reached[dataAddr] = true
				report.DataVisited++
				if _, err := fs.vol.ReadData(ctx, dataAddr); err != nil {
					report.Mismatches = append(report.Mismatches,
						ierrors.RootCause(err).Error())
				}
			}
		}
	}

	if fs.addrs != nil {
		for addr := fs.addrs.Offset(); addr < fs.addrs.BlockCount(); addr++ {
			if fs.addrs.IsAllocated(addr) && !reached[addr] {
				report.LeakedAddrs = append(report.LeakedAddrs, addr)
			}
		}
	}

	return report, nil
}
