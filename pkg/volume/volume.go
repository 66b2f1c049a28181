// Package volume implements the Volume component of spec §4.5: it owns
// the file handle, parsed root block, codec, and I/O queue, and exposes
// block-addressed read/write operations over an IBFS volume image.
package volume

import (
	"context"
	"crypto/rand"
	"os"

	"github.com/google/uuid"

	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/iblock"
	"github.com/4s1ght/ibfs/internal/iconfig"
	"github.com/4s1ght/ibfs/internal/ierrors"
	"github.com/4s1ght/ibfs/internal/ilog"
	"github.com/4s1ght/ibfs/internal/ioqueue"
)

// SpecMajor and SpecMinor are the version this engine writes into new
// volumes.
const (
	SpecMajor uint16 = 1
	SpecMinor uint16 = 0
)

// Volume owns a single open volume image.
type Volume struct {
	file      *os.File
	path      string
	root      iblock.Root
	blockSize int
	cipherCtx *icipher.Context
	key       []byte
	queue     *ioqueue.Queue
	meta      map[string]interface{}
	integrity bool
	cfg       iconfig.Engine
	log       ilog.Logger
}

// CreateOptions configures a brand-new volume image (§4.5 create_empty).
type CreateOptions struct {
	Path           string
	BlockSizeLevel uint8
	BlockCount     uint64
	Cipher         icipher.Cipher
	UserKey        []byte
	Meta           map[string]interface{}
	// Progress, if non-nil, is called with cumulative bytes written and
	// the total, roughly every cfg.ProgressIntervalBytes (§4.5: "every
	// ≈5 MB by default").
	Progress func(written, total int64)
	Config   iconfig.Engine
	Log      ilog.Logger
}

// CreateEmpty allocates the file, zero-fills it in chunks, and writes the
// root block and meta cluster. It does not open the resulting volume;
// call Open afterward.
func CreateEmpty(opts CreateOptions) error {
	log := ilog.OrNop(opts.Log)
	cfg := opts.Config
	if cfg == (iconfig.Engine{}) {
		cfg = iconfig.Defaults()
	}

	blockSize, err := iblock.BlockSizeForLevel(opts.BlockSizeLevel)
	if err != nil {
		return ierrors.Wrap(err, ierrors.RootSerializeFailed, "block size level")
	}

	key, err := icipher.DeriveKey(opts.Cipher, opts.UserKey)
	if err != nil {
		return err
	}
	cx := icipher.NewContext(opts.Cipher, randomSeed())
	keyCheck, err := icipher.KeyCheck(cx, key)
	if err != nil {
		return err
	}

	root := iblock.Root{
		SpecMajor:      SpecMajor,
		SpecMinor:      SpecMinor,
		FSRootAddress:  0,
		Cipher:         opts.Cipher,
		AESIVSeed:      cx.Seed(),
		AESKeyCheck:    keyCheck,
		Compatibility:  true,
		BlockSizeLevel: opts.BlockSizeLevel,
		BlockCount:     opts.BlockCount,
		VolumeUUID:     uuid.New(),
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return ierrors.Wrap(err, ierrors.WriteIOFailed, "creating volume file")
	}
	defer f.Close()

	total := int64(opts.BlockCount) * int64(blockSize)
	if err := zeroFill(f, total, blockSize, cfg, log, opts.Progress); err != nil {
		return err
	}

	rootBuf, err := iblock.SerializeRoot(root, blockSize)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(rootBuf, 0); err != nil {
		return ierrors.Wrap(err, ierrors.WriteIOFailed, "writing root block")
	}

	metaSize := iblock.MetaClusterSize(blockSize)
	metaBuf, err := iblock.SerializeMeta(opts.Meta, metaSize)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(metaBuf, int64(blockSize)); err != nil {
		return ierrors.Wrap(err, ierrors.WriteIOFailed, "writing meta cluster")
	}

	log.Infof("volume: created %s, %d blocks of %d bytes", opts.Path, opts.BlockCount, blockSize)
	return nil
}

// zeroFill writes zero bytes across the whole volume in chunks of
// hwm_blocks physical blocks (§4.5, default 16), reporting progress via
// progress roughly every cfg.ProgressIntervalBytes.
func zeroFill(f *os.File, total int64, blockSize int, cfg iconfig.Engine, log ilog.Logger, progress func(written, total int64)) error {
	hwm := cfg.ZeroFillHWMBlocks
	if hwm <= 0 {
		hwm = 16
	}
	chunkLen := hwm * blockSize
	if int64(chunkLen) > total {
		chunkLen = int(total)
	}
	chunk := make([]byte, chunkLen)

	var written int64
	var sinceReport int64
	for written < total {
		n := int64(len(chunk))
		if total-written < n {
			n = total - written
		}
		if _, err := f.WriteAt(chunk[:n], written); err != nil {
			return ierrors.Wrap(err, ierrors.WriteIOFailed, "zero-filling volume")
		}
		written += n
		sinceReport += n
		if progress != nil && sinceReport >= cfg.ProgressIntervalBytes {
			progress(written, total)
			sinceReport = 0
		}
	}
	if progress != nil && sinceReport > 0 {
		progress(written, total)
	}
	log.Debugf("volume: zero-filled %d bytes", written)
	return nil
}

// Open reads the root block, validates compatibility and size, and
// constructs a ready-to-use Volume. integrity controls whether a file size
// mismatch is fatal and whether CRC mismatches on subsequent reads are
// surfaced as errors (§4.5, §7). The key check runs once here, whatever
// integrity is, and a mismatch fails Open with WrongKey.
func Open(path string, userKey []byte, integrity bool, cfg iconfig.Engine, log ilog.Logger) (*Volume, error) {
	log = ilog.OrNop(log)
	if cfg == (iconfig.Engine{}) {
		cfg = iconfig.Defaults()
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.ReadIOFailed, "opening volume file")
	}

	head := make([]byte, 128)
	if _, err := f.ReadAt(head, 0); err != nil {
		f.Close()
		return nil, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "reading root block")
	}
	root, err := iblock.DeserializeRoot(head)
	if err != nil {
		f.Close()
		return nil, err
	}

	if !root.Compatibility {
		f.Close()
		return nil, ierrors.New(ierrors.ModeIncompatible, "volume compatibility flag is false")
	}

	blockSize, err := iblock.BlockSizeForLevel(root.BlockSizeLevel)
	if err != nil {
		f.Close()
		return nil, ierrors.Wrap(err, ierrors.RootDeserializeFailed, "block size level")
	}

	if integrity {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, ierrors.Wrap(err, ierrors.ReadIOFailed, "stat volume file")
		}
		want := int64(root.BlockCount) * int64(blockSize)
		if fi.Size() != want {
			f.Close()
			return nil, ierrors.New(ierrors.SizeMismatch, "file size %d != expected %d", fi.Size(), want)
		}
	}

	cx := icipher.NewContext(root.Cipher, root.AESIVSeed)
	key, err := icipher.DeriveKey(root.Cipher, userKey)
	if err != nil {
		f.Close()
		return nil, err
	}

	check, err := icipher.KeyCheck(cx, key)
	if err != nil {
		f.Close()
		return nil, err
	}
	if check != root.AESKeyCheck {
		f.Close()
		return nil, ierrors.New(ierrors.WrongKey, "key check mismatch")
	}

	v := &Volume{
		file:      f,
		path:      path,
		root:      root,
		blockSize: blockSize,
		cipherCtx: cx,
		key:       key,
		queue:     ioqueue.New(cfg.LeaseTimeout, log),
		integrity: integrity,
		cfg:       cfg,
		log:       log,
	}

	metaBuf, err := v.readRaw(context.Background(), int64(blockSize), iblock.MetaClusterSize(blockSize))
	if err != nil {
		f.Close()
		return nil, err
	}
	meta, err := iblock.DeserializeMeta(metaBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	v.meta = meta

	return v, nil
}

// Close releases the underlying file handle.
func (v *Volume) Close() error { return v.file.Close() }

// Root returns a copy of the parsed root block.
func (v *Volume) Root() iblock.Root { return v.root }

// BlockSize returns the volume's physical block size.
func (v *Volume) BlockSize() int { return v.blockSize }

// Offset returns the first allocatable block address.
func (v *Volume) Offset() uint64 { return iblock.Offset(v.blockSize) }

// Cipher exposes the volume's cipher context and derived key, for
// components that need to serialize/deserialize blocks themselves.
func (v *Volume) Cipher() (*icipher.Context, []byte) { return v.cipherCtx, v.key }

func (v *Volume) readRaw(ctx context.Context, offset int64, n int) ([]byte, error) {
	lease, err := v.queue.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	_, err = v.file.ReadAt(buf, offset)
	relErr := lease.Release()
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.ReadIOFailed, "offset %d", offset)
	}
	if relErr != nil {
		return nil, relErr
	}
	return buf, nil
}

func (v *Volume) writeRaw(ctx context.Context, offset int64, buf []byte) error {
	lease, err := v.queue.Acquire(ctx)
	if err != nil {
		return err
	}
	_, err = v.file.WriteAt(buf, offset)
	relErr := lease.Release()
	if err != nil {
		return ierrors.Wrap(err, ierrors.WriteIOFailed, "offset %d", offset)
	}
	return relErr
}

// ReadBlock reads exactly one physical block at address.
func (v *Volume) ReadBlock(ctx context.Context, address uint64) ([]byte, error) {
	return v.readRaw(ctx, int64(address)*int64(v.blockSize), v.blockSize)
}

// WriteBlock writes exactly one physical block (len(buf) must equal the
// block size) at address.
func (v *Volume) WriteBlock(ctx context.Context, address uint64, buf []byte) error {
	if len(buf) != v.blockSize {
		return ierrors.New(ierrors.WriteIOFailed, "buffer length %d != block size %d", len(buf), v.blockSize)
	}
	return v.writeRaw(ctx, int64(address)*int64(v.blockSize), buf)
}

// ReadHead reads and decrypts the head block at address, asserting its tag
// and, when integrity is enabled, its CRC.
func (v *Volume) ReadHead(ctx context.Context, address uint64) (iblock.HeadFields, error) {
	buf, err := v.ReadBlock(ctx, address)
	if err != nil {
		return iblock.HeadFields{}, err
	}
	res, err := iblock.DeserializeHead(buf, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return iblock.HeadFields{}, err
	}
	if v.integrity && res.CRCMismatch {
		v.log.Warnf("volume: crc mismatch reading head at %d", address)
		return res.Fields, ierrors.New(ierrors.IntegrityMismatch, "head block at %d", address)
	}
	return res.Fields, nil
}

// WriteHead serializes and writes a head block.
func (v *Volume) WriteHead(ctx context.Context, address uint64, f iblock.HeadFields) error {
	buf, err := iblock.SerializeHead(f, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return err
	}
	return v.WriteBlock(ctx, address, buf)
}

// ReadLink reads and decrypts the link block at address.
func (v *Volume) ReadLink(ctx context.Context, address uint64) (iblock.LinkFields, error) {
	buf, err := v.ReadBlock(ctx, address)
	if err != nil {
		return iblock.LinkFields{}, err
	}
	res, err := iblock.DeserializeLink(buf, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return iblock.LinkFields{}, err
	}
	if v.integrity && res.CRCMismatch {
		v.log.Warnf("volume: crc mismatch reading link at %d", address)
		return res.Fields, ierrors.New(ierrors.IntegrityMismatch, "link block at %d", address)
	}
	return res.Fields, nil
}

// WriteLink serializes and writes a link block.
func (v *Volume) WriteLink(ctx context.Context, address uint64, f iblock.LinkFields) error {
	buf, err := iblock.SerializeLink(f, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return err
	}
	return v.WriteBlock(ctx, address, buf)
}

// ReadData reads and decrypts the data block at address.
func (v *Volume) ReadData(ctx context.Context, address uint64) (iblock.DataFields, error) {
	buf, err := v.ReadBlock(ctx, address)
	if err != nil {
		return iblock.DataFields{}, err
	}
	res, err := iblock.DeserializeData(buf, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return iblock.DataFields{}, err
	}
	if v.integrity && res.CRCMismatch {
		v.log.Warnf("volume: crc mismatch reading data at %d", address)
		return res.Fields, ierrors.New(ierrors.IntegrityMismatch, "data block at %d", address)
	}
	return res.Fields, nil
}

// WriteData serializes and writes a data block.
func (v *Volume) WriteData(ctx context.Context, address uint64, f iblock.DataFields) error {
	buf, err := iblock.SerializeData(f, v.blockSize, v.cipherCtx, v.key, address)
	if err != nil {
		return err
	}
	return v.WriteBlock(ctx, address, buf)
}

// ReadMetaCluster returns the in-memory meta cluster document. It is
// loaded once at Open and kept resident, matching the teacher's pattern
// of holding parsed configuration in memory rather than re-reading it.
func (v *Volume) ReadMetaCluster() map[string]interface{} { return v.meta }

// WriteMetaCluster rewrites the whole meta cluster region, both on disk
// and in memory.
func (v *Volume) WriteMetaCluster(ctx context.Context, meta map[string]interface{}) error {
	buf, err := iblock.SerializeMeta(meta, iblock.MetaClusterSize(v.blockSize))
	if err != nil {
		return err
	}
	if err := v.writeRaw(ctx, int64(v.blockSize), buf); err != nil {
		return err
	}
	v.meta = meta
	return nil
}

// RewriteRoot persists an updated root block (§4.5: "mutated only by an
// explicit root rewrite").
func (v *Volume) RewriteRoot(ctx context.Context, root iblock.Root) error {
	buf, err := iblock.SerializeRoot(root, v.blockSize)
	if err != nil {
		return err
	}
	if err := v.writeRaw(ctx, 0, buf); err != nil {
		return err
	}
	v.root = root
	return nil
}

func randomSeed() [icipher.IVSeedSize]byte {
	var seed [icipher.IVSeedSize]byte
	_, _ = rand.Read(seed[:])
	return seed
}
