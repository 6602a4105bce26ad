// Package ext4fs is the mount-time entry point: it owns every piece of
// state a mounted ext4 volume needs (device, buffer cache, superblock,
// group-descriptor table, allocator) in one context object, replacing
// the process-wide globals the original driver kept.
package ext4fs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/go-ext4/ext4core/pkg/ext4"
	"github.com/go-ext4/ext4core/pkg/ext4buf"
	"github.com/go-ext4/ext4core/pkg/ext4disk"
)

// MountOptions configures a Mount call.
type MountOptions struct {
	// ReadOnly prevents Unmount from writing back dirty state (still
	// collected in memory, just discarded). Mount itself never writes.
	ReadOnly bool

	// StrictBitmaps escalates allocator geometry anomalies (a zero-length
	// free run where one was not expected) to a returned error instead
	// of logging and skipping past them. See pkg/ext4.Allocator.
	StrictBitmaps bool

	Log logrus.FieldLogger
}

// InodeTableAccessor is the pluggable collaborator a real facade
// supplies to read and write raw inode records; the core never
// implements path resolution or directory contents, only accounting.
type InodeTableAccessor interface {
	ext4.InodeReader
}

// FileSystem is a mounted ext4 volume: the single object a consumer
// constructs and threads through every operation.
type FileSystem struct {
	opts MountOptions
	log  logrus.FieldLogger

	Disk       *ext4disk.Disk
	Cache      *ext4buf.Cache
	Superblock *ext4.Superblock
	Groups     *ext4.GroupTable
	Allocator  *ext4.Allocator

	InodeTable InodeTableAccessor

	closed bool
}

// rawDiskAdapter is the buffer cache's device: it lets ext4buf.Cache
// read missed blocks from, and write dirty blocks back to, the disk
// directly, bypassing the cache itself.
type rawDiskAdapter struct {
	disk *ext4disk.Disk
}

func (r rawDiskAdapter) ReadRaw(where int64, p []byte) (int, error)  { return r.disk.ReadRaw(where, p) }
func (r rawDiskAdapter) WriteRaw(where int64, p []byte) (int, error) { return r.disk.WriteRaw(where, p) }

// bootstrapReader reads the primary superblock directly off the device,
// before the buffer cache (which needs to know the block size) exists.
type bootstrapReader struct {
	disk *ext4disk.Disk
}

func (b bootstrapReader) Read(where int64, p []byte) (int, error) { return b.disk.ReadRaw(where, p) }

// Mount opens path and brings up the full driver state: open the
// device, read the superblock (raw, since the block size isn't known
// yet), initialize the buffer cache now that it is, then load the
// group-descriptor table through the cache.
func Mount(path string, opts MountOptions) (*FileSystem, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	disk, err := ext4disk.Open(path, log)
	if err != nil {
		return nil, err
	}

	sb := ext4.NewSuperblock(log)
	if err := sb.Fill(bootstrapReader{disk: disk}); err != nil {
		disk.Close()
		return nil, err
	}

	cache := ext4buf.New(rawDiskAdapter{disk: disk}, int(sb.BlockSize()), log)
	disk.Attach(cache)

	gt := ext4.NewGroupTable(sb)
	if err := gt.Fill(disk); err != nil {
		disk.Close()
		return nil, err
	}

	alloc := ext4.NewAllocator(cache, sb, gt, log)
	alloc.StrictBitmaps = opts.StrictBitmaps

	return &FileSystem{
		opts:       opts,
		log:        log,
		Disk:       disk,
		Cache:      cache,
		Superblock: sb,
		Groups:     gt,
		Allocator:  alloc,
	}, nil
}

// Unmount tears the filesystem down in the required order: flush dirty
// buffers, write back the group-descriptor table, write back the
// superblock, flush the buffers those two write-backs dirtied, then
// close the device. Every step runs even if an earlier one fails; the
// first error encountered is returned.
func (fs *FileSystem) Unmount() error {
	if fs.closed {
		return ext4.ErrClosed
	}
	fs.closed = true

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if !fs.opts.ReadOnly {
		record(fs.Cache.Flush())
		record(fs.Groups.Writeback(fs.Disk))
		record(fs.Superblock.Writeback(fs.Disk))
		record(fs.Cache.Flush())
	}
	record(fs.Disk.Close())

	if first != nil {
		return errors.Wrap(first, "unmount")
	}
	return nil
}

// Check walks the block groups and verifies the two global bookkeeping
// invariants: the sum of per-group free-block counts equals the
// superblock's free-block count, and every initialized group's bitmap
// free-bit population matches its recorded free-block count. Groups
// whose block bitmap is still uninitialized are not read.
// report receives progress after each group, for a CLI progress bar.
func (fs *FileSystem) Check(report func(group, total int64)) error {
	total := fs.Groups.NGroups()
	var sum int64

	for g := int64(0); g < total; g++ {
		sum += fs.Groups.FreeBlocksCount(g)

		if fs.Groups.IsBlockBitmapInited(g) {
			bh, err := fs.Cache.Bread(uint64(fs.Groups.BlockBitmap(g)))
			if err != nil {
				return errors.Wrapf(err, "reading bitmap for group %d", g)
			}
			free := countFreeBits(bh.Data, fs.Superblock.BlockSize()*8)
			fs.Cache.Brelse(bh)

			if free != fs.Groups.FreeBlocksCount(g) {
				return errors.Errorf("group %d: bitmap free-bit count %d does not match recorded free blocks %d", g, free, fs.Groups.FreeBlocksCount(g))
			}
		}

		if report != nil {
			report(g+1, total)
		}
	}

	if sum != fs.Superblock.FreeBlocksCount() {
		return errors.Errorf("sum of per-group free blocks %d does not match superblock free-block count %d", sum, fs.Superblock.FreeBlocksCount())
	}

	return nil
}

func countFreeBits(bitmap []byte, bits int64) int64 {
	var free int64
	for i := int64(0); i < bits; i++ {
		if !ext4.TestBit(bitmap, i) {
			free++
		}
	}
	return free
}
