// Package ext4buf implements the block-level buffer cache that sits
// between the raw device and everything else in the driver: a single
// cached copy of each touched block, reference counted, with dirty
// blocks flushed on an explicit write-back barrier rather than
// immediately on every write.
package ext4buf

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RawDevice is the minimal device surface the cache needs: positioned,
// whole-block reads and writes that bypass the cache itself.
type RawDevice interface {
	ReadRaw(where int64, p []byte) (int, error)
	WriteRaw(where int64, p []byte) (int, error)
}

// BufferHead is a single cached block. Its contents may be read or
// mutated in place by a holder between Bread/Bwrite and Brelse; the
// Dirty flag is the only thing that determines whether it gets written
// back.
type BufferHead struct {
	Block    uint64
	Data     []byte
	Uptodate bool
	Dirty    bool

	cache    *Cache
	refcount int32
}

// MarkDirty flags the buffer for write-back. Equivalent to the
// original's fs_mark_buffer_dirty, which also forces Uptodate (a block
// about to be written does not need to be re-read from disk).
func (bh *BufferHead) MarkDirty() {
	bh.Uptodate = true
	bh.Dirty = true
}

// Release decrements the buffer's reference count. It is the BufferHead
// method form of Cache.Brelse, for callers that already hold the handle.
func (bh *BufferHead) Release() {
	bh.cache.Brelse(bh)
}

// Cache is the block buffer cache. One Cache instance exists per mounted
// filesystem; it has no knowledge of filesystem geometry beyond the
// block size it was created with.
type Cache struct {
	mu        sync.Mutex
	blockSize int
	dev       RawDevice
	log       logrus.FieldLogger
	buffers   map[uint64]*BufferHead

	allocated int64
	freed     int64
}

// New creates a cache bound to dev, caching blocks of blockSize bytes.
// Mirrors fs_cache_init(disk_get_fd(), super_block_size_bits()).
func New(dev RawDevice, blockSize int, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		dev:       dev,
		blockSize: blockSize,
		log:       log,
		buffers:   make(map[uint64]*BufferHead),
	}
}

func (c *Cache) getBuffer(block uint64) *BufferHead {
	if bh, ok := c.buffers[block]; ok {
		bh.refcount++
		return bh
	}
	bh := &BufferHead{
		Block: block,
		Data:  make([]byte, c.blockSize),
		cache: c,
	}
	bh.refcount = 1
	c.buffers[block] = bh
	c.allocated++
	return bh
}

// Bread returns the buffer for block, reading it from the device first
// if it is not already cached and up to date. Mirrors fs_bread (sb_getblk
// + bh_submit_read).
func (c *Cache) Bread(block uint64) (*BufferHead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bh := c.getBuffer(block)
	if bh.Uptodate {
		return bh, nil
	}

	c.log.WithFields(logrus.Fields{"block": block}).Debug("buffer cache miss, reading")
	n, err := c.dev.ReadRaw(int64(block)*int64(c.blockSize), bh.Data)
	if err != nil {
		c.putLocked(bh)
		return nil, errors.Wrapf(err, "bread block %d", block)
	}
	if n != len(bh.Data) {
		c.putLocked(bh)
		return nil, errors.Errorf("short read on block %d: got %d want %d", block, n, len(bh.Data))
	}

	bh.Uptodate = true
	return bh, nil
}

// Bwrite returns the buffer for block without reading it from disk
// first; the caller is expected to overwrite the entire block. Mirrors
// fs_bwrite (sb_getblk only, no bh_submit_read).
func (c *Cache) Bwrite(block uint64) *BufferHead {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getBuffer(block)
}

// Brelse releases a reference to bh. It does not flush the buffer. Once
// nothing else references it, a dirty or up-to-date buffer stays cached
// for reuse; any other buffer's in-memory handle is dropped. Mirrors
// fs_brelse.
func (c *Cache) Brelse(bh *BufferHead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(bh)
}

func (c *Cache) putLocked(bh *BufferHead) {
	bh.refcount--
	if bh.refcount > 0 || bh.Dirty || bh.Uptodate {
		return
	}
	delete(c.buffers, bh.Block)
	c.freed++
}

// Bforget discards bh's contents (clears Uptodate and Dirty) and
// releases it, used when a buffer is known to no longer represent valid
// data (for example, a block just freed by the allocator). Mirrors
// fs_bforget.
func (c *Cache) Bforget(bh *BufferHead) {
	c.mu.Lock()
	bh.Uptodate = false
	bh.Dirty = false
	c.mu.Unlock()
	c.Brelse(bh)
}

// Flush writes back every dirty buffer in ascending block order and
// clears their dirty bits. It returns the first error encountered but
// still attempts to flush every buffer, since a partial flush is still
// better than none.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var blocks []uint64
	for b, bh := range c.buffers {
		if bh.Dirty {
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	var first error
	for _, b := range blocks {
		bh := c.buffers[b]
		_, err := c.dev.WriteRaw(int64(b)*int64(c.blockSize), bh.Data)
		if err != nil {
			c.log.WithFields(logrus.Fields{"block": b}).WithError(err).Error("buffer write-back failed")
			if first == nil {
				first = errors.Wrapf(err, "write back block %d", b)
			}
			continue
		}
		bh.Dirty = false
	}
	return first
}

// Stat reports lifetime allocation/free counts, mirroring fs_bh_showstat's
// debug counters.
func (c *Cache) Stat() (allocated, freed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated, c.freed
}
