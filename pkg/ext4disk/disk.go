// Package ext4disk provides the lowest layer of the filesystem driver: a
// raw block device opened for positioned reads and writes, guarded by the
// same coarse-grained read/write locking the original driver used.
package ext4disk

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Buffered is implemented by the buffer cache. Disk routes every logical
// read/write through it so nothing touches the file descriptor except on
// a cache miss.
type Buffered interface {
	ReadThrough(where int64, p []byte) (int, error)
	WriteThrough(where int64, p []byte) (int, error)
}

// Disk is a raw block device opened for positioned I/O. A Disk has no
// notion of filesystem geometry; it only knows how to move bytes at
// absolute offsets, same as the original's disk_fd wrapper.
type Disk struct {
	f *os.File

	readMu  sync.Mutex
	writeMu sync.Mutex

	buf Buffered
	log logrus.FieldLogger
}

// Open opens path for read/write positioned I/O.
func Open(path string, log logrus.FieldLogger) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Disk{f: f, log: log}, nil
}

// Attach wires the buffer cache that Read/Write delegate to. It must be
// called once, after the device's block size is known (super_fill has
// run), before any Read/Write call.
func (d *Disk) Attach(buf Buffered) {
	d.buf = buf
}

// Close closes the underlying file descriptor. It does not flush the
// buffer cache; callers must unmount the filesystem first.
func (d *Disk) Close() error {
	return d.f.Close()
}

// Read performs a positioned read of exactly len(p) bytes through the
// buffer cache, or returns an error.
func (d *Disk) Read(where int64, p []byte) (int, error) {
	if len(p) == 0 {
		d.log.Warn("read operation with 0 size")
		return 0, nil
	}
	if d.buf == nil {
		return 0, errors.New("ext4disk: read before buffer cache attached")
	}

	d.readMu.Lock()
	defer d.readMu.Unlock()

	d.log.WithFields(logrus.Fields{"where": where, "size": len(p)}).Debug("disk read")
	n, err := d.buf.ReadThrough(where, p)
	if err != nil {
		return n, errors.Wrapf(err, "read 0x%x +0x%x", where, len(p))
	}
	if n != len(p) {
		return n, errors.Errorf("short read at 0x%x: wanted %d got %d", where, len(p), n)
	}
	return n, nil
}

// Write performs a positioned write of exactly len(p) bytes through the
// buffer cache, or returns an error.
func (d *Disk) Write(where int64, p []byte) (int, error) {
	if len(p) == 0 {
		d.log.Warn("write operation with 0 size")
		return 0, nil
	}
	if d.buf == nil {
		return 0, errors.New("ext4disk: write before buffer cache attached")
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.log.WithFields(logrus.Fields{"where": where, "size": len(p)}).Debug("disk write")
	n, err := d.buf.WriteThrough(where, p)
	if err != nil {
		return n, errors.Wrapf(err, "write 0x%x +0x%x", where, len(p))
	}
	if n != len(p) {
		return n, errors.Errorf("short write at 0x%x: wanted %d got %d", where, len(p), n)
	}
	return n, nil
}

// ReadRaw and WriteRaw bypass the buffer cache entirely; only the cache's
// miss path is meant to call these.
func (d *Disk) ReadRaw(where int64, p []byte) (int, error) {
	return d.f.ReadAt(p, where)
}

func (d *Disk) WriteRaw(where int64, p []byte) (int, error) {
	return d.f.WriteAt(p, where)
}
