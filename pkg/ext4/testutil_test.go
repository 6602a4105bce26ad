package ext4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// memImage is a fully in-memory stand-in for a block device, satisfying
// both the Read/Write interface Superblock/GroupTable expect and the
// ReadRaw/WriteRaw interface ext4buf.Cache expects, so tests never need
// a real file.
type memImage struct {
	data []byte
}

func (m *memImage) Read(where int64, p []byte) (int, error) {
	return copy(p, m.data[where:]), nil
}

func (m *memImage) Write(where int64, p []byte) (int, error) {
	return copy(m.data[where:], p), nil
}

func (m *memImage) ReadRaw(where int64, p []byte) (int, error)  { return m.Read(where, p) }
func (m *memImage) WriteRaw(where int64, p []byte) (int, error) { return m.Write(where, p) }

// newTestFS builds a tiny, single-group, 1024-byte-block volume: 4096
// blocks total, sparse_super on, 32-byte descriptors, group 0's bitmaps
// freshly lazy-uninitialized. Small enough to reason about by hand. The
// group's bitmaps and inode table sit at the end of the group, so its
// free blocks form one contiguous run right after the superblock and GDT.
func newTestFS(t *testing.T) (*memImage, *Superblock, *GroupTable) {
	t.Helper()

	img := &memImage{data: make([]byte, 4096*1024)}

	raw := rawSuperblock{
		InodesCount:       128,
		BlocksCountLo:     4096,
		FreeBlocksCountLo: 4075, // matches the geometry actually computed below: 4095 group blocks - 2 reserved prefix (superblock, GDT) - 18 meta blocks
		FreeInodesCount:   120,
		FirstDataBlock:    1,
		LogBlockSize:      0, // 1024-byte blocks
		BlocksPerGroup:    8192,
		InodesPerGroup:    128,
		Magic:             Magic,
		InodeSize:         128,
		FeatureROCompat:   FeatureROCompatSparseSuper,
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &raw); err != nil {
		t.Fatal(err)
	}
	copy(img.data[BootSectorOffset:], buf.Bytes())

	sb := NewSuperblock(nil)
	if err := sb.Fill(img); err != nil {
		t.Fatal(err)
	}

	gd := rawGroupDescriptor32{
		BlockBitmapLo:     4078,
		InodeBitmapLo:     4079,
		InodeTableLo:      4080, // 16 blocks: 4080..4095, the group's last block
		FreeBlocksCountLo: 4075,
		FreeInodesCountLo: 120,
		Flags:             BGBlockUninit | BGInodeUninit,
	}
	gbuf := new(bytes.Buffer)
	if err := binary.Write(gbuf, binary.LittleEndian, &gd); err != nil {
		t.Fatal(err)
	}
	gdOff := int64(2)*sb.BlockSize() + 0*sb.DescriptorSize()
	copy(img.data[gdOff:], gbuf.Bytes())

	gt := NewGroupTable(sb)
	if err := gt.Fill(img); err != nil {
		t.Fatal(err)
	}

	return img, sb, gt
}
