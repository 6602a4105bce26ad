package ext4

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	RootDirInode = 2
	JournalInode = 8

	InodeFlagHugeFile = 0x00040000 // EXT4_HUGE_FILE_FL
	InodeFlagExtents  = 0x00080000 // EXT4_EXTENTS_FL
	InodeFlagIndex    = 0x00001000 // EXT4_INDEX_FL
	InodeFlagInline   = 0x10000000 // EXT4_INLINE_DATA_FL
)

// rawInode is the on-disk 128-byte (or larger, per s_inode_size) inode
// record. Field layout follows the documented ext4 inode format; the
// block-count accounting shim only ever touches BlocksLo/BlocksHigh/
// Flags/SizeLo/SizeHigh, but the record is kept field-complete so a
// caller round-tripping an inode through this type never loses data it
// didn't ask to change.
type rawInode struct {
	Mode             uint16 // 0x0
	UID              uint16
	SizeLo           uint32
	AccessTime       uint32
	ChangeTime       uint32 // 0xC
	ModTime          uint32
	DeleteTime       uint32
	GID              uint16
	LinksCount       uint16
	BlocksLo         uint32 // 0x1C
	Flags            uint32
	OSD1             uint32
	Block            [60]byte // 0x28
	Generation       uint32   // 0x64
	FileACLLo        uint32
	SizeHigh         uint32
	ObsoFragAddr     uint32 // 0x70
	BlocksHigh       uint16 // 0x74 (osd2.l_i_blocks_high)
	FileACLHi        uint16
	UIDHigh          uint16
	GIDHigh          uint16
	ChecksumLo       uint16
	_                uint16
	ExtraISize       uint16 // 0x80
	ChecksumHi       uint16
	ChangeTimeExtra  uint32
	ModTimeExtra     uint32
	AccessTimeExtra  uint32
	CreateTime       uint32
	CreateTimeExtra  uint32
	VersionHi        uint32
	ProjID           uint32
} // >= 0x80 bytes, extended fields present when s_inode_size > 128

// RawInode is the decoded form of an on-disk inode record used by
// callers of the accounting shim.
type RawInode struct {
	raw rawInode
}

// DecodeInode parses a RawInode from buf (exactly one inode record's
// worth of bytes). A record shorter than the full layout (a 128-byte
// inode) leaves the extended fields zero.
func DecodeInode(buf []byte) (*RawInode, error) {
	in := &RawInode{}
	if need := binary.Size(in.raw); len(buf) < need {
		buf = append(append([]byte(nil), buf...), make([]byte, need-len(buf))...)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &in.raw); err != nil {
		return nil, errors.Wrap(err, "decoding inode")
	}
	return in, nil
}

// Encode serializes the inode back to its on-disk representation.
func (n *RawInode) Encode(size int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &n.raw); err != nil {
		return nil, errors.Wrap(err, "encoding inode")
	}
	out := buf.Bytes()
	if size > len(out) {
		out = append(out, make([]byte, size-len(out))...)
	}
	return out[:size], nil
}

// Size returns the inode's 64-bit file size.
func (n *RawInode) Size() int64 {
	return int64(n.raw.SizeHigh)<<32 | int64(n.raw.SizeLo)
}

// SetSize sets the inode's 64-bit file size. It does not touch the
// change/modification timestamps; that is left to the caller (the
// accounting shim only tracks block counts).
func (n *RawInode) SetSize(size int64) {
	n.raw.SizeLo = uint32(size)
	n.raw.SizeHigh = uint32(size >> 32)
}

// ExtInodeBlocks returns the inode's block count in filesystem blocks
// (not 512-byte sectors), decoding the HUGE_FILE representation exactly
// as ext4_inode_blocks does: the combined 48-bit {BlocksHigh,BlocksLo}
// field is either a raw sector count (shifted down to blocks) or,
// when EXT4_HUGE_FILE_FL is set, already expressed in blocks.
func (n *RawInode) ExtInodeBlocks(blockSizeBits int64) int64 {
	combined := int64(n.raw.BlocksHigh)<<32 | int64(n.raw.BlocksLo)

	if n.raw.Flags&InodeFlagHugeFile == 0 {
		return combined >> uint(blockSizeBits-9)
	}
	return combined
}

// SetExtInodeBlocks sets the inode's block count given a value expressed
// in filesystem blocks, choosing the sector-count representation when it
// fits in the 32-bit BlocksLo field and falling back to the HUGE_FILE
// 48-bit block-count representation otherwise. Mirrors
// ext4_set_inode_blocks.
func (n *RawInode) SetExtInodeBlocks(blocks int64, blockSizeBits int64) {
	sectors := blocks << uint(blockSizeBits-9)

	if sectors>>32 == 0 {
		n.raw.BlocksLo = uint32(sectors)
		n.raw.BlocksHigh = 0
		n.raw.Flags &^= InodeFlagHugeFile
		return
	}

	n.raw.Flags |= InodeFlagHugeFile
	n.raw.BlocksLo = uint32(blocks)
	n.raw.BlocksHigh = uint16(blocks >> 32)
}

// InodeReader is the collaborator surface the inode table (out of
// scope for this driver) must provide to read/write a raw inode record
// by number.
type InodeReader interface {
	ReadInode(ino int64) ([]byte, error)
	WriteInode(ino int64, buf []byte) error
}

// InodeHandle is a short-lived handle on one inode's
// record, mirroring the original's inode_get/inode_put lifecycle: the
// handle owns the decoded record and writes it back exactly once, on
// Put, if it was marked dirty.
type InodeHandle struct {
	ino    int64
	raw    *RawInode
	rd     InodeReader
	size   int
	dirty  bool
}

// InodeGet decodes inode number ino via rd, returning a handle that must
// be released with Put.
func InodeGet(rd InodeReader, ino int64, size int) (*InodeHandle, error) {
	buf, err := rd.ReadInode(ino)
	if err != nil {
		return nil, errors.Wrapf(err, "reading inode %d", ino)
	}
	raw, err := DecodeInode(buf)
	if err != nil {
		return nil, err
	}
	return &InodeHandle{ino: ino, raw: raw, rd: rd, size: size}, nil
}

// Put writes the inode back if it was modified, then releases the
// handle. Mirrors inode_put.
func (h *InodeHandle) Put() error {
	if !h.dirty {
		return nil
	}
	buf, err := h.raw.Encode(h.size)
	if err != nil {
		return err
	}
	return h.rd.WriteInode(h.ino, buf)
}

// MarkDirty flags the handle for write-back on Put. Mirrors
// inode_mark_dirty.
func (h *InodeHandle) MarkDirty() { h.dirty = true }

// SetSize sets the inode's size and marks it dirty. Mirrors
// inode_set_size.
func (h *InodeHandle) SetSize(size int64) {
	h.raw.SetSize(size)
	h.dirty = true
}

// ExtInodeBlocks returns the inode's accounted block count in filesystem
// blocks.
func (h *InodeHandle) ExtInodeBlocks(blockSizeBits int64) int64 {
	return h.raw.ExtInodeBlocks(blockSizeBits)
}

// SetExtInodeBlocks sets the inode's accounted block count and marks it
// dirty. Mirrors ext4_set_inode_blocks on the handle.
func (h *InodeHandle) SetExtInodeBlocks(blocks, blockSizeBits int64) {
	h.raw.SetExtInodeBlocks(blocks, blockSizeBits)
	h.dirty = true
}

// Raw exposes the decoded on-disk record for accounting-shim callers
// (ExtInodeBlocks/SetExtInodeBlocks) that need direct field access.
func (h *InodeHandle) Raw() *RawInode { return h.raw }
