package ext4

import (
	"bytes"
	"encoding/binary"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// groupEntry is one block group's live descriptor, decoded from either
// the 32-byte or 64-byte on-disk representation depending on the
// superblock's descriptor size, plus a per-entry dirty flag mirroring
// the original's bg_dirty bit.
type groupEntry struct {
	blockBitmap int64
	inodeBitmap int64
	inodeTable  int64
	freeBlocks  int64
	freeInodes  int64
	usedDirs    int64
	itableUnused int64
	flags       uint16
	dirty       bool
}

// GroupTable is the live, in-memory block-group descriptor table: one
// entry per block group, individually dirty-tracked so writeback only
// touches groups that actually changed.
type GroupTable struct {
	sb      *Superblock
	entries []groupEntry
}

// NewGroupTable creates an (unfilled) group table bound to sb.
func NewGroupTable(sb *Superblock) *GroupTable {
	return &GroupTable{sb: sb}
}

// Fill loads every group descriptor from the device. Mirrors
// super_group_fill's loop over descriptor_loc-addressed blocks.
func (g *GroupTable) Fill(r interface{ Read(int64, []byte) (int, error) }) error {
	n := g.sb.NBlockGroups()
	g.entries = make([]groupEntry, n)

	descSize := g.sb.DescriptorSize()
	sbBlock := int64(1)
	if g.sb.BlockSize() == MinBlockSize {
		sbBlock = 1
	} else {
		sbBlock = MinBlockSize / g.sb.BlockSize()
		if sbBlock < 1 {
			sbBlock = 1
		}
	}

	for i := int64(0); i < n; i++ {
		blk := g.sb.descriptorLoc(sbBlock, i/g.sb.DescriptorsPerBlock())
		off := blk<<uint(g.sb.BlockSizeBits()) + descSize*(i%g.sb.DescriptorsPerBlock())

		buf := make([]byte, descSize)
		if _, err := r.Read(off, buf); err != nil {
			return errors.Wrapf(err, "reading group descriptor %d", i)
		}

		entry, err := decodeGroupDescriptor(buf, descSize)
		if err != nil {
			return errors.Wrapf(err, "decoding group descriptor %d", i)
		}
		g.entries[i] = entry
	}

	return nil
}

func decodeGroupDescriptor(buf []byte, descSize int64) (groupEntry, error) {
	if descSize >= DescriptorSize64 {
		var raw rawGroupDescriptor64
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
			return groupEntry{}, err
		}
		return groupEntry{
			blockBitmap:  int64(raw.BlockBitmapHi)<<32 | int64(raw.BlockBitmapLo),
			inodeBitmap:  int64(raw.InodeBitmapHi)<<32 | int64(raw.InodeBitmapLo),
			inodeTable:   int64(raw.InodeTableHi)<<32 | int64(raw.InodeTableLo),
			freeBlocks:   int64(raw.FreeBlocksCountHi)<<16 | int64(raw.FreeBlocksCountLo),
			freeInodes:   int64(raw.FreeInodesCountHi)<<16 | int64(raw.FreeInodesCountLo),
			usedDirs:     int64(raw.UsedDirsCountHi)<<16 | int64(raw.UsedDirsCountLo),
			itableUnused: int64(raw.ItableUnusedHi)<<16 | int64(raw.ItableUnusedLo),
			flags:        raw.Flags,
		}, nil
	}

	var raw rawGroupDescriptor32
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return groupEntry{}, err
	}
	return groupEntry{
		blockBitmap:  int64(raw.BlockBitmapLo),
		inodeBitmap:  int64(raw.InodeBitmapLo),
		inodeTable:   int64(raw.InodeTableLo),
		freeBlocks:   int64(raw.FreeBlocksCountLo),
		freeInodes:   int64(raw.FreeInodesCountLo),
		usedDirs:     int64(raw.UsedDirsCountLo),
		itableUnused: int64(raw.ItableUnusedLo),
		flags:        raw.Flags,
	}, nil
}

func encodeGroupDescriptor(e groupEntry, descSize int64) ([]byte, error) {
	buf := new(bytes.Buffer)
	if descSize >= DescriptorSize64 {
		raw := rawGroupDescriptor64{
			rawGroupDescriptor32: rawGroupDescriptor32{
				BlockBitmapLo:     uint32(e.blockBitmap),
				InodeBitmapLo:     uint32(e.inodeBitmap),
				InodeTableLo:      uint32(e.inodeTable),
				FreeBlocksCountLo: uint16(e.freeBlocks),
				FreeInodesCountLo: uint16(e.freeInodes),
				UsedDirsCountLo:   uint16(e.usedDirs),
				Flags:             e.flags,
				ItableUnusedLo:    uint16(e.itableUnused),
			},
			BlockBitmapHi:     uint32(e.blockBitmap >> 32),
			InodeBitmapHi:     uint32(e.inodeBitmap >> 32),
			InodeTableHi:      uint32(e.inodeTable >> 32),
			FreeBlocksCountHi: uint16(e.freeBlocks >> 16),
			FreeInodesCountHi: uint16(e.freeInodes >> 16),
			UsedDirsCountHi:   uint16(e.usedDirs >> 16),
			ItableUnusedHi:    uint16(e.itableUnused >> 16),
		}
		err := binary.Write(buf, binary.LittleEndian, &raw)
		return buf.Bytes(), err
	}

	raw := rawGroupDescriptor32{
		BlockBitmapLo:     uint32(e.blockBitmap),
		InodeBitmapLo:     uint32(e.inodeBitmap),
		InodeTableLo:      uint32(e.inodeTable),
		FreeBlocksCountLo: uint16(e.freeBlocks),
		FreeInodesCountLo: uint16(e.freeInodes),
		UsedDirsCountLo:   uint16(e.usedDirs),
		Flags:             e.flags,
		ItableUnusedLo:    uint16(e.itableUnused),
	}
	err := binary.Write(buf, binary.LittleEndian, &raw)
	return buf.Bytes(), err
}

// Writeback writes back every dirty group descriptor. Mirrors
// super_group_writeback's dirty-gated loop.
func (g *GroupTable) Writeback(w interface{ Write(int64, []byte) (int, error) }) error {
	descSize := g.sb.DescriptorSize()
	sbBlock := int64(1)
	if g.sb.BlockSize() != MinBlockSize {
		sbBlock = MinBlockSize / g.sb.BlockSize()
		if sbBlock < 1 {
			sbBlock = 1
		}
	}

	for i := range g.entries {
		if !g.entries[i].dirty {
			continue
		}
		blk := g.sb.descriptorLoc(sbBlock, int64(i)/g.sb.DescriptorsPerBlock())
		off := blk<<uint(g.sb.BlockSizeBits()) + descSize*(int64(i)%g.sb.DescriptorsPerBlock())

		buf, err := encodeGroupDescriptor(g.entries[i], descSize)
		if err != nil {
			return errors.Wrapf(err, "encoding group descriptor %d", i)
		}
		if _, err := w.Write(off, buf); err != nil {
			return errors.Wrapf(err, "writing group descriptor %d", i)
		}
		g.entries[i].dirty = false
	}
	return nil
}

// Dirty returns the indices of every group descriptor pending write-back.
func (g *GroupTable) Dirty() []int {
	var idx []int
	for i := range g.entries {
		if g.entries[i].dirty {
			idx = append(idx, i)
		}
	}
	return idx
}

// NGroups returns the number of block groups in the table.
func (g *GroupTable) NGroups() int64 { return int64(len(g.entries)) }

func (g *GroupTable) BlockBitmap(group int64) int64 { return g.entries[group].blockBitmap }
func (g *GroupTable) SetBlockBitmap(group int64, block int64) {
	g.entries[group].blockBitmap = block
	g.entries[group].dirty = true
}

func (g *GroupTable) InodeBitmap(group int64) int64 { return g.entries[group].inodeBitmap }
func (g *GroupTable) SetInodeBitmap(group int64, block int64) {
	g.entries[group].inodeBitmap = block
	g.entries[group].dirty = true
}

func (g *GroupTable) InodeTable(group int64) int64 { return g.entries[group].inodeTable }
func (g *GroupTable) SetInodeTable(group int64, block int64) {
	g.entries[group].inodeTable = block
	g.entries[group].dirty = true
}

func (g *GroupTable) FreeBlocksCount(group int64) int64 { return g.entries[group].freeBlocks }
func (g *GroupTable) SetFreeBlocksCount(group int64, v int64) {
	g.entries[group].freeBlocks = v
	g.entries[group].dirty = true
}

func (g *GroupTable) FreeInodesCount(group int64) int64 { return g.entries[group].freeInodes }
func (g *GroupTable) SetFreeInodesCount(group int64, v int64) {
	g.entries[group].freeInodes = v
	g.entries[group].dirty = true
}

func (g *GroupTable) UsedDirsCount(group int64) int64 { return g.entries[group].usedDirs }
func (g *GroupTable) SetUsedDirsCount(group int64, v int64) {
	g.entries[group].usedDirs = v
	g.entries[group].dirty = true
}

func (g *GroupTable) ItableUnusedCount(group int64) int64 { return g.entries[group].itableUnused }
func (g *GroupTable) SetItableUnusedCount(group int64, v int64) {
	g.entries[group].itableUnused = v
	g.entries[group].dirty = true
}

func (g *GroupTable) Flags(group int64) uint16 { return g.entries[group].flags }
func (g *GroupTable) SetFlags(group int64, flags uint16) {
	g.entries[group].flags = flags
	g.entries[group].dirty = true
}

func (g *GroupTable) HasFlag(group int64, flag uint16) bool {
	return g.entries[group].flags&flag != 0
}

func (g *GroupTable) ClearFlag(group int64, flag uint16) {
	g.entries[group].flags &^= flag
	g.entries[group].dirty = true
}

// Dump renders every group descriptor entry for diagnostics.
func (g *GroupTable) Dump() string {
	return spew.Sdump(g.entries)
}

// GetGroupNoAndOffset splits an absolute block number into its owning
// group and the block's offset within that group. Mirrors
// ext4_get_group_no_and_offset.
func (sb *Superblock) GetGroupNoAndOffset(block int64) (group, offset int64) {
	b := block - sb.FirstDataBlock()
	return b / sb.BlocksPerGroup(), b % sb.BlocksPerGroup()
}

// BlockInGroup reports whether block lies within block group group.
func (sb *Superblock) BlockInGroup(block, group int64) bool {
	g, _ := sb.GetGroupNoAndOffset(block)
	return g == group
}

// GroupBlocks returns the number of blocks that actually belong to group
// g, which is BlocksPerGroup except possibly for the last group, which
// may be short.
func (sb *Superblock) GroupBlocks(g int64) int64 {
	if g+1 == sb.NBlockGroups() {
		return sb.BlocksCount() - sb.FirstDataBlock() - g*sb.BlocksPerGroup()
	}
	return sb.BlocksPerGroup()
}
