package ext4

import (
	"github.com/pkg/errors"

	"github.com/go-ext4/ext4core/pkg/ext4buf"
)

// IsBlockBitmapInited reports whether group g's block bitmap has already
// been materialized on disk, i.e. BG_BLOCK_UNINIT is clear.
func (g *GroupTable) IsBlockBitmapInited(group int64) bool {
	return !g.HasFlag(group, BGBlockUninit)
}

// bitMax computes the number of leading bits of group g's block bitmap
// reserved at the start of the group: the superblock backup, the
// group-descriptor blocks stored in the group and, outside the META_BG
// range, the reserved GDT blocks. The group's own block bitmap, inode
// bitmap and inode table are not part of this prefix; InitBlockBitmap
// marks them individually.
func (sb *Superblock) bitMax(gt *GroupTable, group int64) int64 {
	var bitMax int64
	if sb.bgHasSuper(group) {
		bitMax = 1
	}

	if !sb.HasIncompatFeature(FeatureIncompatMetaBG) || group < int64(sb.raw.FirstMetaBG)*sb.DescriptorsPerBlock() {
		if bitMax > 0 {
			bitMax += sb.bgNumGDB(group) + int64(sb.raw.ReservedGDTBlocks)
		}
		return bitMax
	}

	// META_BG region: the group's GDT block (if any) is counted whether or
	// not the group carries a superblock backup; there is no reserve.
	return bitMax + sb.bgNumGDB(group)
}

// InitBlockBitmap computes the initial contents of group g's block
// bitmap into buf (exactly one block's worth of bytes) and returns the
// number of free blocks left in the group after metadata is accounted
// for. Mirrors ext4_init_block_bitmap's full algorithm: mark the
// reserved prefix, mark the group's own block-bitmap/inode-bitmap/
// inode-table blocks (under FLEX_BG only those that lie inside this
// group), then mark the padding beyond the group's real block count via
// MarkBitmapEnd.
func (sb *Superblock) InitBlockBitmap(gt *GroupTable, group int64, buf []byte) int64 {
	for i := range buf {
		buf[i] = 0
	}

	bitMax := sb.bitMax(gt, group)
	groupBlocks := sb.GroupBlocks(group)

	SetBits(buf, 0, bitMax)

	// Set bits for the group's own block bitmap, inode bitmap, and inode
	// table blocks. Without FLEX_BG these always lie in this group and are
	// marked unconditionally. With FLEX_BG, metadata blocks for one group can be stored inside a
	// different group's data area, so each block's membership in this
	// group is checked individually before marking it here.
	first := sb.groupFirstBlockNo(group)
	flexBG := sb.HasIncompatFeature(FeatureIncompatFlexBG)

	if tmp := gt.BlockBitmap(group); !flexBG || sb.BlockInGroup(tmp, group) {
		SetBit(buf, tmp-first)
	}
	if tmp := gt.InodeBitmap(group); !flexBG || sb.BlockInGroup(tmp, group) {
		SetBit(buf, tmp-first)
	}
	itStart := gt.InodeTable(group)
	for tmp := itStart; tmp < itStart+sb.ItbPerGroup(); tmp++ {
		if !flexBG || sb.BlockInGroup(tmp, group) {
			SetBit(buf, tmp-first)
		}
	}

	MarkBitmapEnd(buf, groupBlocks, sb.BlockSize()*8)

	gt.ClearFlag(group, BGBlockUninit)

	return groupBlocks - bitMax - sb.groupUsedMetaBlocks(gt, group)
}

// TryInitBlockBitmap lazily materializes group g's block bitmap on disk
// if it has not been already, updating the group's free-block count to
// match. Mirrors ext4_try_to_init_block_bitmap: check the uninit flag,
// claim the buffer (Bwrite, no read), compute and write the initial
// contents, release.
func TryInitBlockBitmap(cache *ext4buf.Cache, sb *Superblock, gt *GroupTable, group int64) error {
	if gt.IsBlockBitmapInited(group) {
		return nil
	}

	block := gt.BlockBitmap(group)
	if block == 0 {
		return errors.Errorf("group %d has no block bitmap address", group)
	}

	bh := cache.Bwrite(uint64(block))
	free := sb.InitBlockBitmap(gt, group, bh.Data)
	bh.MarkDirty()
	cache.Brelse(bh)

	gt.SetFreeBlocksCount(group, free)
	return nil
}
