package ext4

import (
	"bytes"
	"encoding/binary"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Superblock wraps the raw on-disk superblock record behind an
// encapsulated, dirty-tracked accessor/setter surface: every mutation
// goes through a setter that flips dirty, closing the "who forgot to
// mark this dirty" gap the bare on-disk struct leaves open.
type Superblock struct {
	raw   rawSuperblock
	dirty bool
	log   logrus.FieldLogger
}

// NewSuperblock constructs an empty Superblock manager; call Fill to
// populate it from a device.
func NewSuperblock(log logrus.FieldLogger) *Superblock {
	return &Superblock{log: log}
}

// Fill reads the superblock from the device at BootSectorOffset.
// Mirrors super_fill's disk_read(BOOT_SECTOR_SIZE, sizeof(...)).
func (s *Superblock) Fill(r interface{ Read(int64, []byte) (int, error) }) error {
	buf := make([]byte, binary.Size(s.raw))
	if _, err := r.Read(BootSectorOffset, buf); err != nil {
		return errors.Wrap(err, "reading superblock")
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &s.raw); err != nil {
		return errors.Wrap(err, "decoding superblock")
	}
	if s.raw.Magic != Magic {
		return ErrNotExt4
	}
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"blocks":      s.BlocksCount(),
			"block_size":  s.BlockSize(),
			"groups":      s.NBlockGroups(),
			"inodes":      s.raw.InodesCount,
			"desc_size":   s.DescriptorSize(),
		}).Info("superblock geometry")
	}
	return nil
}

// Writeback writes the superblock back to the device if it is dirty.
// Mirrors super_writeback's dirty-gated disk_write.
func (s *Superblock) Writeback(w interface{ Write(int64, []byte) (int, error) }) error {
	if !s.dirty {
		return nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &s.raw); err != nil {
		return errors.Wrap(err, "encoding superblock")
	}
	if _, err := w.Write(BootSectorOffset, buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing superblock")
	}
	s.dirty = false
	return nil
}

func (s *Superblock) Dirty() bool { return s.dirty }

// --- derived geometry -------------------------------------------------

// BlockSize returns the filesystem block size in bytes: 1 << (10 + s_log_block_size).
func (s *Superblock) BlockSize() int64 {
	return 1 << (10 + s.raw.LogBlockSize)
}

// BlockSizeBits returns log2(BlockSize()).
func (s *Superblock) BlockSizeBits() int64 {
	return 10 + int64(s.raw.LogBlockSize)
}

// FirstDataBlock returns the block number of the first block usable for
// data (1 for 1KiB block size, 0 otherwise).
func (s *Superblock) FirstDataBlock() int64 {
	return int64(s.raw.FirstDataBlock)
}

// BlocksPerGroup returns the number of blocks in each block group.
func (s *Superblock) BlocksPerGroup() int64 {
	return int64(s.raw.BlocksPerGroup)
}

// InodesPerGroup returns the number of inodes in each block group.
func (s *Superblock) InodesPerGroup() int64 {
	return int64(s.raw.InodesPerGroup)
}

// InodeSize returns the size in bytes of one on-disk inode record.
func (s *Superblock) InodeSize() int64 {
	return int64(s.raw.InodeSize)
}

// InodesPerBlock returns the number of inode records that fit in one block.
func (s *Superblock) InodesPerBlock() int64 {
	return s.BlockSize() / s.InodeSize()
}

// ItbPerGroup returns the number of blocks occupied by one group's inode table.
func (s *Superblock) ItbPerGroup() int64 {
	return divide(s.InodesPerGroup(), s.InodesPerBlock())
}

// DescriptorSize returns the size of one group descriptor record:
// EXT4_MIN_DESC_SIZE when s_desc_size is zero (pre-64bit-feature volumes),
// otherwise the stored value.
func (s *Superblock) DescriptorSize() int64 {
	if s.raw.DescSize == 0 {
		return MinDescriptorSize
	}
	return int64(s.raw.DescSize)
}

// DescriptorsPerBlock returns how many group descriptors fit in one block.
func (s *Superblock) DescriptorsPerBlock() int64 {
	return s.BlockSize() / s.DescriptorSize()
}

// NBlockGroups returns the total number of block groups, ceil(blocks_count / blocks_per_group).
func (s *Superblock) NBlockGroups() int64 {
	return divide(s.BlocksCount(), s.BlocksPerGroup())
}

func (s *Superblock) HasIncompatFeature(flag uint32) bool {
	return s.raw.FeatureIncompat&flag != 0
}

func (s *Superblock) HasROCompatFeature(flag uint32) bool {
	return s.raw.FeatureROCompat&flag != 0
}

func (s *Superblock) HasCompatFeature(flag uint32) bool {
	return s.raw.FeatureCompat&flag != 0
}

// --- counts (lo/hi combine, each setter flips dirty) -------------------

func (s *Superblock) BlocksCount() int64 {
	return int64(s.raw.BlocksCountHi)<<32 | int64(s.raw.BlocksCountLo)
}

func (s *Superblock) SetBlocksCount(v int64) {
	s.raw.BlocksCountLo = uint32(v)
	s.raw.BlocksCountHi = uint32(v >> 32)
	s.dirty = true
}

func (s *Superblock) RBlocksCount() int64 {
	return int64(s.raw.RBlocksCountHi)<<32 | int64(s.raw.RBlocksCountLo)
}

func (s *Superblock) SetRBlocksCount(v int64) {
	s.raw.RBlocksCountLo = uint32(v)
	s.raw.RBlocksCountHi = uint32(v >> 32)
	s.dirty = true
}

func (s *Superblock) FreeBlocksCount() int64 {
	return int64(s.raw.FreeBlocksCountHi)<<32 | int64(s.raw.FreeBlocksCountLo)
}

func (s *Superblock) SetFreeBlocksCount(v int64) {
	s.raw.FreeBlocksCountLo = uint32(v)
	s.raw.FreeBlocksCountHi = uint32(v >> 32)
	s.dirty = true
}

func (s *Superblock) FreeInodesCount() int64 {
	return int64(s.raw.FreeInodesCount)
}

func (s *Superblock) SetFreeInodesCount(v int64) {
	s.raw.FreeInodesCount = uint32(v)
	s.dirty = true
}

// UUID returns the volume's 128-bit identifier.
func (s *Superblock) UUID() uuid.UUID {
	id, _ := uuid.FromBytes(s.raw.UUID[:])
	return id
}

// SetUUID overwrites the volume identifier.
func (s *Superblock) SetUUID(id uuid.UUID) {
	copy(s.raw.UUID[:], id[:])
	s.dirty = true
}

// Dump renders every field of the superblock for diagnostics.
func (s *Superblock) Dump() string {
	return spew.Sdump(s.raw)
}

// --- group-geometry helpers (depend only on immutable superblock state) --

// testRoot reports whether a is an integer power of b (a == b^k for some k >= 0).
func testRoot(a, b int64) bool {
	for a > 1 {
		if a%b != 0 {
			return false
		}
		a /= b
	}
	return a == 1
}

// groupSparse reports whether block group g carries a superblock/GDT
// backup under the sparse_super layout: groups 0 and 1 always do; beyond
// that only odd-numbered groups that are a power of 3, 5, or 7.
func groupSparse(g int64) bool {
	if g <= 1 {
		return true
	}
	if g%2 == 0 {
		return false
	}
	return testRoot(g, 7) || testRoot(g, 5) || testRoot(g, 3)
}

// bgHasSuper reports whether block group g carries a superblock/GDT
// backup copy, gated on RO_COMPAT_SPARSE_SUPER.
func (s *Superblock) bgHasSuper(g int64) bool {
	if !s.HasROCompatFeature(FeatureROCompatSparseSuper) {
		return true
	}
	return groupSparse(g)
}

// bgNumGDBNoMeta returns the number of group-descriptor blocks stored in
// group g when META_BG is not in use (every super-carrying group stores
// the complete GDT).
func (s *Superblock) bgNumGDBNoMeta(g int64) int64 {
	gdbBlocks := divide(s.NBlockGroups(), s.DescriptorsPerBlock())
	if !s.bgHasSuper(g) {
		return 0
	}
	return gdbBlocks
}

// bgNumGDBMeta returns the number of group-descriptor blocks stored in
// group g when META_BG is in use: only the first, second, and last
// group of each meta block group carry a GDT block.
func (s *Superblock) bgNumGDBMeta(g int64) int64 {
	metaBG := g / s.DescriptorsPerBlock()
	if metaBG < int64(s.raw.FirstMetaBG) {
		return s.bgNumGDBNoMeta(g)
	}
	first := metaBG * s.DescriptorsPerBlock()
	if g == first || g == first+1 || g == first+s.DescriptorsPerBlock()-1 {
		return 1
	}
	return 0
}

// bgNumGDB returns the number of group-descriptor blocks physically
// stored in block group g.
func (s *Superblock) bgNumGDB(g int64) int64 {
	if s.HasIncompatFeature(FeatureIncompatMetaBG) {
		return s.bgNumGDBMeta(g)
	}
	return s.bgNumGDBNoMeta(g)
}

// descriptorLoc returns the block number of group-descriptor block nr
// (the block holding the descriptors of groups nr*DescriptorsPerBlock()
// onward), given the block where the primary superblock is stored
// (sbBlock).
func (s *Superblock) descriptorLoc(sbBlock, nr int64) int64 {
	if s.HasIncompatFeature(FeatureIncompatMetaBG) && nr >= int64(s.raw.FirstMetaBG) {
		bg := s.DescriptorsPerBlock() * nr
		first := int64(0)
		if s.bgHasSuper(bg) {
			first = 1
		}
		return s.groupFirstBlockNo(bg) + first
	}
	return sbBlock + nr + 1
}

// groupFirstBlockNo returns the block number of the first block in group g.
func (s *Superblock) groupFirstBlockNo(g int64) int64 {
	return s.FirstDataBlock() + g*s.BlocksPerGroup()
}

// groupUsedMetaBlocks returns the number of meta (bitmap/inode-table)
// blocks used by group g's own bookkeeping, subtracted from the group's
// raw block count when computing free blocks during lazy bitmap init.
// Under FLEX_BG a group's block bitmap, inode bitmap, or inode table
// blocks can be packed into a different group's data area; each one
// that is not actually inside g no longer counts against g's own
// metadata overhead. Mirrors ext4_group_used_meta_blocks.
func (s *Superblock) groupUsedMetaBlocks(gt *GroupTable, g int64) int64 {
	metaBlocks := s.ItbPerGroup() + 2

	if !s.HasIncompatFeature(FeatureIncompatFlexBG) {
		return metaBlocks
	}

	if !s.BlockInGroup(gt.BlockBitmap(g), g) {
		metaBlocks--
	}
	if !s.BlockInGroup(gt.InodeBitmap(g), g) {
		metaBlocks--
	}
	itStart := gt.InodeTable(g)
	for tmp := itStart; tmp < itStart+s.ItbPerGroup(); tmp++ {
		if !s.BlockInGroup(tmp, g) {
			metaBlocks--
		}
	}
	return metaBlocks
}
