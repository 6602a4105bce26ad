package ext4

// Magic is the value stored in Superblock.Signature on every ext2/3/4
// volume.
const Magic = 0xEF53

const (
	BootSectorOffset  = 0x400 // offset of the primary superblock
	MinBlockSize      = 1024
	MinDescriptorSize = 32
	DescriptorSize64  = 64
)

// Feature bits this driver understands or at least must not choke on.
// Compat features never change on-disk layout in a way this driver cares
// about; incompat/ro-compat features gate concrete codepaths below.
const (
	FeatureCompatHasJournal  = 0x0004
	FeatureCompatResizeInode = 0x0010
	FeatureCompatDirIndex    = 0x0020
	FeatureCompatSparseSuper2 = 0x0200

	FeatureIncompatFiletype  = 0x0002
	FeatureIncompatRecover   = 0x0004
	FeatureIncompatMetaBG    = 0x0010
	FeatureIncompatExtents   = 0x0040
	FeatureIncompat64Bit     = 0x0080
	FeatureIncompatFlexBG    = 0x0200
	FeatureIncompatInlineData = 0x8000

	FeatureROCompatSparseSuper = 0x0001
	FeatureROCompatLargeFile   = 0x0002
	FeatureROCompatHugeFile    = 0x0008
	FeatureROCompatGDTCsum     = 0x0010
	FeatureROCompatMetadataCsum = 0x0400
)

// Group descriptor flags (bg_flags).
const (
	BGInodeUninit = 0x1 // BG_INODE_UNINIT
	BGBlockUninit = 0x2 // BG_BLOCK_UNINIT
	BGInodeZeroed = 0x4 // BG_INODE_ZEROED
)

// rawSuperblock is the on-disk layout of the ext4 superblock, written at
// byte offset 0x400 on the device (or replicated at the start of every
// backup group that carries one). Field names and offsets follow the
// documented ext4 on-disk format; unused padding fields preserve exact
// byte width so binary.Read/binary.Write round-trip byte for byte.
type rawSuperblock struct {
	InodesCount      uint32 // 0x0
	BlocksCountLo    uint32
	RBlocksCountLo   uint32
	FreeBlocksCountLo uint32
	FreeInodesCount  uint32 // 0x10
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogClusterSize   uint32
	BlocksPerGroup   uint32 // 0x20
	ClustersPerGroup uint32
	InodesPerGroup   uint32
	MountTime        uint32
	WriteTime        uint32 // 0x30
	MountCount       uint16
	MaxMountCount    uint16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	LastCheck        uint32 // 0x40
	CheckInterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResUID        uint16 // 0x50
	DefResGID        uint16

	FirstIno         uint32 // 0x54
	InodeSize        uint16
	BlockGroupNr     uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32 // 0x60
	FeatureROCompat  uint32
	UUID             [16]byte // 0x68
	VolumeName       [16]byte // 0x78
	LastMounted      [64]byte // 0x88
	AlgorithmUsageBitmap uint32 // 0xC8

	PreallocBlocks    uint8 // 0xCC
	PreallocDirBlocks uint8
	ReservedGDTBlocks uint16
	JournalUUID       [16]byte // 0xD0
	JournalInum       uint32   // 0xE0
	JournalDev        uint32
	LastOrphan        uint32
	HashSeed          [4]uint32 // 0xEC
	DefHashVersion    uint8     // 0xFC
	JnlBackupType     uint8
	DescSize          uint16
	DefaultMountOpts  uint32 // 0x100
	FirstMetaBG       uint32
	MkfsTime          uint32
	JnlBlocks         [17]uint32 // 0x10C

	BlocksCountHi     uint32 // 0x150
	RBlocksCountHi    uint32
	FreeBlocksCountHi uint32
	MinExtraISize     uint16
	WantExtraISize    uint16
	Flags             uint32 // 0x160
	RaidStride        uint16
	MMPInterval       uint16
	MMPBlock          uint64
	RaidStripeWidth   uint32
	LogGroupsPerFlex  uint8
	ChecksumType      uint8
	ReservedPad       uint16
	KBytesWritten     uint64
	SnapshotInum      uint32
	SnapshotID        uint32
	SnapshotRBlocksCount uint64
	SnapshotList      uint32
	ErrorCount        uint32
	FirstErrorTime    uint32
	FirstErrorIno     uint32
	FirstErrorBlock   uint64
	FirstErrorFunc    [32]uint8
	FirstErrorLine    uint32
	LastErrorTime     uint32
	LastErrorIno      uint32
	LastErrorLine     uint32
	LastErrorBlock    uint64
	LastErrorFunc     [32]uint8
	MountOpts         [64]uint8 // 0x200
	UserQuotaInum     uint32
	GroupQuotaInum    uint32
	OverheadBlocks    uint32
	BackupBGs         [2]uint32
	EncryptAlgos      [4]uint8
	EncryptPwSalt     [16]uint8
	LPFIno            uint32
	ProjQuotaInum     uint32
	ChecksumSeed      uint32
	_                 [98]uint32
	Checksum          uint32
} // 0x400 bytes total

// rawGroupDescriptor32 is the 32-byte group descriptor, used when
// s_desc_size is zero or EXT4_MIN_DESC_SIZE (32).
type rawGroupDescriptor32 struct {
	BlockBitmapLo     uint32 // 0x0
	InodeBitmapLo     uint32 // 0x4
	InodeTableLo      uint32 // 0x8
	FreeBlocksCountLo uint16 // 0xC
	FreeInodesCountLo uint16 // 0xE
	UsedDirsCountLo   uint16 // 0x10
	Flags             uint16 // 0x12
	ExcludeBitmapLo   uint32 // 0x14
	BlockBitmapCsumLo uint16 // 0x18
	InodeBitmapCsumLo uint16 // 0x1A
	ItableUnusedLo    uint16 // 0x1C
	Checksum          uint16 // 0x1E
} // 0x20 bytes

// rawGroupDescriptor64 is the full 64-byte group descriptor, used when
// s_desc_size >= 64 (INCOMPAT_64BIT).
type rawGroupDescriptor64 struct {
	rawGroupDescriptor32
	BlockBitmapHi     uint32 // 0x20
	InodeBitmapHi     uint32 // 0x24
	InodeTableHi      uint32 // 0x28
	FreeBlocksCountHi uint16 // 0x2C
	FreeInodesCountHi uint16 // 0x2E
	UsedDirsCountHi   uint16 // 0x30
	ItableUnusedHi    uint16 // 0x32
	ExcludeBitmapHi   uint32 // 0x34
	BlockBitmapCsumHi uint16 // 0x38
	InodeBitmapCsumHi uint16 // 0x3A
	_                 uint32 // 0x3C
} // 0x40 bytes
