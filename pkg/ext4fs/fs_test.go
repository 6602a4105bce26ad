package ext4fs

import (
	"encoding/binary"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-ext4/ext4core/pkg/ext4"
)

// buildTestImage writes a minimal, single-group, 1024-byte-block ext4
// superblock and group descriptor directly at their documented on-disk
// offsets, producing a 4MiB volume a real mount can bring up end to end.
func buildTestImage(t *testing.T) string {
	t.Helper()

	const (
		blockSize   = 1024
		blocksCount = 4096
		freeBlocks  = 4075 // group blocks 4095 - reserved prefix 2 (superblock, GDT) - meta blocks 18
	)

	f, err := ioutil.TempFile("", "ext4fs-*.img")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })
	require.NoError(t, f.Truncate(blocksCount*blockSize))

	sbBuf := make([]byte, blockSize)
	le := binary.LittleEndian
	le.PutUint32(sbBuf[0x00:], 128)          // s_inodes_count
	le.PutUint32(sbBuf[0x04:], blocksCount)  // s_blocks_count_lo
	le.PutUint32(sbBuf[0x0C:], freeBlocks)   // s_free_blocks_count_lo
	le.PutUint32(sbBuf[0x10:], 120)          // s_free_inodes_count
	le.PutUint32(sbBuf[0x14:], 1)            // s_first_data_block
	le.PutUint32(sbBuf[0x18:], 0)            // s_log_block_size -> 1024
	le.PutUint32(sbBuf[0x20:], 8192)         // s_blocks_per_group
	le.PutUint32(sbBuf[0x28:], 128)          // s_inodes_per_group
	le.PutUint16(sbBuf[0x38:], uint16(ext4.Magic))
	le.PutUint16(sbBuf[0x58:], 128)          // s_inode_size
	le.PutUint32(sbBuf[0x64:], ext4.FeatureROCompatSparseSuper)

	_, err = f.WriteAt(sbBuf, ext4.BootSectorOffset)
	require.NoError(t, err)

	gdBuf := make([]byte, 32)
	le.PutUint32(gdBuf[0x0:], 4078) // bg_block_bitmap_lo
	le.PutUint32(gdBuf[0x4:], 4079) // bg_inode_bitmap_lo
	le.PutUint32(gdBuf[0x8:], 4080) // bg_inode_table_lo (4080..4095)
	le.PutUint16(gdBuf[0xC:], freeBlocks)
	le.PutUint16(gdBuf[0xE:], 120)
	le.PutUint16(gdBuf[0x12:], ext4.BGBlockUninit|ext4.BGInodeUninit)

	// group 0's descriptor lives in block 2 (sb block 1 + 1) at offset 0.
	_, err = f.WriteAt(gdBuf, 2*blockSize)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	return f.Name()
}

func TestMountReadsGeometry(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs.Unmount()

	require.EqualValues(t, 1024, fs.Superblock.BlockSize())
	require.EqualValues(t, 1, fs.Groups.NGroups())
	require.EqualValues(t, 4075, fs.Superblock.FreeBlocksCount())
	require.False(t, fs.Groups.IsBlockBitmapInited(0))
}

func TestCheckPassesOnFreshImage(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs.Unmount()

	require.NoError(t, fs.Check(nil))
}

func TestCheckReportsProgress(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs.Unmount()

	var last int64
	err = fs.Check(func(group, total int64) {
		last = group
		require.EqualValues(t, 1, total)
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, last)
}

func TestAllocateThenCheckStillPasses(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs.Unmount()

	_, got, err := fs.Allocator.NewMetaBlocks(0, 20, nil)
	require.NoError(t, err)
	require.EqualValues(t, 20, got)

	require.NoError(t, fs.Check(nil))
}

func TestUnmountWritesBackDirtyState(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)

	_, _, err = fs.Allocator.NewMetaBlocks(0, 5, nil)
	require.NoError(t, err)
	freeAfterAlloc := fs.Superblock.FreeBlocksCount()

	require.NoError(t, fs.Unmount())

	fs2, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs2.Unmount()

	require.Equal(t, freeAfterAlloc, fs2.Superblock.FreeBlocksCount())
	require.True(t, fs2.Groups.IsBlockBitmapInited(0))
}

func TestUnmountTwiceErrors(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	require.NoError(t, fs.Unmount())
	require.Equal(t, ext4.ErrClosed, fs.Unmount())
}

func TestReadOnlyMountDoesNotWriteBack(t *testing.T) {
	path := buildTestImage(t)

	fs, err := Mount(path, MountOptions{ReadOnly: true})
	require.NoError(t, err)

	_, _, err = fs.Allocator.NewMetaBlocks(0, 5, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Unmount())

	fs2, err := Mount(path, MountOptions{})
	require.NoError(t, err)
	defer fs2.Unmount()

	require.False(t, fs2.Groups.IsBlockBitmapInited(0), "read-only unmount must not persist lazy bitmap init")
}
