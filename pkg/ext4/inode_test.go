package ext4

import "testing"

const testBlockSizeBits = 10 // 1024-byte blocks

func TestExtInodeBlocksRoundTripSmall(t *testing.T) {
	n := &RawInode{}
	n.SetExtInodeBlocks(100, testBlockSizeBits)

	if got := n.ExtInodeBlocks(testBlockSizeBits); got != 100 {
		t.Errorf("got %d want 100", got)
	}
	if n.raw.Flags&InodeFlagHugeFile != 0 {
		t.Error("small block counts must not set HUGE_FILE")
	}
}

func TestExtInodeBlocksRoundTripHuge(t *testing.T) {
	n := &RawInode{}
	// A count whose equivalent sector count overflows 32 bits forces the
	// HUGE_FILE representation.
	huge := int64(1) << 31
	n.SetExtInodeBlocks(huge, testBlockSizeBits)

	if n.raw.Flags&InodeFlagHugeFile == 0 {
		t.Fatal("expected HUGE_FILE to be set for an oversized block count")
	}
	if got := n.ExtInodeBlocks(testBlockSizeBits); got != huge {
		t.Errorf("got %d want %d", got, huge)
	}
}

func TestExtInodeBlocksHugeFileBoundary(t *testing.T) {
	n := &RawInode{}
	// Largest block count whose sector count (blocks << 1 for 1KiB
	// blocks) still fits in 32 bits.
	maxSmall := int64(1)<<32 - 1
	maxSmall >>= uint(testBlockSizeBits - 9)
	n.SetExtInodeBlocks(maxSmall, testBlockSizeBits)

	if n.raw.Flags&InodeFlagHugeFile != 0 {
		t.Fatal("boundary count should still fit the non-huge representation")
	}
	if got := n.ExtInodeBlocks(testBlockSizeBits); got != maxSmall {
		t.Errorf("got %d want %d", got, maxSmall)
	}
}

func TestInodeEncodeDecodeRoundTrip(t *testing.T) {
	n := &RawInode{}
	n.SetSize(123456)
	n.SetExtInodeBlocks(42, testBlockSizeBits)

	buf, err := n.Encode(128)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 128 {
		t.Fatalf("encoded inode length: got %d want 128", len(buf))
	}

	n2, err := DecodeInode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n2.Size() != 123456 {
		t.Errorf("Size: got %d want 123456", n2.Size())
	}
	if got := n2.ExtInodeBlocks(testBlockSizeBits); got != 42 {
		t.Errorf("ExtInodeBlocks: got %d want 42", got)
	}
}

type memInodeTable struct {
	records map[int64][]byte
	size    int
}

func newMemInodeTable(size int) *memInodeTable {
	return &memInodeTable{records: make(map[int64][]byte), size: size}
}

func (m *memInodeTable) ReadInode(ino int64) ([]byte, error) {
	if buf, ok := m.records[ino]; ok {
		return buf, nil
	}
	return make([]byte, m.size), nil
}

func (m *memInodeTable) WriteInode(ino int64, buf []byte) error {
	cp := append([]byte(nil), buf...)
	m.records[ino] = cp
	return nil
}

func TestInodeHandleLifecycle(t *testing.T) {
	rd := newMemInodeTable(128)

	h, err := InodeGet(rd, RootDirInode, 128)
	if err != nil {
		t.Fatal(err)
	}
	h.SetSize(4096)
	h.Raw().SetExtInodeBlocks(4, testBlockSizeBits)
	h.MarkDirty()

	if err := h.Put(); err != nil {
		t.Fatal(err)
	}

	if _, ok := rd.records[RootDirInode]; !ok {
		t.Fatal("Put on a dirty handle must write the record back")
	}

	h2, err := InodeGet(rd, RootDirInode, 128)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Raw().Size() != 4096 {
		t.Errorf("reloaded inode size: got %d want 4096", h2.Raw().Size())
	}
	if got := h2.Raw().ExtInodeBlocks(testBlockSizeBits); got != 4 {
		t.Errorf("reloaded inode blocks: got %d want 4", got)
	}
}

func TestInodeHandlePutIsNoOpWhenClean(t *testing.T) {
	rd := newMemInodeTable(128)

	h, err := InodeGet(rd, RootDirInode, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Put(); err != nil {
		t.Fatal(err)
	}
	if _, ok := rd.records[RootDirInode]; ok {
		t.Error("Put on a clean handle must not write anything")
	}
}
