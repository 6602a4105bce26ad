package ext4buf

import "testing"

type memDevice struct {
	data  []byte
	order []int64 // byte offsets of WriteRaw calls, in call order
}

func newMemDevice(size int) *memDevice {
	return &memDevice{data: make([]byte, size)}
}

func (m *memDevice) ReadRaw(where int64, p []byte) (int, error) {
	return copy(p, m.data[where:]), nil
}

func (m *memDevice) WriteRaw(where int64, p []byte) (int, error) {
	m.order = append(m.order, where)
	return copy(m.data[where:], p), nil
}

func TestBreadCachesAndReuses(t *testing.T) {
	dev := newMemDevice(4096 * 4)
	dev.data[4096] = 0xAB

	c := New(dev, 4096, nil)

	bh, err := c.Bread(1)
	if err != nil {
		t.Fatal(err)
	}
	if bh.Data[0] != 0xAB {
		t.Errorf("expected block read from device")
	}
	c.Brelse(bh)

	dev.data[4096] = 0xFF // mutate underlying device after caching

	bh2, err := c.Bread(1)
	if err != nil {
		t.Fatal(err)
	}
	if bh2.Data[0] != 0xAB {
		t.Errorf("second Bread should reuse cached buffer, got %x", bh2.Data[0])
	}
	c.Brelse(bh2)
}

func TestBwriteDoesNotReadDevice(t *testing.T) {
	dev := newMemDevice(4096)
	dev.data[0] = 0x11

	c := New(dev, 4096, nil)
	bh := c.Bwrite(0)
	if bh.Uptodate {
		t.Errorf("Bwrite should not mark the buffer uptodate from disk contents")
	}
	c.Brelse(bh)
}

func TestMarkDirtyAndFlush(t *testing.T) {
	dev := newMemDevice(4096 * 2)
	c := New(dev, 4096, nil)

	bh := c.Bwrite(1)
	copy(bh.Data, []byte("dirty block"))
	bh.MarkDirty()
	c.Brelse(bh)

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	if string(dev.data[4096:4096+11]) != "dirty block" {
		t.Errorf("flush did not write dirty buffer back to device")
	}
}

func TestFlushIsOrderedAscending(t *testing.T) {
	dev := newMemDevice(4096 * 3)
	c := New(dev, 4096, nil)

	for _, b := range []uint64{2, 0, 1} {
		bh := c.Bwrite(b)
		bh.Data[0] = byte(b) + 1
		bh.MarkDirty()
		c.Brelse(bh)
	}

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	for b := uint64(0); b < 3; b++ {
		if dev.data[int64(b)*4096] != byte(b)+1 {
			t.Errorf("block %d not flushed correctly", b)
		}
	}

	want := []int64{0, 4096, 8192}
	if len(dev.order) != len(want) {
		t.Fatalf("expected %d write-backs, got %v", len(want), dev.order)
	}
	for i := range want {
		if dev.order[i] != want[i] {
			t.Errorf("write-back order: got %v want %v", dev.order, want)
			break
		}
	}
}

func TestBforgetDropsDirty(t *testing.T) {
	dev := newMemDevice(4096)
	c := New(dev, 4096, nil)

	bh := c.Bwrite(0)
	bh.MarkDirty()
	c.Bforget(bh)

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}
	for _, b := range dev.data {
		if b != 0 {
			t.Errorf("forgotten buffer should not have been written back")
			break
		}
	}
}
