package ext4disk

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

type loopbackCache struct {
	disk *Disk
}

func (l *loopbackCache) ReadThrough(where int64, p []byte) (int, error) {
	return l.disk.ReadRaw(where, p)
}

func (l *loopbackCache) WriteThrough(where int64, p []byte) (int, error) {
	return l.disk.WriteRaw(where, p)
}

func tempDisk(t *testing.T, size int64) *Disk {
	t.Helper()
	f, err := ioutil.TempFile("", "ext4disk-*.img")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()

	d, err := Open(f.Name(), logrus.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	d.Attach(&loopbackCache{disk: d})
	return d
}

func TestDiskReadWriteRoundTrip(t *testing.T) {
	d := tempDisk(t, 1<<20)

	want := []byte("hello, ext4")
	if _, err := d.Write(512, want); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	if _, err := d.Read(512, got); err != nil {
		t.Fatal(err)
	}

	if string(got) != string(want) {
		t.Errorf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestDiskZeroSizeIsNotAnError(t *testing.T) {
	d := tempDisk(t, 1<<16)

	n, err := d.Read(0, nil)
	if err != nil || n != 0 {
		t.Errorf("zero-size read should be a no-op, got n=%d err=%v", n, err)
	}

	n, err = d.Write(0, nil)
	if err != nil || n != 0 {
		t.Errorf("zero-size write should be a no-op, got n=%d err=%v", n, err)
	}
}

func TestCursorTruncatesToRemaining(t *testing.T) {
	d := tempDisk(t, 1<<16)
	c := NewCursor(d, 0, 16, 2) // 32 bytes total

	n, err := c.Write(make([]byte, 40))
	if err != nil {
		t.Fatal(err)
	}
	if n != 32 {
		t.Errorf("cursor write should truncate to remaining bytes, got %d", n)
	}

	if c.Remaining() != 0 {
		t.Errorf("cursor should be exhausted, has %d remaining", c.Remaining())
	}

	n, err = c.Write([]byte{1})
	if err != nil || n != 0 {
		t.Errorf("write through an exhausted cursor should be a non-fatal no-op, got n=%d err=%v", n, err)
	}
}
