package ext4buf

// ReadThrough performs a positioned read of len(p) bytes starting at
// where, segmenting the request into a head partial block, zero or more
// whole middle blocks, and a tail partial block, exactly as the
// original's pread_buffered does. Each segment goes through Bread so
// unread blocks get faulted into the cache and already-cached blocks are
// served from memory.
func (c *Cache) ReadThrough(where int64, p []byte) (int, error) {
	bs := int64(c.blockSize)
	var total int

	firstOffset := where % bs
	if firstOffset != 0 {
		bh, err := c.Bread(uint64((where - firstOffset) / bs))
		if err != nil {
			return total, err
		}
		n := min64(int64(len(p)), bs-firstOffset)
		copy(p[:n], bh.Data[firstOffset:firstOffset+n])
		c.Brelse(bh)

		p = p[n:]
		where += n
		total += int(n)
		if len(p) == 0 {
			return total, nil
		}
	}

	for int64(len(p)) >= bs {
		bh, err := c.Bread(uint64(where / bs))
		if err != nil {
			return total, err
		}
		copy(p[:bs], bh.Data)
		c.Brelse(bh)
		p = p[bs:]
		where += bs
		total += int(bs)
	}
	if len(p) == 0 {
		return total, nil
	}

	bh, err := c.Bread(uint64(where / bs))
	if err != nil {
		return total, err
	}
	copy(p, bh.Data[:len(p)])
	c.Brelse(bh)
	total += len(p)

	return total, nil
}

// WriteThrough performs a positioned write of len(p) bytes starting at
// where, using the same head/middle/tail segmentation as ReadThrough.
// Head and tail partial blocks are read first (via Bread) so the
// untouched portion of the block is preserved; whole middle blocks are
// claimed via Bwrite since they will be fully overwritten. Every touched
// buffer is marked dirty; write-back happens later via Cache.Flush.
func (c *Cache) WriteThrough(where int64, p []byte) (int, error) {
	bs := int64(c.blockSize)
	var total int

	firstOffset := where % bs
	if firstOffset != 0 {
		bh, err := c.Bread(uint64((where - firstOffset) / bs))
		if err != nil {
			return total, err
		}
		n := min64(int64(len(p)), bs-firstOffset)
		copy(bh.Data[firstOffset:firstOffset+n], p[:n])
		bh.MarkDirty()
		c.Brelse(bh)

		p = p[n:]
		where += n
		total += int(n)
		if len(p) == 0 {
			return total, nil
		}
	}

	for int64(len(p)) >= bs {
		bh := c.Bwrite(uint64(where / bs))
		copy(bh.Data, p[:bs])
		bh.MarkDirty()
		c.Brelse(bh)

		p = p[bs:]
		where += bs
		total += int(bs)
	}

	if len(p) == 0 {
		return total, nil
	}

	bh, err := c.Bread(uint64(where / bs))
	if err != nil {
		return total, err
	}
	copy(bh.Data[:len(p)], p)
	bh.MarkDirty()
	c.Brelse(bh)
	total += len(p)

	return total, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
