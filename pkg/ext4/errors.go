package ext4

import "errors"

// Sentinel errors distinguishing the error-kind taxonomy a caller needs
// to react to: out of space, a volume that isn't ext4 at all, an
// allocation/free touching a group whose bitmap isn't initialized, and
// use of a filesystem context before/after it's valid.
var (
	ErrNoSpace             = errors.New("ext4: no space left on device")
	ErrNotExt4             = errors.New("ext4: bad superblock magic")
	ErrUninitializedGroup  = errors.New("ext4: operation on uninitialized block group")
	ErrCacheNotInitialized = errors.New("ext4: buffer cache not initialized")
	ErrClosed              = errors.New("ext4: filesystem is unmounted")
)
