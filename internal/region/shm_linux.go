//go:build linux

package region

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// DefaultShmDir is where region backing files live.
const DefaultShmDir = "/dev/shm"

// ShmProvider backs regions with files mapped MAP_SHARED, so independent OS
// processes attaching the same key operate on the same physical pages.
type ShmProvider struct {
	dir string
}

// NewShmProvider creates a provider storing backing files under dir.
// An empty dir selects /dev/shm.
func NewShmProvider(dir string) *ShmProvider {
	if dir == "" {
		dir = DefaultShmDir
	}
	return &ShmProvider{dir: dir}
}

// Path returns the backing file path for a key.
func (p *ShmProvider) Path(key int) string {
	return filepath.Join(p.dir, fmt.Sprintf("sfs-region-%d", key))
}

// Attach maps the region for key, creating the backing file if needed.
func (p *ShmProvider) Attach(key int, size int) (*Region, error) {
	if size < MinSize {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "region too small",
			fmt.Errorf("%d bytes, need at least %d", size, MinSize))
	}

	path := p.Path(key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "failed to open region file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "failed to stat region file", err)
	}
	if info.Size() == 0 {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "failed to size region file", err)
		}
	} else if info.Size() != int64(size) {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "region size mismatch",
			fmt.Errorf("key %d exists with %d bytes, requested %d", key, info.Size(), size))
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "mmap failed", err)
	}

	return newRegion(buf, func() error { return unix.Munmap(buf) }), nil
}

// Unlink removes the backing file. Existing mappings survive until unmapped.
func (p *ShmProvider) Unlink(key int) error {
	if err := os.Remove(p.Path(key)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.CodeRegionError, "failed to unlink region", err)
	}
	return nil
}
