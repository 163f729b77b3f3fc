package region

import (
	"fmt"
	"sync"

	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// NewProvider builds a Provider from its configured name: "memory" or
// "shm". The shm provider only exists on linux.
func NewProvider(kind string) (Provider, error) {
	switch kind {
	case "memory":
		return NewMemoryProvider(), nil
	case "shm", "":
		return newPlatformShmProvider()
	default:
		return nil, fmt.Errorf("unsupported region provider: %s", kind)
	}
}

// MemoryProvider keeps regions as plain in-process byte slices keyed by int.
// All attachments for a key share one slice, so goroutine participants in a
// single process observe the same region. Used by tests and the in-process
// demo; real multi-process deployments use the shm provider.
type MemoryProvider struct {
	mu      sync.Mutex
	regions map[int][]byte
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{regions: make(map[int][]byte)}
}

// Attach returns the region for key, creating it if needed.
func (p *MemoryProvider) Attach(key int, size int) (*Region, error) {
	if size < MinSize {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "region too small",
			fmt.Errorf("%d bytes, need at least %d", size, MinSize))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.regions[key]
	if !ok {
		buf = make([]byte, size)
		p.regions[key] = buf
	}
	if len(buf) != size {
		return nil, apperrors.Wrap(apperrors.CodeAttachFailed, "region size mismatch",
			fmt.Errorf("key %d exists with %d bytes, requested %d", key, len(buf), size))
	}

	return newRegion(buf, nil), nil
}

// Unlink forgets the region for key.
func (p *MemoryProvider) Unlink(key int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.regions, key)
	return nil
}
