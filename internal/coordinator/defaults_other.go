//go:build !linux

package coordinator

import (
	"fmt"

	"github.com/sfs-coordinator/internal/ipc"
	"github.com/sfs-coordinator/internal/region"
)

// Without futexes and /dev/shm the defaults fall back to in-process
// coordination; cross-process use is a linux feature.
func defaultProvider() region.Provider {
	return region.NewMemoryProvider()
}

func defaultLockFactory() LockFactory {
	return func(key int, _ *region.Region) ipc.Lock {
		return ipc.LocalForKey(key)
	}
}

// LockFactoryFor resolves a configured locker name.
func LockFactoryFor(kind string) (LockFactory, error) {
	switch kind {
	case "local", "":
		return defaultLockFactory(), nil
	case "futex":
		return nil, fmt.Errorf("futex locker requires linux")
	default:
		return nil, fmt.Errorf("unsupported locker type: %s", kind)
	}
}
