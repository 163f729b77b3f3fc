//go:build linux

package coordinator

import (
	"fmt"

	"github.com/sfs-coordinator/internal/ipc"
	"github.com/sfs-coordinator/internal/region"
)

// On linux the defaults give real cross-process coordination: regions are
// files under /dev/shm mapped MAP_SHARED, and the lock is a futex over the
// region header.
func defaultProvider() region.Provider {
	return region.NewShmProvider("")
}

func defaultLockFactory() LockFactory {
	return func(_ int, r *region.Region) ipc.Lock {
		return ipc.NewFutexLock(r)
	}
}

// LockFactoryFor resolves a configured locker name.
func LockFactoryFor(kind string) (LockFactory, error) {
	switch kind {
	case "futex", "":
		return defaultLockFactory(), nil
	case "local":
		return func(key int, _ *region.Region) ipc.Lock {
			return ipc.LocalForKey(key)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported locker type: %s", kind)
	}
}
